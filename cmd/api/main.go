package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"wolfroute/internal/api"
	"wolfroute/internal/buildinfo"
	"wolfroute/internal/config"
	"wolfroute/internal/logging"
	"wolfroute/internal/metrics"
)

func main() {
	cfg, err := config.Resolve(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log := logging.New(os.Stderr, cfg.LogVerbosity, cfg.LogJSON)
	log.Info("starting", "build", buildinfo.Info(), "config", cfg.Redacted())
	metrics.RegisterDefault()

	srv, err := api.NewServer(cfg, log)
	if err != nil {
		logging.Fatal(log, err, "failed to init server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if n, err := srv.Jobs.Recover(ctx); err != nil {
		log.Error(err, "recover interrupted jobs")
	} else if n > 0 {
		log.Info("marked interrupted jobs failed", "count", n)
	}
	if res := srv.Ingest.AutoIngest(ctx, cfg.DataDirs); res.TotalIngested > 0 {
		log.Info("ingested datasets", "count", res.TotalIngested, "failed", res.TotalFailed)
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("API listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return srv.NewWebhookWorker().Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		herr := httpSrv.Shutdown(sctx)
		jerr := srv.Shutdown(sctx)
		return errors.Join(herr, jerr)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal(log, err, "server error")
	}
	log.Info("stopped")
}
