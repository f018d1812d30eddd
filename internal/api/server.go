package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	"wolfroute/internal/config"
	"wolfroute/internal/ingest"
	"wolfroute/internal/jobs"
	"wolfroute/internal/store"
	"wolfroute/internal/webhooks"
)

type Server struct {
	Cfg    config.Config
	Store  store.Store
	Jobs   *jobs.Coordinator
	Pub    *webhooks.Publisher
	Broker EventBroker
	Ingest *ingest.Ingester
	Log    logr.Logger

	limiter     *rate.Limiter
	closers     []func() error
	closeBroker func() error
}

// NewServer wires the store, event broker and job coordinator from cfg.
// Without a database URL the in-memory store is used.
func NewServer(cfg config.Config, log logr.Logger) (*Server, error) {
	s := &Server{Cfg: cfg, Log: log.WithName("api")}

	var base store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		base = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := pg.MigrateDir(cfg.MigrationsDir); err != nil {
				_ = pg.Close()
				return nil, err
			}
		}
		s.closers = append(s.closers, pg.Close)
		base = pg
	}
	s.Store = base
	if cfg.DatasetCacheTTL > 0 {
		cached := store.NewCached(base, cfg.DatasetCacheTTL, uint64(cfg.DatasetCacheSize))
		s.closers = append(s.closers, func() error { cached.Close(); return nil })
		s.Store = cached
	}

	if cfg.RedisURL != "" {
		rb, err := NewRedisBroker(cfg.RedisURL)
		if err != nil {
			s.Log.Error(err, "redis broker unavailable, using in-process broker")
			s.Broker = NewBroker()
		} else {
			s.closeBroker = rb.Close
			s.Broker = rb
		}
	} else {
		s.Broker = NewBroker()
	}

	s.Pub = webhooks.NewPublisher(s.Store, log)
	s.Ingest = &ingest.Ingester{Store: s.Store, Log: log.WithName("ingest")}
	s.Jobs = jobs.New(s.Store, jobs.Datasets(s.Store), jobs.Options{
		Workers:      cfg.Workers,
		UpdateBuffer: cfg.UpdateBuffer,
		Events:       brokerEvents{s.Broker},
		Notifier:     s.Pub,
		Logger:       log,
	})
	if cfg.RateRPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateRPS), cfg.RateBurst)
	}
	return s, nil
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Cfg.WebhookMaxAttempts, s.Cfg.WebhookInterval, s.Log)
}

// Shutdown stops the coordinator and releases the store and broker. The
// broker stays open while any job is still finishing.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Jobs.Shutdown(ctx)
	if s.closeBroker != nil {
		if n := s.Jobs.ActiveCount(); n > 0 {
			s.Log.Info("broker left open, jobs still finishing", "active", n)
		} else if cerr := s.closeBroker(); cerr != nil && err == nil {
			err = cerr
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if cerr := s.closers[i](); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Handler returns the routed mux behind the access log, metrics and rate
// limit middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Datasets
	mux.HandleFunc("/v1/datasets", s.DatasetsHandler)
	mux.HandleFunc("/v1/datasets/", s.DatasetByIDHandler) // includes generate, scan, ingest
	mux.HandleFunc("/v1/instances/generate", s.GenerateInstanceHandler)

	// Jobs
	mux.HandleFunc("/v1/jobs", s.JobsHandler)
	mux.HandleFunc("/v1/jobs/", s.JobByIDHandler) // includes start, run, cancel, events/stream, ws
	mux.HandleFunc("/v1/optimize", s.OptimizeHandler)
	mux.HandleFunc("/v1/optimizer/config", s.OptimizerConfigHandler)
	mux.HandleFunc("/ws/optimize", s.OptimizeWSHandler)

	// Webhooks
	mux.HandleFunc("/v1/subscriptions", s.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", s.SubscriptionByIDHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries", s.WebhookDeliveriesHandler)

	// Ops
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.Handle("/metrics", MetricsHandler())
	mux.HandleFunc("/debug/config", s.DebugJSON)
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/openapi.json", s.OpenAPIJSONHandler)
	mux.HandleFunc("/docs", s.DocsHandler)

	return s.logMiddleware(metricsMiddleware(s.rateLimit(mux)))
}
