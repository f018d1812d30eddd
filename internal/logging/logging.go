// Package logging builds the process logger.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
)

const (
	DEFAULT = 0
	VERBOSE = 1
	DEBUG   = 2
)

// New returns a logr.Logger writing one line per entry to w. Verbosity v
// enables V(0)..V(v). json selects JSON objects over key=value text.
func New(w io.Writer, v int, json bool) logr.Logger {
	write := func(prefix, args string) {
		if prefix != "" {
			fmt.Fprintf(w, "%s: %s\n", prefix, args)
			return
		}
		fmt.Fprintln(w, args)
	}
	opts := funcr.Options{Verbosity: v, LogTimestamp: true, TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}
	if json {
		return funcr.NewJSON(func(obj string) { fmt.Fprintln(w, obj) }, opts)
	}
	return funcr.New(write, opts)
}

// Default writes text to stderr at DEFAULT verbosity.
func Default() logr.Logger { return New(os.Stderr, DEFAULT, false) }

// FromContext returns the request logger, or fallback when none was attached.
func FromContext(ctx context.Context, fallback logr.Logger) logr.Logger {
	if l, err := logr.FromContext(ctx); err == nil {
		return l
	}
	return fallback
}

// Fatal calls logger.Error followed by os.Exit(1).
func Fatal(logger logr.Logger, err error, msg string, keysAndValues ...any) {
	logger.Error(err, msg, keysAndValues...)
	os.Exit(1)
}
