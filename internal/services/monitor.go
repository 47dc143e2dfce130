package services

import (
	"context"
	"log/slog"
	"slices"
	"time"
)

// ModelLister lists the models available on a language model server.
type ModelLister interface {
	Models(ctx context.Context) ([]string, error)
}

// Status is the connection state of the language model server.
type Status struct {
	Connected bool
	Models    []string
}

// DefaultMonitorInterval is how often the server is polled when no interval is configured.
const DefaultMonitorInterval = 10 * time.Second

// Monitor polls lister every interval until ctx is done and calls fn with the first status and
// with every status that differs from the previous one.
func Monitor(ctx context.Context, lister ModelLister, interval time.Duration, logger *slog.Logger, fn func(Status)) {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	logger = logger.With(slog.String("module", "monitor"))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var prev *Status
	for {
		var st Status
		names, err := lister.Models(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Debug("Model server unreachable", slog.String(errLoggerKey, err.Error()))
		} else {
			st = Status{Connected: true, Models: names}
		}

		if prev == nil || prev.Connected != st.Connected || !slices.Equal(prev.Models, st.Models) {
			logger.Info("Model server status changed",
				slog.Bool("connected", st.Connected),
				slog.Int("models", len(st.Models)))
			fn(st)
			prev = &st
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
