package trading

import (
	"context"
	"time"

	"trader-engine/internal/logger"
)

const reentryInterval = 5 * time.Minute

// ReentryScanner periodically re-evaluates every controller's active
// pairs. Candle-driven evaluation only fires when a bar closes, so a
// signal that appears right after a cooldown expires would otherwise
// wait for the next close.
type ReentryScanner struct {
	controllers []*Controller
	interval    time.Duration
	log         *logger.Logger
}

func NewReentryScanner(controllers []*Controller, log *logger.Logger) *ReentryScanner {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &ReentryScanner{controllers: controllers, interval: reentryInterval, log: log}
}

// SetInterval overrides the scan cadence. Tests shorten it.
func (s *ReentryScanner) SetInterval(d time.Duration) { s.interval = d }

// Run scans until ctx is done.
func (s *ReentryScanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, c := range s.controllers {
				if c.State() == StateRunning {
					c.EvaluateAll(ctx)
				}
			}
		}
	}
}
