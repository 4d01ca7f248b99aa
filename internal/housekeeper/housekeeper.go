// Package housekeeper runs the ambient maintenance jobs distinct from the
// out-of-scope daily-plan scheduler (§1 Non-goals): sweeping the
// replay-protection window and the OAuth state nonce cache (§4.11).
package housekeeper

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/stratecode/triage-sub002/internal/logging"
)

// Sweeper is satisfied by both security.ReplayProtection and
// security.RedisMirror, letting the Housekeeper treat the webhook replay
// guard and the OAuth nonce guard uniformly.
type Sweeper interface {
	Sweep()
}

// Housekeeper owns a cron.Cron scheduling idempotent sweep jobs that are
// safe to run concurrently with request handling (§4.11).
type Housekeeper struct {
	cron   *cron.Cron
	logger *logging.Logger
}

// New creates a Housekeeper. spec is a standard 5-field cron expression
// (e.g. "*/5 * * * *" to sweep every 5 minutes); both sweepers run on the
// same schedule since both guards share the same replay window.
func New(logger *logging.Logger) *Housekeeper {
	return &Housekeeper{cron: cron.New(), logger: logger}
}

// RegisterSweep schedules sweeper.Sweep() to run on spec. Returns the
// error from the underlying cron parser if spec is malformed.
func (h *Housekeeper) RegisterSweep(spec, name string, sweeper Sweeper) error {
	_, err := h.cron.AddFunc(spec, func() {
		sweeper.Sweep()
		if h.logger != nil {
			h.logger.WithFields(map[string]interface{}{"job": name}).Debug("housekeeper sweep completed")
		}
	})
	return err
}

// Start begins running scheduled jobs in the background.
func (h *Housekeeper) Start() {
	h.cron.Start()
}

// Stop requests all running jobs to finish and waits via ctx. It mirrors
// cron.Cron.Stop()'s own "wait for the running jobs" context, bounded by
// the caller's ctx for a graceful-shutdown deadline.
func (h *Housekeeper) Stop(ctx context.Context) error {
	done := h.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
