package syncjob

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/combiphar/corpus/internal/observability"
	"github.com/combiphar/corpus/pkg/models"
)

// Triggerer starts a run without waiting for it to finish.
type Triggerer interface {
	Trigger(ctx context.Context, source, actor string, waitForDB bool) (bool, *models.SyncStatus, error)
}

// Scheduler fires sync runs on a cron expression. An already-running
// job makes the tick a no-op through the normal claim path.
type Scheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger
}

// NewScheduler builds a scheduler for expr. An empty expression disables
// scheduling and returns (nil, nil); a malformed one is an error.
func NewScheduler(expr string, trig Triggerer) (*Scheduler, error) {
	if expr == "" {
		return nil, nil
	}

	logger := observability.Logger("scheduler")
	c := cron.New()
	if _, err := c.AddFunc(expr, func() {
		started, _, err := trig.Trigger(context.Background(), "scheduled", "system", false)
		if err != nil {
			logger.Error().Err(err).Msg("scheduled sync trigger failed")
			return
		}
		if !started {
			logger.Info().Msg("scheduled sync skipped, run already active")
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", expr, err)
	}

	return &Scheduler{cron: c, logger: logger}, nil
}

// Start begins firing ticks.
func (s *Scheduler) Start() {
	s.logger.Info().Msg("sync scheduler started")
	s.cron.Start()
}

// Stop halts the tick loop and waits for an in-flight tick callback.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("sync scheduler stopped")
}
