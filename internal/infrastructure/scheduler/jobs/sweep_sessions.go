package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/shiva-hub/shiva-voice-hub/internal/domain/session"
)

// ══════════════════════════════════════════════════════════════════════════════
// SWEEP SESSIONS JOB
// ══════════════════════════════════════════════════════════════════════════════

// SweepSessionsJob evicts tracker entries older than the session cap.
// Such entries are leaves the bot never saw (gateway gap, kicked user
// on an unavailable guild); they would be discarded at award time
// anyway, so dropping them only reclaims memory.
type SweepSessionsJob struct {
	tracker session.Tracker
	maxAge  time.Duration
	logger  *slog.Logger
}

// NewSweepSessionsJob creates a new sweep job.
func NewSweepSessionsJob(tracker session.Tracker, maxAge time.Duration, logger *slog.Logger) *SweepSessionsJob {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}

	return &SweepSessionsJob{
		tracker: tracker,
		maxAge:  maxAge,
		logger:  logger,
	}
}

// Name returns the job name.
func (j *SweepSessionsJob) Name() string {
	return "sweep_sessions"
}

// Description returns a human-readable description.
func (j *SweepSessionsJob) Description() string {
	return "Evicts voice sessions whose leave event was never observed"
}

// Run executes the sweep.
func (j *SweepSessionsJob) Run(_ context.Context) error {
	removed := j.tracker.Sweep(j.maxAge)
	if removed > 0 {
		j.logger.Info("swept stale voice sessions",
			"removed", removed,
			"max_age", j.maxAge.String(),
		)
	}
	return nil
}
