// Package jobs contains implementations of scheduled jobs for the Shiva voice hub.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shiva-hub/shiva-voice-hub/internal/application/query"
	"github.com/shiva-hub/shiva-voice-hub/internal/domain/leveling"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD LEADERBOARD JOB
// ══════════════════════════════════════════════════════════════════════════════

// RebuildLeaderboardJob rewrites the Redis leaderboard from the store.
// Individual awards patch the cached set in place; this job repairs any
// drift and repopulates the set after its TTL expires, so leaderboard
// reads stay off Postgres.
type RebuildLeaderboardJob struct {
	repo   leveling.Repository
	cache  query.LeaderboardCache
	logger *slog.Logger

	config RebuildLeaderboardConfig

	lastStats atomic.Value // *RebuildStats
}

// RebuildLeaderboardConfig contains configuration for the rebuild job.
type RebuildLeaderboardConfig struct {
	// TopN is how many entries to keep cached.
	TopN int

	// Timeout is the maximum duration for one rebuild.
	Timeout time.Duration
}

// DefaultRebuildLeaderboardConfig returns sensible defaults.
func DefaultRebuildLeaderboardConfig() RebuildLeaderboardConfig {
	return RebuildLeaderboardConfig{
		TopN:    100,
		Timeout: time.Minute,
	}
}

// RebuildStats contains statistics from a rebuild run.
type RebuildStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Entries     int
}

// NewRebuildLeaderboardJob creates a new rebuild leaderboard job.
func NewRebuildLeaderboardJob(
	repo leveling.Repository,
	cache query.LeaderboardCache,
	logger *slog.Logger,
	config RebuildLeaderboardConfig,
) *RebuildLeaderboardJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.TopN <= 0 {
		config.TopN = 100
	}

	return &RebuildLeaderboardJob{
		repo:   repo,
		cache:  cache,
		logger: logger,
		config: config,
	}
}

// Name returns the job name.
func (j *RebuildLeaderboardJob) Name() string {
	return "rebuild_leaderboard"
}

// Description returns a human-readable description.
func (j *RebuildLeaderboardJob) Description() string {
	return "Rebuilds the cached leaderboard ranking from the level store"
}

// Run executes the rebuild job.
func (j *RebuildLeaderboardJob) Run(ctx context.Context) error {
	startedAt := time.Now()

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	records, err := j.repo.TopUsers(ctx, j.config.TopN)
	if err != nil {
		return fmt.Errorf("rebuild_leaderboard: load top users: %w", err)
	}

	entries := query.MapRecords(records)

	if err := j.cache.Fill(ctx, entries); err != nil {
		return fmt.Errorf("rebuild_leaderboard: fill cache: %w", err)
	}

	stats := &RebuildStats{
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
		Entries:     len(entries),
	}
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
	j.lastStats.Store(stats)

	j.logger.Info("leaderboard cache rebuilt",
		"entries", stats.Entries,
		"duration", stats.Duration.String(),
	)

	return nil
}

// LastStats returns statistics from the last rebuild.
func (j *RebuildLeaderboardJob) LastStats() *RebuildStats {
	stats := j.lastStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*RebuildStats)
}
