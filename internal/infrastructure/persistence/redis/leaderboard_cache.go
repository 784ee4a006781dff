package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shiva-hub/shiva-voice-hub/internal/application/query"
	"github.com/shiva-hub/shiva-voice-hub/internal/domain/leveling"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD CACHE
// ══════════════════════════════════════════════════════════════════════════════

const (
	// leaderboardKey is the sorted set holding the global ranking.
	leaderboardKey = "leaderboard:global"

	// leaderboardTTL bounds staleness between rebuilds.
	leaderboardTTL = 5 * time.Minute

	// scoreLevelFactor packs level and XP into a single sorted-set score.
	// A member's score is level*scoreLevelFactor + xp, so descending score
	// order equals (level DESC, xp DESC). XP must stay below the factor,
	// which holds for any realistic accumulation of voice time.
	scoreLevelFactor = 1_000_000_000
)

// LeaderboardCache keeps the ranking in a Redis sorted set so leaderboard
// reads skip Postgres entirely on the hot path. It satisfies the
// query.LeaderboardCache port. A periodic job rebuilds the set; individual
// XP awards update members in place.
type LeaderboardCache struct {
	cache *Cache
}

// NewLeaderboardCache creates a leaderboard cache backed by the given Cache.
func NewLeaderboardCache(cache *Cache) *LeaderboardCache {
	return &LeaderboardCache{cache: cache}
}

func compositeScore(level leveling.Level, xp leveling.XP) float64 {
	return float64(int64(level)*scoreLevelFactor + int64(xp))
}

func unpackScore(score float64) (level, xp int) {
	s := int64(score)
	return int(s / scoreLevelFactor), int(s % scoreLevelFactor)
}

// Top returns the highest-ranked entries, best first. Returns ErrCacheMiss
// when the set is absent or expired so callers fall back to the store.
func (lc *LeaderboardCache) Top(ctx context.Context, limit int) ([]query.LeaderboardEntryDTO, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("leaderboard cache: limit must be positive, got %d", limit)
	}

	members, err := lc.cache.Client().ZRevRangeWithScores(ctx, leaderboardKey, 0, int64(limit-1)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("leaderboard cache: read failed: %w", err)
	}
	if len(members) == 0 {
		return nil, ErrCacheMiss
	}

	entries := make([]query.LeaderboardEntryDTO, 0, len(members))
	for i, m := range members {
		userID, ok := m.Member.(string)
		if !ok {
			continue
		}
		level, xp := unpackScore(m.Score)
		entries = append(entries, query.LeaderboardEntryDTO{
			Rank:   i + 1,
			UserID: userID,
			Level:  level,
			XP:     xp,
		})
	}

	return entries, nil
}

// Fill replaces the sorted set with the given entries and refreshes the TTL.
// The swap is atomic from readers' point of view: a pipeline deletes and
// repopulates in one round trip.
func (lc *LeaderboardCache) Fill(ctx context.Context, entries []query.LeaderboardEntryDTO) error {
	client := lc.cache.Client()

	pipe := client.TxPipeline()
	pipe.Del(ctx, leaderboardKey)

	if len(entries) > 0 {
		members := make([]redis.Z, 0, len(entries))
		for _, e := range entries {
			members = append(members, redis.Z{
				Score:  compositeScore(leveling.Level(e.Level), leveling.XP(e.XP)),
				Member: e.UserID,
			})
		}
		pipe.ZAdd(ctx, leaderboardKey, members...)
	}

	pipe.Expire(ctx, leaderboardKey, leaderboardTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("leaderboard cache: fill failed: %w", err)
	}
	return nil
}

// UpdateMember writes a single user's score without touching the rest of
// the set. Called after each XP award so the cache tracks the store
// between rebuilds. A missing set is left missing; the next read falls
// back to the store and the rebuild job repopulates it.
func (lc *LeaderboardCache) UpdateMember(ctx context.Context, userID string, level leveling.Level, xp leveling.XP) error {
	client := lc.cache.Client()

	exists, err := client.Exists(ctx, leaderboardKey).Result()
	if err != nil {
		return fmt.Errorf("leaderboard cache: exists check failed: %w", err)
	}
	if exists == 0 {
		return nil
	}

	err = client.ZAdd(ctx, leaderboardKey, redis.Z{
		Score:  compositeScore(level, xp),
		Member: userID,
	}).Err()
	if err != nil {
		return fmt.Errorf("leaderboard cache: member update failed: %w", err)
	}
	return nil
}

// Invalidate drops the cached ranking entirely.
func (lc *LeaderboardCache) Invalidate(ctx context.Context) error {
	return lc.cache.Delete(ctx, leaderboardKey)
}
