package eventhandler

import (
	"context"
	"log/slog"

	"github.com/shiva-hub/shiva-voice-hub/internal/domain/leveling"
	"github.com/shiva-hub/shiva-voice-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ON XP AWARDED
// Keeps the cached leaderboard current between rebuilds: every award
// patches the member's score in place, so a rank shown over HTTP reflects
// the session that just ended rather than the last rebuild tick.
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardUpdater is the outbound port for in-place ranking updates.
// Implemented by the Redis leaderboard cache.
type LeaderboardUpdater interface {
	// UpdateMember re-scores a single member of the cached ranking.
	// A member absent from the set stays absent until the next rebuild.
	UpdateMember(ctx context.Context, userID string, level leveling.Level, xp leveling.XP) error
}

// OnXPAwardedHandler subscribes to XPAwardedEvent.
type OnXPAwardedHandler struct {
	cache  LeaderboardUpdater
	logger *slog.Logger
}

// NewOnXPAwardedHandler creates the handler.
func NewOnXPAwardedHandler(cache LeaderboardUpdater, logger *slog.Logger) *OnXPAwardedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnXPAwardedHandler{cache: cache, logger: logger}
}

// EventTypes implements shared.EventHandler.
func (h *OnXPAwardedHandler) EventTypes() []shared.EventType {
	return []shared.EventType{shared.EventXPAwarded}
}

// Handle implements shared.EventHandler. Cache updates are best-effort:
// the persisted XP is authoritative, and the periodic rebuild repairs
// any drift a failed update leaves behind.
func (h *OnXPAwardedHandler) Handle(ctx context.Context, event shared.Event) error {
	awarded, ok := event.(shared.XPAwardedEvent)
	if !ok {
		return nil
	}

	xp := leveling.XP(awarded.NewXP)
	level := leveling.LevelForXP(xp)

	if err := h.cache.UpdateMember(ctx, awarded.UserID, level, xp); err != nil {
		h.logger.Warn("leaderboard cache update failed",
			"user_id", awarded.UserID,
			"error", err,
		)
	}
	return nil
}
