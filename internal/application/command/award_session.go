// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shiva-hub/shiva-voice-hub/internal/domain/leveling"
	"github.com/shiva-hub/shiva-voice-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD SESSION COMMAND
// Converts a finished voice session into an XP award and, when the recomputed
// level exceeds the stored one, a level-up result. This is the leveling engine:
// one persistence write per award, level always recomputed from XP.
// ══════════════════════════════════════════════════════════════════════════════

// MinSessionDuration is the minimum qualifying session length. Shorter
// sessions award nothing. Policy constant, not derived.
const MinSessionDuration = 60 * time.Second

// AwardSessionCommand contains the data for a single award.
type AwardSessionCommand struct {
	// UserID is the Discord user the session belongs to.
	UserID shared.UserID

	// GuildID is the guild the session took place in. Carried through to the
	// level-up event so the dispatcher can resolve an announcement channel;
	// the XP record itself is global per user.
	GuildID shared.GuildID

	// Duration is the measured session length.
	Duration time.Duration

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c AwardSessionCommand) Validate() error {
	if !c.UserID.IsValid() {
		return fmt.Errorf("award_session: %w", shared.ErrInvalidUserID)
	}
	if !c.GuildID.IsValid() {
		return fmt.Errorf("award_session: %w", shared.ErrInvalidGuildID)
	}
	return nil
}

// AwardSessionResult contains the outcome of an award.
type AwardSessionResult struct {
	// Awarded is false when the session was below the minimum threshold
	// (or the delta came out zero) and nothing was persisted.
	Awarded bool

	// XPDelta is the XP granted by this session.
	XPDelta leveling.XP

	// NewXP is the cumulative XP after the award.
	NewXP leveling.XP

	// OldLevel and NewLevel bracket the award.
	OldLevel leveling.Level
	NewLevel leveling.Level

	// LeveledUp is true iff NewLevel > OldLevel. Exactly one level-up event
	// is published when set.
	LeveledUp bool

	// Events contains the domain events generated by this award.
	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AwardSessionHandler handles AwardSessionCommand.
type AwardSessionHandler struct {
	repo      leveling.Repository
	publisher shared.EventPublisher
	logger    *slog.Logger

	minDuration time.Duration
}

// AwardSessionHandlerConfig contains configuration for the handler.
type AwardSessionHandlerConfig struct {
	// MinDuration overrides the minimum qualifying session length.
	// Zero means MinSessionDuration.
	MinDuration time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// NewAwardSessionHandler creates a new AwardSessionHandler.
func NewAwardSessionHandler(repo leveling.Repository, publisher shared.EventPublisher, config AwardSessionHandlerConfig) *AwardSessionHandler {
	if config.MinDuration <= 0 {
		config.MinDuration = MinSessionDuration
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &AwardSessionHandler{
		repo:        repo,
		publisher:   publisher,
		logger:      config.Logger,
		minDuration: config.MinDuration,
	}
}

// Handle executes the award.
//
// A persistence failure means the XP computed for this session is lost: the
// engine does not retry and does not re-queue. The error surfaces to the
// caller as a failed operation; nothing here is fatal to the process.
func (h *AwardSessionHandler) Handle(ctx context.Context, cmd AwardSessionCommand) (*AwardSessionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	if cmd.Duration < h.minDuration {
		h.logger.Debug("session below minimum threshold, no award",
			"user_id", cmd.UserID.String(),
			"duration", cmd.Duration,
			"threshold", h.minDuration,
		)
		return &AwardSessionResult{Awarded: false}, nil
	}

	delta := leveling.XPForDuration(cmd.Duration)
	if delta <= 0 {
		return &AwardSessionResult{Awarded: false}, nil
	}

	res, err := h.repo.AwardXP(ctx, cmd.UserID, delta)
	if err != nil {
		return nil, fmt.Errorf("award_session: persist failed, xp delta lost: %w", err)
	}

	outcome := res.Outcome
	result := &AwardSessionResult{
		Awarded:   true,
		XPDelta:   outcome.Delta,
		NewXP:     outcome.NewXP,
		OldLevel:  outcome.OldLevel,
		NewLevel:  outcome.NewLevel,
		LeveledUp: outcome.LeveledUp(),
	}

	xpEvent := shared.NewXPAwardedEvent(
		cmd.UserID.String(), cmd.GuildID.String(),
		outcome.Delta.Int(), outcome.NewXP.Int(),
	)
	xpEvent.BaseEvent = xpEvent.WithCorrelationID(cmd.CorrelationID)
	result.Events = append(result.Events, xpEvent)

	if result.LeveledUp {
		lvlEvent := shared.NewLevelUpEvent(
			cmd.UserID.String(), cmd.GuildID.String(),
			outcome.OldLevel.Int(), outcome.NewLevel.Int(),
		)
		lvlEvent.BaseEvent = lvlEvent.WithCorrelationID(cmd.CorrelationID)
		result.Events = append(result.Events, lvlEvent)
	}

	h.publish(ctx, result.Events)

	h.logger.Info("voice session awarded",
		"user_id", cmd.UserID.String(),
		"guild_id", cmd.GuildID.String(),
		"duration", cmd.Duration,
		"xp_delta", outcome.Delta.Int(),
		"new_xp", outcome.NewXP.Int(),
		"new_level", outcome.NewLevel.Int(),
		"leveled_up", result.LeveledUp,
	)

	return result, nil
}

// publish delivers events best-effort. The persisted award is authoritative;
// a failed publish must not roll it back.
func (h *AwardSessionHandler) publish(ctx context.Context, events []shared.Event) {
	if h.publisher == nil {
		return
	}
	for _, event := range events {
		if err := h.publisher.Publish(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
			h.logger.Warn("failed to publish event",
				"event_type", string(event.EventType()),
				"aggregate_id", event.AggregateID(),
				"error", err,
			)
		}
	}
}
