// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shiva-hub/shiva-voice-hub/internal/domain/session"
	"github.com/shiva-hub/shiva-voice-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRACK PRESENCE COMMAND
// Consumes the enter/leave boundary events raised by the platform integration
// layer, drives the in-memory session tracker, and hands qualifying durations
// to the leveling engine. Bots and the AFK channel are filtered here.
// ══════════════════════════════════════════════════════════════════════════════

// MaxSessionDuration caps what a single leave may claim. Anything longer is
// treated as a malformed duration (stale tracker entry, clock jump) and
// awards nothing.
const MaxSessionDuration = 24 * time.Hour

// TrackPresenceHandler handles voice presence boundary events.
type TrackPresenceHandler struct {
	tracker   session.Tracker
	award     *AwardSessionHandler
	publisher shared.EventPublisher
	logger    *slog.Logger

	maxDuration time.Duration
	now         func() time.Time
}

// TrackPresenceHandlerConfig contains configuration for the handler.
type TrackPresenceHandlerConfig struct {
	// MaxDuration overrides the absurd-duration cutoff. Zero means
	// MaxSessionDuration.
	MaxDuration time.Duration

	// Now is the clock used to measure durations. Nil means time.Now.
	Now func() time.Time

	// Logger for structured logging.
	Logger *slog.Logger
}

// NewTrackPresenceHandler creates a new TrackPresenceHandler.
func NewTrackPresenceHandler(tracker session.Tracker, award *AwardSessionHandler, publisher shared.EventPublisher, config TrackPresenceHandlerConfig) *TrackPresenceHandler {
	if config.MaxDuration <= 0 {
		config.MaxDuration = MaxSessionDuration
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &TrackPresenceHandler{
		tracker:     tracker,
		award:       award,
		publisher:   publisher,
		logger:      config.Logger,
		maxDuration: config.MaxDuration,
		now:         config.Now,
	}
}

// HandleEnter processes an "entered tracked channel" event.
// AFK channel joins and non-human accounts are ignored entirely. A second
// enter without an intervening leave re-arms the session start timestamp.
func (h *TrackPresenceHandler) HandleEnter(ctx context.Context, state session.VoiceState) error {
	if state.IsBot {
		return nil
	}
	if state.IsAFKChannel {
		h.logger.Debug("ignoring AFK channel join",
			"user_id", state.UserID.String(),
			"guild_id", state.GuildID.String(),
		)
		return nil
	}
	if !state.UserID.IsValid() || !state.GuildID.IsValid() {
		return fmt.Errorf("track_presence: %w", shared.ErrInvalidInput)
	}

	h.tracker.Enter(state.UserID, state.GuildID, state.ChannelID)

	if h.publisher != nil {
		event := shared.NewSessionStartedEvent(
			state.UserID.String(), state.GuildID.String(), state.ChannelID.String(),
		)
		if err := h.publisher.Publish(ctx, event); err != nil {
			h.logger.Warn("failed to publish session started event", "error", err)
		}
	}

	h.logger.Debug("voice session started",
		"user_id", state.UserID.String(),
		"guild_id", state.GuildID.String(),
		"channel_id", state.ChannelID.String(),
	)
	return nil
}

// HandleLeave processes a "left tracked channel" event.
//
// No tracked session is not an error: the user was never tracked (process
// restarted mid-session, or the leave arrived before its paired enter) and
// the event degrades to a no-op. Leaving the AFK channel discards the session
// without awarding anything, regardless of elapsed time.
func (h *TrackPresenceHandler) HandleLeave(ctx context.Context, state session.VoiceState) (*AwardSessionResult, error) {
	if state.IsBot {
		return &AwardSessionResult{Awarded: false}, nil
	}

	if state.IsAFKChannel {
		h.tracker.Discard(state.UserID)
		h.logger.Debug("left AFK channel, session discarded",
			"user_id", state.UserID.String(),
			"guild_id", state.GuildID.String(),
		)
		return &AwardSessionResult{Awarded: false}, nil
	}

	sess, ok := h.tracker.Leave(state.UserID)
	if !ok {
		h.logger.Debug("leave without tracked session",
			"user_id", state.UserID.String(),
			"guild_id", state.GuildID.String(),
		)
		return &AwardSessionResult{Awarded: false}, nil
	}

	duration := sess.Duration(h.now())

	if h.publisher != nil {
		event := shared.NewSessionEndedEvent(
			state.UserID.String(), state.GuildID.String(), sess.ChannelID.String(),
			int64(duration/time.Second),
		)
		if err := h.publisher.Publish(ctx, event); err != nil {
			h.logger.Warn("failed to publish session ended event", "error", err)
		}
	}

	if duration > h.maxDuration {
		h.logger.Warn("discarding absurdly long session",
			"user_id", state.UserID.String(),
			"duration", duration,
			"max", h.maxDuration,
		)
		return &AwardSessionResult{Awarded: false}, nil
	}

	return h.award.Handle(ctx, AwardSessionCommand{
		UserID:   state.UserID,
		GuildID:  state.GuildID,
		Duration: duration,
	})
}
