// Package eventhandler contains domain event subscribers.
// Handlers here react to events published on the event bus; they are
// best-effort side effects and never influence the command that emitted
// the event.
package eventhandler

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/shiva-hub/shiva-voice-hub/internal/domain/guild"
	"github.com/shiva-hub/shiva-voice-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ON LEVEL UP
// Resolves a destination channel for the level-up announcement and sends it.
// Channel resolution order: configured leveling channel, else the guild's
// persisted system channel, else a REST lookup of the system channel, else
// drop with a log line. A send that fails because the chosen channel is
// unusable retries once on the system channel. Every failure is swallowed -
// the persisted XP/level is authoritative and is never rolled back because
// an announcement could not be delivered.
// ══════════════════════════════════════════════════════════════════════════════

// Announcer is the outbound port for sending level-up announcements.
// Implemented by the Discord REST client.
type Announcer interface {
	// SendLevelUpAnnouncement renders and sends a single announcement embed.
	// An error matching shared.ErrNoNotifyChannel means the channel itself
	// is unusable (gone or no permission), not a transport failure.
	SendLevelUpAnnouncement(ctx context.Context, channelID shared.ChannelID, a Announcement) error
}

// ChannelResolver looks up a guild's system channel over REST, used when
// the persisted settings resolve no destination. Implemented by the
// Discord REST client.
type ChannelResolver interface {
	ResolveSystemChannel(ctx context.Context, guildID shared.GuildID) (shared.ChannelID, error)
}

// AnnouncementGate decides per user and guild whether announcements are
// enabled, backed by the feature flag layer.
type AnnouncementGate func(userID, guildID string) bool

// Announcement carries everything the transport needs to render the embed.
type Announcement struct {
	UserID     shared.UserID
	GuildID    shared.GuildID
	NewLevel   int
	Message    string
	EmbedColor string
}

// OnLevelUpConfig contains the optional collaborators of the handler.
type OnLevelUpConfig struct {
	// Channels resolves a system channel over REST when the persisted
	// settings name no destination. nil disables the fallback.
	Channels ChannelResolver

	// Gate short-circuits announcement delivery per user/guild.
	// nil means always enabled.
	Gate AnnouncementGate

	// Logger for structured logging.
	Logger *slog.Logger

	// RNG drives template selection. nil means a time-seeded source.
	RNG *rand.Rand
}

// OnLevelUpHandler subscribes to LevelUpEvent.
type OnLevelUpHandler struct {
	settings  guild.SettingsRepository
	announcer Announcer
	channels  ChannelResolver
	gate      AnnouncementGate
	logger    *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewOnLevelUpHandler creates the handler.
func NewOnLevelUpHandler(settings guild.SettingsRepository, announcer Announcer, config OnLevelUpConfig) *OnLevelUpHandler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.RNG == nil {
		config.RNG = rand.New(rand.NewSource(rand.Int63()))
	}
	return &OnLevelUpHandler{
		settings:  settings,
		announcer: announcer,
		channels:  config.Channels,
		gate:      config.Gate,
		logger:    config.Logger,
		rng:       config.RNG,
	}
}

// EventTypes implements shared.EventHandler.
func (h *OnLevelUpHandler) EventTypes() []shared.EventType {
	return []shared.EventType{shared.EventLevelUp}
}

// Handle implements shared.EventHandler. It always returns nil: notification
// dispatch is best-effort and must never look like a failed delivery that
// something upstream would want to retry.
func (h *OnLevelUpHandler) Handle(ctx context.Context, event shared.Event) error {
	lvlUp, ok := event.(shared.LevelUpEvent)
	if !ok {
		return nil
	}

	if h.gate != nil && !h.gate(lvlUp.UserID, lvlUp.GuildID) {
		h.logger.Debug("level-up announcement disabled by feature flag",
			"guild_id", lvlUp.GuildID,
			"user_id", lvlUp.UserID,
		)
		return nil
	}

	guildID := shared.GuildID(lvlUp.GuildID)
	userID := shared.UserID(lvlUp.UserID)

	settings, err := h.settings.GetOrDefault(ctx, guildID)
	if err != nil {
		h.logger.Warn("level-up announcement skipped: settings unavailable",
			"guild_id", lvlUp.GuildID,
			"user_id", lvlUp.UserID,
			"error", err,
		)
		return nil
	}

	channelID, ok := settings.AnnouncementChannel()
	if !ok {
		channelID, ok = h.resolveOverREST(ctx, guildID)
	}
	if !ok {
		h.logger.Warn("no channel resolvable for level-up announcement",
			"guild_id", lvlUp.GuildID,
			"user_id", lvlUp.UserID,
			"new_level", lvlUp.NewLevel,
		)
		return nil
	}

	h.mu.Lock()
	message := settings.RenderLevelUpMessage(mention(userID), lvlUp.NewLevel, h.rng)
	h.mu.Unlock()

	announcement := Announcement{
		UserID:     userID,
		GuildID:    guildID,
		NewLevel:   lvlUp.NewLevel,
		Message:    message,
		EmbedColor: settings.EmbedColor,
	}

	err = h.announcer.SendLevelUpAnnouncement(ctx, channelID, announcement)
	if err != nil && h.shouldRetryOnSystemChannel(err, channelID, settings) {
		h.logger.Warn("leveling channel unusable, retrying on system channel",
			"guild_id", lvlUp.GuildID,
			"channel_id", channelID.String(),
			"error", err,
		)
		channelID = settings.SystemChannelID
		err = h.announcer.SendLevelUpAnnouncement(ctx, channelID, announcement)
	}
	if err != nil {
		h.logger.Warn("level-up announcement failed",
			"guild_id", lvlUp.GuildID,
			"user_id", lvlUp.UserID,
			"channel_id", channelID.String(),
			"error", err,
		)
		return nil
	}

	h.logger.Info("level-up announced",
		"guild_id", lvlUp.GuildID,
		"user_id", lvlUp.UserID,
		"channel_id", channelID.String(),
		"new_level", lvlUp.NewLevel,
	)
	return nil
}

// resolveOverREST asks Discord for the guild's system channel when the
// persisted settings name no destination, e.g. a guild seen before the
// gateway started syncing channels.
func (h *OnLevelUpHandler) resolveOverREST(ctx context.Context, guildID shared.GuildID) (shared.ChannelID, bool) {
	if h.channels == nil {
		return "", false
	}

	channelID, err := h.channels.ResolveSystemChannel(ctx, guildID)
	if err != nil {
		h.logger.Debug("system channel lookup failed",
			"guild_id", guildID.String(),
			"error", err,
		)
		return "", false
	}
	return channelID, true
}

// shouldRetryOnSystemChannel reports whether a failed send is worth one
// retry on the guild's system channel: the failure must mean the chosen
// channel is unusable, and the system channel must be a different one.
func (h *OnLevelUpHandler) shouldRetryOnSystemChannel(err error, failed shared.ChannelID, settings *guild.Settings) bool {
	if !errors.Is(err, shared.ErrNoNotifyChannel) {
		return false
	}
	if settings.SystemChannelID.IsZero() || settings.SystemChannelID == failed {
		return false
	}
	return true
}

// mention formats a Discord user mention.
func mention(userID shared.UserID) string {
	return "<@" + userID.String() + ">"
}
