// Package postgres implements the PostgreSQL persistence layer for the
// Shiva voice hub.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shiva-hub/shiva-voice-hub/internal/domain/guild"
	"github.com/shiva-hub/shiva-voice-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GUILD SETTINGS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// GuildSettingsRepository implements guild.SettingsRepository for PostgreSQL.
type GuildSettingsRepository struct {
	conn *Connection
	now  func() time.Time
}

// NewGuildSettingsRepository creates a new GuildSettingsRepository.
func NewGuildSettingsRepository(conn *Connection) *GuildSettingsRepository {
	return &GuildSettingsRepository{conn: conn, now: time.Now}
}

// GetOrDefault returns the guild's settings, or the defaults when the guild
// has never been configured. Missing settings are not an error - every guild
// starts with defaults.
func (r *GuildSettingsRepository) GetOrDefault(ctx context.Context, guildID shared.GuildID) (*guild.Settings, error) {
	if !guildID.IsValid() {
		return nil, shared.ErrInvalidGuildID
	}

	query := `
		SELECT guild_id, leveling_channel_id, system_channel_id, afk_channel_id,
		       embed_color, level_up_messages, updated_at
		FROM guild_settings
		WHERE guild_id = $1
	`

	var (
		gID, levelingCh, systemCh, afkCh, color string

		messagesJSON []byte
		settings     guild.Settings
	)
	err := r.conn.QueryRow(ctx, query, guildID.String()).Scan(
		&gID, &levelingCh, &systemCh, &afkCh, &color, &messagesJSON, &settings.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return guild.DefaultSettings(guildID), nil
		}
		return nil, fmt.Errorf("failed to get guild settings: %w", err)
	}

	settings.GuildID = shared.GuildID(gID)
	settings.LevelingChannelID = shared.ChannelID(levelingCh)
	settings.SystemChannelID = shared.ChannelID(systemCh)
	settings.AFKChannelID = shared.ChannelID(afkCh)
	settings.EmbedColor = color

	if len(messagesJSON) > 0 {
		if err := json.Unmarshal(messagesJSON, &settings.LevelUpMessages); err != nil {
			return nil, fmt.Errorf("failed to unmarshal level-up messages: %w", err)
		}
	}

	return &settings, nil
}

// SyncChannels records the guild's system and AFK channels as observed on
// the gateway. A new guild gets a default row; an existing row keeps its
// admin-configured leveling channel, color and message templates.
func (r *GuildSettingsRepository) SyncChannels(ctx context.Context, guildID shared.GuildID, systemChannelID, afkChannelID shared.ChannelID) error {
	if !guildID.IsValid() {
		return shared.ErrInvalidGuildID
	}

	query := `
		INSERT INTO guild_settings (
			guild_id, leveling_channel_id, system_channel_id, afk_channel_id,
			embed_color, level_up_messages, updated_at
		) VALUES ($1, '', $2, $3, $4, '[]', $5)
		ON CONFLICT (guild_id) DO UPDATE SET
			system_channel_id = EXCLUDED.system_channel_id,
			afk_channel_id = EXCLUDED.afk_channel_id,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.conn.Exec(ctx, query,
		guildID.String(),
		systemChannelID.String(),
		afkChannelID.String(),
		guild.DefaultEmbedColor,
		r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to sync guild channels: %w", err)
	}

	return nil
}

// Upsert creates or updates the guild's settings.
func (r *GuildSettingsRepository) Upsert(ctx context.Context, settings *guild.Settings) error {
	if settings == nil || !settings.GuildID.IsValid() {
		return shared.ErrInvalidGuildID
	}

	messagesJSON, err := json.Marshal(settings.LevelUpMessages)
	if err != nil {
		return fmt.Errorf("failed to marshal level-up messages: %w", err)
	}
	if settings.LevelUpMessages == nil {
		messagesJSON = []byte("[]")
	}

	query := `
		INSERT INTO guild_settings (
			guild_id, leveling_channel_id, system_channel_id, afk_channel_id,
			embed_color, level_up_messages, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (guild_id) DO UPDATE SET
			leveling_channel_id = EXCLUDED.leveling_channel_id,
			system_channel_id = EXCLUDED.system_channel_id,
			afk_channel_id = EXCLUDED.afk_channel_id,
			embed_color = EXCLUDED.embed_color,
			level_up_messages = EXCLUDED.level_up_messages,
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.conn.Exec(ctx, query,
		settings.GuildID.String(),
		settings.LevelingChannelID.String(),
		settings.SystemChannelID.String(),
		settings.AFKChannelID.String(),
		settings.EmbedColor,
		messagesJSON,
		r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert guild settings: %w", err)
	}

	return nil
}
