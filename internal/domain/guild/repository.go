// Package guild содержит настройки гильдии.
package guild

import (
	"context"

	"github.com/shiva-hub/shiva-voice-hub/internal/domain/shared"
)

// SettingsRepository - контракт хранилища настроек гильдий.
// Реализация: internal/infrastructure/persistence/postgres.
type SettingsRepository interface {
	// GetOrDefault возвращает настройки гильдии; если записи нет -
	// дефолтные настройки без обращения к записи.
	GetOrDefault(ctx context.Context, guildID shared.GuildID) (*Settings, error)

	// Upsert создаёт или обновляет настройки гильдии целиком.
	// Используется административными изменениями настроек.
	Upsert(ctx context.Context, settings *Settings) error

	// SyncChannels записывает наблюдаемые гейтвеем каналы гильдии
	// (системный и AFK), не трогая настроенные администратором поля.
	SyncChannels(ctx context.Context, guildID shared.GuildID, systemChannelID, afkChannelID shared.ChannelID) error
}
