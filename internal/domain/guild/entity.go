// Package guild содержит настройки гильдии (сервера Discord), влияющие
// на то, куда и как отправляются объявления о новых уровнях.
package guild

import (
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/shiva-hub/shiva-voice-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GUILD SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

// DefaultEmbedColor - цвет embed-а по умолчанию для level-up объявлений.
const DefaultEmbedColor = "#00ff00"

// Settings - настройки прокачки для одной гильдии.
type Settings struct {
	// GuildID - идентификатор гильдии.
	GuildID shared.GuildID

	// LevelingChannelID - канал для объявлений о новых уровнях.
	// Пустой - используем системный канал гильдии.
	LevelingChannelID shared.ChannelID

	// SystemChannelID - системный канал гильдии (fallback для объявлений).
	// Гейтвей записывает его через SettingsRepository.SyncChannels при
	// каждом GUILD_CREATE и GUILD_UPDATE.
	SystemChannelID shared.ChannelID

	// AFKChannelID - AFK-канал гильдии; время в нём не даёт XP.
	// Синхронизируется гейтвеем вместе с системным каналом.
	AFKChannelID shared.ChannelID

	// EmbedColor - hex-цвет embed-а объявления, например "#00ff00".
	EmbedColor string

	// LevelUpMessages - кастомные шаблоны объявлений с плейсхолдерами
	// {user} и {level}. Пустой список - дефолтный текст.
	LevelUpMessages []string

	// UpdatedAt - время последнего изменения настроек.
	UpdatedAt time.Time
}

// DefaultSettings возвращает настройки по умолчанию для гильдии.
func DefaultSettings(guildID shared.GuildID) *Settings {
	return &Settings{
		GuildID:    guildID,
		EmbedColor: DefaultEmbedColor,
	}
}

// AnnouncementChannel выбирает канал для level-up объявления:
// настроенный канал прокачки, иначе системный канал, иначе ничего.
func (s *Settings) AnnouncementChannel() (shared.ChannelID, bool) {
	if !s.LevelingChannelID.IsZero() {
		return s.LevelingChannelID, true
	}
	if !s.SystemChannelID.IsZero() {
		return s.SystemChannelID, true
	}
	return "", false
}

// RenderLevelUpMessage подставляет пользователя и уровень в случайный
// кастомный шаблон гильдии; без шаблонов - дефолтный текст.
func (s *Settings) RenderLevelUpMessage(mention string, level int, rng *rand.Rand) string {
	tpl := defaultLevelUpMessage
	if len(s.LevelUpMessages) > 0 {
		tpl = s.LevelUpMessages[rng.Intn(len(s.LevelUpMessages))]
	}

	msg := strings.ReplaceAll(tpl, "{user}", mention)
	msg = strings.ReplaceAll(msg, "{level}", strconv.Itoa(level))
	return msg
}

const defaultLevelUpMessage = "🎉 Congratulations {user}! You leveled up to level **{level}**!"
