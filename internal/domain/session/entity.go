// Package session содержит доменную модель голосовой сессии.
// Сессия - непрерывный интервал присутствия пользователя в отслеживаемом
// голосовом канале, ограниченный парой событий enter/leave. Сессии живут
// только в памяти процесса: рестарт молча теряет незавершённые сессии.
package session

import (
	"time"

	"github.com/shiva-hub/shiva-voice-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION
// ══════════════════════════════════════════════════════════════════════════════

// Session - активная голосовая сессия пользователя.
type Session struct {
	// UserID - идентификатор пользователя.
	UserID shared.UserID

	// GuildID - гильдия, в которой идёт сессия.
	GuildID shared.GuildID

	// ChannelID - голосовой канал сессии.
	ChannelID shared.ChannelID

	// StartedAt - момент входа в канал.
	StartedAt time.Time
}

// Duration возвращает прошедшее время сессии на момент now.
// Если часы ушли назад (отрицательная длительность) - возвращаем 0,
// отрицательный XP начислять нельзя.
func (s Session) Duration(now time.Time) time.Duration {
	d := now.Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// Age - синоним Duration для очистки протухших сессий.
func (s Session) Age(now time.Time) time.Duration {
	return s.Duration(now)
}

// ══════════════════════════════════════════════════════════════════════════════
// BOUNDARY EVENTS
// ══════════════════════════════════════════════════════════════════════════════

// VoiceState описывает граничное событие enter/leave от платформенного слоя.
type VoiceState struct {
	// UserID - пользователь, которого касается событие.
	UserID shared.UserID

	// GuildID - гильдия события.
	GuildID shared.GuildID

	// ChannelID - канал, в который вошли или из которого вышли.
	ChannelID shared.ChannelID

	// IsAFKChannel - true, если канал назначен AFK-каналом гильдии.
	// Время в AFK-канале намеренно исключено из начисления XP.
	IsAFKChannel bool

	// IsBot - true для ботов и сервисных аккаунтов; они не отслеживаются.
	IsBot bool
}
