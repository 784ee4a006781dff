// Package session содержит доменную модель голосовой сессии.
package session

import (
	"time"

	"github.com/shiva-hub/shiva-voice-hub/internal/domain/shared"
)

// Tracker - контракт процессного хранилища активных сессий.
// Состояние живёт в памяти, инициализируется пустым при каждом старте
// и не переживает рестарт. Операции над картой синхронные и никогда
// не блокируются на I/O; взаимное исключение - по пользователю.
//
// Реализация: internal/infrastructure/tracker.
type Tracker interface {
	// Enter фиксирует начало сессии для пользователя. Повторный Enter без
	// промежуточного Leave перезаписывает метку старта (идемпотентный
	// перезавод, не ошибка стекинга).
	Enter(userID shared.UserID, guildID shared.GuildID, channelID shared.ChannelID)

	// Leave снимает сессию пользователя и возвращает её. ok == false
	// означает "сессии нет" - пользователь не отслеживался (например,
	// процесс перезапустился посреди сессии) или leave пришёл раньше
	// парного enter.
	Leave(userID shared.UserID) (Session, bool)

	// Discard снимает сессию без вычисления длительности
	// (выход из AFK-канала).
	Discard(userID shared.UserID)

	// Active возвращает текущую сессию пользователя без её снятия.
	Active(userID shared.UserID) (Session, bool)

	// Len возвращает число активных сессий (для health/метрик).
	Len() int

	// Sweep снимает сессии старше maxAge и возвращает их число.
	// Страховка от утечек при потерянных leave-событиях.
	Sweep(maxAge time.Duration) int
}
