// Package leveling содержит доменную модель прокачки за голосовые сессии.
package leveling

import (
	"errors"
	"time"

	"github.com/shiva-hub/shiva-voice-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// XP представляет очки опыта пользователя.
type XP int

// IsValid проверяет, что XP неотрицательный.
func (x XP) IsValid() bool {
	return x >= 0
}

// Add складывает XP.
func (x XP) Add(delta XP) XP {
	return x + delta
}

// Int возвращает примитивное значение.
func (x XP) Int() int {
	return int(x)
}

// Level представляет уровень пользователя, вычисляемый из XP.
type Level int

// IsValid проверяет, что уровень не меньше 1.
func (l Level) IsValid() bool {
	return l >= 1
}

// Int возвращает примитивное значение.
func (l Level) Int() int {
	return int(l)
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: USER LEVEL RECORD
// ══════════════════════════════════════════════════════════════════════════════

// UserLevelRecord - персистентная запись прогресса пользователя.
// Запись глобальная (ключ - только UserID, без гильдии): XP копится
// за все сервера вместе, как в исходной схеме данных.
//
// Инварианты:
//   - Level == LevelForXP(XP) после каждой мутации;
//   - XP монотонно неубывает - ядро только начисляет опыт.
type UserLevelRecord struct {
	// UserID - идентификатор пользователя Discord.
	UserID shared.UserID

	// XP - накопленные очки опыта.
	XP XP

	// Level - кешированная проекция XP, пересчитывается при каждой записи.
	Level Level

	// CreatedAt - время создания записи (первое начисление).
	CreatedAt time.Time

	// UpdatedAt - время последнего начисления.
	UpdatedAt time.Time
}

// NewUserLevelRecord создаёт запись с дефолтами {xp: 0, level: 1}.
func NewUserLevelRecord(userID shared.UserID, now time.Time) (*UserLevelRecord, error) {
	if !userID.IsValid() {
		return nil, shared.ErrInvalidUserID
	}
	return &UserLevelRecord{
		UserID:    userID,
		XP:        0,
		Level:     1,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}, nil
}

// AwardOutcome описывает результат начисления XP.
type AwardOutcome struct {
	Delta    XP
	NewXP    XP
	OldLevel Level
	NewLevel Level
}

// LeveledUp возвращает true, если начисление подняло уровень.
func (o AwardOutcome) LeveledUp() bool {
	return o.NewLevel > o.OldLevel
}

// ErrNegativeDelta возвращается при попытке начислить отрицательный XP.
var ErrNegativeDelta = errors.New("leveling: xp delta cannot be negative")

// ApplyAward начисляет XP и пересчитывает уровень из нового XP.
// Единственная точка мутации записи - инвариант Level == LevelForXP(XP)
// держится именно здесь.
func (r *UserLevelRecord) ApplyAward(delta XP, now time.Time) (AwardOutcome, error) {
	if delta < 0 {
		return AwardOutcome{}, ErrNegativeDelta
	}

	oldLevel := r.Level
	r.XP = r.XP.Add(delta)
	r.Level = LevelForXP(r.XP)
	r.UpdatedAt = now.UTC()

	return AwardOutcome{
		Delta:    delta,
		NewXP:    r.XP,
		OldLevel: oldLevel,
		NewLevel: r.Level,
	}, nil
}

// Validate проверяет инварианты записи.
func (r *UserLevelRecord) Validate() error {
	if !r.UserID.IsValid() {
		return shared.ErrInvalidUserID
	}
	if !r.XP.IsValid() {
		return shared.ErrInvalidXP
	}
	if !r.Level.IsValid() || r.Level != LevelForXP(r.XP) {
		return shared.ErrInvalidLevel
	}
	return nil
}
