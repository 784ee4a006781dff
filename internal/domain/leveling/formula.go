// Package leveling содержит доменную модель прокачки за голосовые сессии.
// Это ядро бизнес-логики - здесь нет внешних зависимостей.
package leveling

import (
	"math"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// FORMULAS
// ══════════════════════════════════════════════════════════════════════════════

// Политика начисления: 1 XP за каждые 3 секунды в голосовом канале.
const xpPerSecondDivisor = 3

// XPForDuration вычисляет прирост XP за проведённое в голосовом канале время.
// Формула: floor(seconds / 3). Отрицательная длительность - нарушение
// контракта вызывающей стороны, возвращаем 0 вместо паники.
func XPForDuration(d time.Duration) XP {
	seconds := int64(d / time.Second)
	if seconds <= 0 {
		return 0
	}
	return XP(seconds / xpPerSecondDivisor)
}

// LevelForXP вычисляет уровень на основе накопленного XP.
// Формула: floor(0.1 * sqrt(xp)) + 1. Монотонно неубывающая, минимум 1.
// Уровень всегда выводится из XP заново - отдельного счётчика уровня нет.
func LevelForXP(xp XP) Level {
	if xp < 0 {
		return 1
	}
	return Level(math.Floor(0.1*math.Sqrt(float64(xp)))) + 1
}

// XPForLevel возвращает минимальный XP, необходимый для достижения уровня.
// Обратная функция к LevelForXP: xp = ((level-1) * 10)^2.
func XPForLevel(level Level) XP {
	if level <= 1 {
		return 0
	}
	n := float64(level-1) * 10
	return XP(math.Ceil(n * n))
}

// XPToNextLevel возвращает, сколько XP не хватает до следующего уровня.
// Используется карточкой уровня для отображения прогресса.
func XPToNextLevel(xp XP) XP {
	next := XPForLevel(LevelForXP(xp) + 1)
	if next <= xp {
		return 0
	}
	return next - xp
}
