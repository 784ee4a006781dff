// Package leveling содержит доменную модель прокачки за голосовые сессии.
package leveling

import (
	"context"

	"github.com/shiva-hub/shiva-voice-hub/internal/domain/shared"
)

// AwardResult - результат атомарного начисления XP в хранилище.
type AwardResult struct {
	// Record - запись после начисления.
	Record *UserLevelRecord

	// Outcome - подробности начисления (дельта, старый и новый уровень).
	Outcome AwardOutcome

	// Created - true, если запись была создана этим начислением.
	Created bool
}

// Repository определяет контракт персистентного хранилища записей прогресса.
// Реализация: internal/infrastructure/persistence/postgres.
type Repository interface {
	// GetOrCreate атомарно возвращает запись пользователя, создавая её
	// с дефолтами {xp: 0, level: 1} при первом обращении. Конкурентные
	// первые начисления не должны плодить дубликаты.
	GetOrCreate(ctx context.Context, userID shared.UserID) (*UserLevelRecord, error)

	// AwardXP атомарно (read-modify-write под блокировкой строки) начисляет
	// delta XP пользователю и пересчитывает уровень из нового XP в той же
	// транзакции. Ровно одна запись в хранилище на вызов.
	AwardXP(ctx context.Context, userID shared.UserID, delta XP) (*AwardResult, error)

	// GetByUserID возвращает запись или shared.ErrRecordNotFound.
	GetByUserID(ctx context.Context, userID shared.UserID) (*UserLevelRecord, error)

	// TopUsers возвращает топ-N записей: level DESC, затем xp DESC.
	// Пустой результат - пустой срез, не ошибка.
	TopUsers(ctx context.Context, limit int) ([]*UserLevelRecord, error)

	// Rank возвращает позицию пользователя в глобальном рейтинге (с 1).
	Rank(ctx context.Context, userID shared.UserID) (int, error)

	// CountUsers возвращает общее число записей.
	CountUsers(ctx context.Context) (int, error)
}
