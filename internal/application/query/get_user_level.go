// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/shiva-hub/shiva-voice-hub/internal/domain/leveling"
	"github.com/shiva-hub/shiva-voice-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET USER LEVEL QUERY
// Возвращает уровень, XP и прогресс до следующего уровня для пользователя.
// Команда /level исходного бота поверх этого запроса.
// ══════════════════════════════════════════════════════════════════════════════

// GetUserLevelQuery содержит параметры запроса.
type GetUserLevelQuery struct {
	// UserID - пользователь, чей прогресс запрашивается.
	UserID shared.UserID

	// IncludeRank - вычислять ли позицию в глобальном рейтинге
	// (дополнительный запрос к хранилищу).
	IncludeRank bool
}

// Validate проверяет корректность параметров запроса.
func (q *GetUserLevelQuery) Validate() error {
	if !q.UserID.IsValid() {
		return shared.ErrInvalidUserID
	}
	return nil
}

// UserLevelDTO - DTO прогресса пользователя.
type UserLevelDTO struct {
	// UserID - идентификатор пользователя.
	UserID string `json:"user_id"`

	// XP - накопленные очки опыта.
	XP int `json:"xp"`

	// Level - текущий уровень.
	Level int `json:"level"`

	// XPToNextLevel - сколько XP не хватает до следующего уровня.
	XPToNextLevel int `json:"xp_to_next_level"`

	// Rank - позиция в глобальном рейтинге (0, если не запрашивалась).
	Rank int `json:"rank,omitempty"`
}

// ErrUserLevelNotFound возвращается, когда у пользователя ещё нет записи
// (ни одной зачтённой голосовой сессии).
var ErrUserLevelNotFound = shared.ErrRecordNotFound

// GetUserLevelHandler обрабатывает GetUserLevelQuery.
type GetUserLevelHandler struct {
	repo leveling.Repository
}

// NewGetUserLevelHandler создаёт обработчик.
func NewGetUserLevelHandler(repo leveling.Repository) *GetUserLevelHandler {
	return &GetUserLevelHandler{repo: repo}
}

// Handle выполняет запрос.
func (h *GetUserLevelHandler) Handle(ctx context.Context, q GetUserLevelQuery) (*UserLevelDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_user_level: %w", err)
	}

	record, err := h.repo.GetByUserID(ctx, q.UserID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, ErrUserLevelNotFound
		}
		return nil, fmt.Errorf("get_user_level: %w", err)
	}

	dto := &UserLevelDTO{
		UserID:        record.UserID.String(),
		XP:            record.XP.Int(),
		Level:         record.Level.Int(),
		XPToNextLevel: leveling.XPToNextLevel(record.XP).Int(),
	}

	if q.IncludeRank {
		rank, err := h.repo.Rank(ctx, q.UserID)
		if err != nil {
			return nil, fmt.Errorf("get_user_level: rank: %w", err)
		}
		dto.Rank = rank
	}

	return dto, nil
}
