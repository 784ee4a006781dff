// Package query contains read operations following CQRS pattern.
package query

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shiva-hub/shiva-voice-hub/internal/domain/leveling"
	"github.com/shiva-hub/shiva-voice-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Получает топ-N пользователей: level DESC, при равенстве - xp DESC.
// Записи прогресса глобальные; guildID задаёт контекст отображения,
// а не фильтр данных.
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardQuery содержит параметры запроса лидерборда.
type GetLeaderboardQuery struct {
	// GuildID - гильдия, из которой пришёл запрос (контекст представления).
	GuildID shared.GuildID

	// Limit - количество записей (по умолчанию 10, максимум 100).
	Limit int
}

// Validate проверяет корректность параметров запроса.
func (q *GetLeaderboardQuery) Validate() error {
	if q.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Limit == 0 {
		q.Limit = 10
	}
	return nil
}

// LeaderboardEntryDTO - DTO для записи лидерборда.
type LeaderboardEntryDTO struct {
	// Rank - позиция в рейтинге (начиная с 1).
	Rank int `json:"rank"`

	// UserID - идентификатор пользователя.
	UserID string `json:"user_id"`

	// Level - уровень пользователя.
	Level int `json:"level"`

	// XP - накопленные очки опыта.
	XP int `json:"xp"`
}

// LeaderboardDTO - результат запроса лидерборда.
type LeaderboardDTO struct {
	Entries     []LeaderboardEntryDTO `json:"entries"`
	TotalUsers  int                   `json:"total_users"`
	FromCache   bool                  `json:"from_cache"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardCache - порт горячего кеша лидерборда (Redis).
// Реализация опциональна: nil-кеш деградирует к прямому чтению из хранилища.
type LeaderboardCache interface {
	// Top возвращает топ-N записей из кеша. Пустой срез - промах.
	Top(ctx context.Context, limit int) ([]LeaderboardEntryDTO, error)

	// Fill перезаписывает кеш свежими записями. Вызывается только джобой
	// перестройки: запросный путь кеш не наполняет, иначе запрос с малым
	// limit затёр бы полный набор усечённым.
	Fill(ctx context.Context, entries []LeaderboardEntryDTO) error
}

// GetLeaderboardHandler обрабатывает GetLeaderboardQuery.
type GetLeaderboardHandler struct {
	repo   leveling.Repository
	cache  LeaderboardCache
	logger *slog.Logger
}

// NewGetLeaderboardHandler создаёт обработчик. cache может быть nil.
func NewGetLeaderboardHandler(repo leveling.Repository, cache LeaderboardCache, logger *slog.Logger) *GetLeaderboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetLeaderboardHandler{repo: repo, cache: cache, logger: logger}
}

// Handle выполняет запрос. Кеш отвечает только когда способен отдать
// полный limit; короткий набор, промах или ошибка кеша не фатальны -
// идём в хранилище. Наполняет кеш джоба перестройки, а не запрос.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*LeaderboardDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if h.cache != nil {
		entries, err := h.cache.Top(ctx, q.Limit)
		switch {
		case err != nil:
			h.logger.Warn("leaderboard cache read failed, falling back to store", "error", err)
		case len(entries) >= q.Limit:
			return &LeaderboardDTO{
				Entries:     entries,
				TotalUsers:  len(entries),
				FromCache:   true,
				GeneratedAt: time.Now().UTC(),
			}, nil
		}
	}

	records, err := h.repo.TopUsers(ctx, q.Limit)
	if err != nil {
		return nil, err
	}

	entries := MapRecords(records)

	total, err := h.repo.CountUsers(ctx)
	if err != nil {
		h.logger.Warn("failed to count users for leaderboard", "error", err)
		total = len(entries)
	}

	return &LeaderboardDTO{
		Entries:     entries,
		TotalUsers:  total,
		FromCache:   false,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// MapRecords переводит доменные записи в DTO с рангами.
// Используется и обработчиком, и джобой прогрева кеша.
func MapRecords(records []*leveling.UserLevelRecord) []LeaderboardEntryDTO {
	entries := make([]LeaderboardEntryDTO, 0, len(records))
	for i, r := range records {
		entries = append(entries, LeaderboardEntryDTO{
			Rank:   i + 1,
			UserID: r.UserID.String(),
			Level:  r.Level.Int(),
			XP:     r.XP.Int(),
		})
	}
	return entries
}
