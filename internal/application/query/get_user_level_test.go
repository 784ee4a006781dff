package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiva-hub/shiva-voice-hub/internal/domain/shared"
)

func TestGetUserLevel(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(shared.UserID("100000000000000001"), 250)

	handler := NewGetUserLevelHandler(repo)
	dto, err := handler.Handle(context.Background(), GetUserLevelQuery{
		UserID: shared.UserID("100000000000000001"),
	})
	require.NoError(t, err)

	assert.Equal(t, "100000000000000001", dto.UserID)
	assert.Equal(t, 250, dto.XP)
	assert.Equal(t, 2, dto.Level)
	assert.Equal(t, 150, dto.XPToNextLevel) // уровень 3 начинается с 400 XP
	assert.Equal(t, 0, dto.Rank, "rank not requested")
}

func TestGetUserLevel_WithRank(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(shared.UserID("100000000000000001"), 250)
	repo.ranks[shared.UserID("100000000000000001")] = 7

	handler := NewGetUserLevelHandler(repo)
	dto, err := handler.Handle(context.Background(), GetUserLevelQuery{
		UserID:      shared.UserID("100000000000000001"),
		IncludeRank: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, dto.Rank)
}

func TestGetUserLevel_NotFound(t *testing.T) {
	handler := NewGetUserLevelHandler(newFakeRepo())

	_, err := handler.Handle(context.Background(), GetUserLevelQuery{
		UserID: shared.UserID("100000000000000001"),
	})
	assert.ErrorIs(t, err, ErrUserLevelNotFound)
}

func TestGetUserLevel_InvalidUserID(t *testing.T) {
	handler := NewGetUserLevelHandler(newFakeRepo())

	_, err := handler.Handle(context.Background(), GetUserLevelQuery{
		UserID: shared.UserID("abc"),
	})
	assert.ErrorIs(t, err, shared.ErrInvalidUserID)
}
