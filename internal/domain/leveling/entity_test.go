package leveling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiva-hub/shiva-voice-hub/internal/domain/shared"
)

func TestNewUserLevelRecord_Defaults(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	record, err := NewUserLevelRecord(shared.UserID("123456789012345678"), now)
	require.NoError(t, err)

	assert.Equal(t, XP(0), record.XP)
	assert.Equal(t, Level(1), record.Level)
	assert.Equal(t, now, record.CreatedAt)
	assert.Equal(t, now, record.UpdatedAt)
	assert.NoError(t, record.Validate())
}

func TestNewUserLevelRecord_InvalidUserID(t *testing.T) {
	_, err := NewUserLevelRecord(shared.UserID(""), time.Now())
	assert.ErrorIs(t, err, shared.ErrInvalidUserID)
}

func TestApplyAward_AccumulatesAndRecomputesLevel(t *testing.T) {
	record, err := NewUserLevelRecord(shared.UserID("123456789012345678"), time.Now())
	require.NoError(t, err)

	outcome, err := record.ApplyAward(60, time.Now())
	require.NoError(t, err)
	assert.Equal(t, XP(60), outcome.NewXP)
	assert.Equal(t, Level(1), outcome.NewLevel)
	assert.False(t, outcome.LeveledUp())

	// Второе начисление переводит через порог 100 XP
	outcome, err = record.ApplyAward(60, time.Now())
	require.NoError(t, err)
	assert.Equal(t, XP(120), outcome.NewXP)
	assert.Equal(t, Level(1), outcome.OldLevel)
	assert.Equal(t, Level(2), outcome.NewLevel)
	assert.True(t, outcome.LeveledUp())

	assert.NoError(t, record.Validate())
}

func TestApplyAward_ZeroDelta(t *testing.T) {
	record, err := NewUserLevelRecord(shared.UserID("123456789012345678"), time.Now())
	require.NoError(t, err)

	outcome, err := record.ApplyAward(0, time.Now())
	require.NoError(t, err)
	assert.Equal(t, XP(0), outcome.NewXP)
	assert.False(t, outcome.LeveledUp())
}

func TestApplyAward_NegativeDelta(t *testing.T) {
	record, err := NewUserLevelRecord(shared.UserID("123456789012345678"), time.Now())
	require.NoError(t, err)

	_, err = record.ApplyAward(-1, time.Now())
	assert.ErrorIs(t, err, ErrNegativeDelta)
	assert.Equal(t, XP(0), record.XP)
}

func TestApplyAward_MultiLevelJump(t *testing.T) {
	record, err := NewUserLevelRecord(shared.UserID("123456789012345678"), time.Now())
	require.NoError(t, err)

	// 24 часа в голосе - 28800 XP, сразу несколько уровней
	outcome, err := record.ApplyAward(28800, time.Now())
	require.NoError(t, err)
	assert.Equal(t, Level(1), outcome.OldLevel)
	assert.Equal(t, LevelForXP(28800), outcome.NewLevel)
	assert.True(t, outcome.NewLevel > 2)
	assert.True(t, outcome.LeveledUp())
}

func TestValidate_DetectsStaleLevel(t *testing.T) {
	record := &UserLevelRecord{
		UserID: shared.UserID("123456789012345678"),
		XP:     400,
		Level:  1, // должен быть 3
	}
	assert.ErrorIs(t, record.Validate(), shared.ErrInvalidLevel)
}
