package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/shiva-hub/shiva-voice-hub/internal/domain/shared"
)

func testSession(startedAt time.Time) Session {
	return Session{
		UserID:    shared.UserID("100000000000000001"),
		GuildID:   shared.GuildID("200000000000000001"),
		ChannelID: shared.ChannelID("300000000000000001"),
		StartedAt: startedAt,
	}
}

func TestSession_Duration(t *testing.T) {
	start := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	s := testSession(start)

	assert.Equal(t, 90*time.Second, s.Duration(start.Add(90*time.Second)))
	assert.Equal(t, time.Duration(0), s.Duration(start))
}

func TestSession_DurationClockMovedBackward(t *testing.T) {
	start := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	s := testSession(start)

	// Системные часы могут уйти назад (NTP-коррекция); отрицательная
	// длительность обязана схлопнуться в ноль, а не дать отрицательный XP
	assert.Equal(t, time.Duration(0), s.Duration(start.Add(-time.Hour)))
	assert.Equal(t, time.Duration(0), s.Duration(start.Add(-time.Nanosecond)))
}

func TestSession_AgeMatchesDuration(t *testing.T) {
	start := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	s := testSession(start)

	now := start.Add(25 * time.Hour)
	assert.Equal(t, s.Duration(now), s.Age(now))
	assert.Equal(t, time.Duration(0), s.Age(start.Add(-time.Minute)))
}
