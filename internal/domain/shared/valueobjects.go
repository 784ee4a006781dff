// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"regexp"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// Discord snowflake IDs are decimal strings of 17-20 digits.
var snowflakeRegex = regexp.MustCompile(`^[0-9]{17,20}$`)

// UserID represents a unique Discord user identifier (snowflake).
type UserID string

// IsValid checks if the user ID is a well-formed snowflake.
func (u UserID) IsValid() bool {
	return snowflakeRegex.MatchString(string(u))
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// NewUserID creates a new UserID with validation.
func NewUserID(id string) (UserID, error) {
	u := UserID(id)
	if !u.IsValid() {
		return "", ErrInvalidUserID
	}
	return u, nil
}

// GuildID represents a unique Discord guild (server) identifier.
type GuildID string

// IsValid checks if the guild ID is a well-formed snowflake.
func (g GuildID) IsValid() bool {
	return snowflakeRegex.MatchString(string(g))
}

// String returns the string representation.
func (g GuildID) String() string {
	return string(g)
}

// NewGuildID creates a new GuildID with validation.
func NewGuildID(id string) (GuildID, error) {
	g := GuildID(id)
	if !g.IsValid() {
		return "", ErrInvalidGuildID
	}
	return g, nil
}

// ChannelID represents a unique Discord channel identifier.
// An empty ChannelID means "no channel" (e.g. no system channel configured).
type ChannelID string

// IsZero reports whether the channel ID is unset.
func (c ChannelID) IsZero() bool {
	return c == ""
}

// IsValid checks if the channel ID is a well-formed snowflake.
func (c ChannelID) IsValid() bool {
	return snowflakeRegex.MatchString(string(c))
}

// String returns the string representation.
func (c ChannelID) String() string {
	return string(c)
}

// ═══════════════════════════════════════════════════════════════════════════
// Time Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// Timestamp wraps a point in time with UTC normalization.
type Timestamp struct {
	t time.Time
}

// NewTimestamp creates a Timestamp normalized to UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t: t.UTC()}
}

// Time returns the underlying time.Time.
func (ts Timestamp) Time() time.Time {
	return ts.t
}

// IsZero reports whether the timestamp is unset.
func (ts Timestamp) IsZero() bool {
	return ts.t.IsZero()
}

// Before reports whether ts is before other.
func (ts Timestamp) Before(other Timestamp) bool {
	return ts.t.Before(other.t)
}
