// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"context"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven architecture.
// Each event represents something significant that happened in the domain.
const (
	// Session events
	EventSessionStarted   EventType = "session.started"
	EventSessionEnded     EventType = "session.ended"
	EventSessionDiscarded EventType = "session.discarded"

	// Leveling events
	EventXPAwarded EventType = "leveling.xp_awarded"
	EventLevelUp   EventType = "leveling.level_up"

	// Notification events
	EventAnnouncementSent   EventType = "notification.announcement_sent"
	EventAnnouncementFailed EventType = "notification.announcement_failed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Session Events
// ═══════════════════════════════════════════════════════════════════════════

// SessionStartedEvent is emitted when a user enters a tracked voice channel.
type SessionStartedEvent struct {
	BaseEvent
	UserID    string `json:"user_id"`
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
}

// Payload implements Event interface.
func (e SessionStartedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID,
		"guild_id":   e.GuildID,
		"channel_id": e.ChannelID,
	}
}

// NewSessionStartedEvent creates a new SessionStartedEvent.
func NewSessionStartedEvent(userID, guildID, channelID string) SessionStartedEvent {
	return SessionStartedEvent{
		BaseEvent: NewBaseEvent(EventSessionStarted, userID),
		UserID:    userID,
		GuildID:   guildID,
		ChannelID: channelID,
	}
}

// SessionEndedEvent is emitted when a tracked voice session ends with a
// measured duration, whether or not it qualified for an XP award.
type SessionEndedEvent struct {
	BaseEvent
	UserID          string `json:"user_id"`
	GuildID         string `json:"guild_id"`
	ChannelID       string `json:"channel_id"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// Payload implements Event interface.
func (e SessionEndedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":          e.UserID,
		"guild_id":         e.GuildID,
		"channel_id":       e.ChannelID,
		"duration_seconds": e.DurationSeconds,
	}
}

// NewSessionEndedEvent creates a new SessionEndedEvent.
func NewSessionEndedEvent(userID, guildID, channelID string, durationSeconds int64) SessionEndedEvent {
	return SessionEndedEvent{
		BaseEvent:       NewBaseEvent(EventSessionEnded, userID),
		UserID:          userID,
		GuildID:         guildID,
		ChannelID:       channelID,
		DurationSeconds: durationSeconds,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Leveling Events
// ═══════════════════════════════════════════════════════════════════════════

// XPAwardedEvent is emitted when a user gains XP from a voice session.
type XPAwardedEvent struct {
	BaseEvent
	UserID  string `json:"user_id"`
	GuildID string `json:"guild_id"`
	Delta   int    `json:"delta"`
	NewXP   int    `json:"new_xp"`
}

// Payload implements Event interface.
func (e XPAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":  e.UserID,
		"guild_id": e.GuildID,
		"delta":    e.Delta,
		"new_xp":   e.NewXP,
	}
}

// NewXPAwardedEvent creates a new XPAwardedEvent.
func NewXPAwardedEvent(userID, guildID string, delta, newXP int) XPAwardedEvent {
	return XPAwardedEvent{
		BaseEvent: NewBaseEvent(EventXPAwarded, userID),
		UserID:    userID,
		GuildID:   guildID,
		Delta:     delta,
		NewXP:     newXP,
	}
}

// LevelUpEvent is emitted exactly when a recomputed level exceeds the
// previously stored level.
type LevelUpEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	GuildID  string `json:"guild_id"`
	OldLevel int    `json:"old_level"`
	NewLevel int    `json:"new_level"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"guild_id":  e.GuildID,
		"old_level": e.OldLevel,
		"new_level": e.NewLevel,
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(userID, guildID string, oldLevel, newLevel int) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, userID),
		UserID:    userID,
		GuildID:   guildID,
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Bus Interfaces
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler processes domain events.
type EventHandler interface {
	// Handle processes the event. Returning an error marks the delivery as
	// failed; the bus logs it and moves on - event handling is best-effort.
	Handle(ctx context.Context, event Event) error

	// EventTypes returns the event types this handler is interested in.
	EventTypes() []EventType
}

// EventHandlerFunc adapts a function to the EventHandler interface.
type EventHandlerFunc struct {
	Types []EventType
	Fn    func(ctx context.Context, event Event) error
}

// Handle implements EventHandler.
func (f EventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return f.Fn(ctx, event)
}

// EventTypes implements EventHandler.
func (f EventHandlerFunc) EventTypes() []EventType {
	return f.Types
}

// EventPublisher publishes domain events.
type EventPublisher interface {
	// Publish delivers the event to all subscribed handlers.
	Publish(ctx context.Context, event Event) error
}

// EventBus combines publishing and subscription.
type EventBus interface {
	EventPublisher

	// Subscribe registers a handler for the event types it declares.
	Subscribe(handler EventHandler) error

	// Close shuts down the bus and waits for in-flight deliveries.
	Close() error
}
