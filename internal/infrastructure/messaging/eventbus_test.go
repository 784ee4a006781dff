package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiva-hub/shiva-voice-hub/internal/domain/shared"
)

// recordingHandler counts deliveries for the event types it declares.
type recordingHandler struct {
	mu     sync.Mutex
	types  []shared.EventType
	events []shared.Event
	err    error
}

func (h *recordingHandler) Handle(ctx context.Context, event shared.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return h.err
}

func (h *recordingHandler) EventTypes() []shared.EventType {
	return h.types
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func syncBus() *InMemoryEventBus {
	cfg := DefaultInMemoryEventBusConfig()
	cfg.AsyncMode = false
	return NewInMemoryEventBus(cfg)
}

func TestPublishDeliversToSubscribedType(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	handler := &recordingHandler{types: []shared.EventType{shared.EventLevelUp}}
	require.NoError(t, bus.Subscribe(handler))

	event := shared.NewLevelUpEvent("100000000000000001", "200000000000000001", 1, 2)
	require.NoError(t, bus.Publish(context.Background(), event))

	assert.Equal(t, 1, handler.count())
}

func TestPublishSkipsUnrelatedTypes(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	handler := &recordingHandler{types: []shared.EventType{shared.EventLevelUp}}
	require.NoError(t, bus.Subscribe(handler))

	event := shared.NewXPAwardedEvent("100000000000000001", "200000000000000001", 10, 10)
	require.NoError(t, bus.Publish(context.Background(), event))

	assert.Equal(t, 0, handler.count())
}

func TestSubscribeMultipleTypes(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	handler := &recordingHandler{types: []shared.EventType{
		shared.EventSessionStarted,
		shared.EventSessionEnded,
	}}
	require.NoError(t, bus.Subscribe(handler))

	require.NoError(t, bus.Publish(context.Background(),
		shared.NewSessionStartedEvent("100000000000000001", "200000000000000001", "300000000000000001")))
	require.NoError(t, bus.Publish(context.Background(),
		shared.NewSessionEndedEvent("100000000000000001", "200000000000000001", "300000000000000001", 120)))

	assert.Equal(t, 2, handler.count())
}

func TestHandlerErrorDoesNotFailPublish(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	failing := &recordingHandler{
		types: []shared.EventType{shared.EventLevelUp},
		err:   errors.New("handler exploded"),
	}
	healthy := &recordingHandler{types: []shared.EventType{shared.EventLevelUp}}
	require.NoError(t, bus.Subscribe(failing))
	require.NoError(t, bus.Subscribe(healthy))

	event := shared.NewLevelUpEvent("100000000000000001", "200000000000000001", 1, 2)
	assert.NoError(t, bus.Publish(context.Background(), event))
	assert.Equal(t, 1, healthy.count(), "other handlers still receive the event")
}

func TestAsyncDelivery(t *testing.T) {
	cfg := DefaultInMemoryEventBusConfig()
	cfg.AsyncMode = true
	bus := NewInMemoryEventBus(cfg)

	handler := &recordingHandler{types: []shared.EventType{shared.EventLevelUp}}
	require.NoError(t, bus.Subscribe(handler))

	for i := 0; i < 5; i++ {
		event := shared.NewLevelUpEvent("100000000000000001", "200000000000000001", i, i+1)
		require.NoError(t, bus.Publish(context.Background(), event))
	}

	// Close дожидается всех in-flight обработчиков
	require.NoError(t, bus.Close())
	assert.Equal(t, 5, handler.count())
}

func TestSubscribeNilHandler(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	assert.ErrorIs(t, bus.Subscribe(nil), ErrNilHandler)
}

func TestClosedBusRejectsOperations(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Close())

	handler := &recordingHandler{types: []shared.EventType{shared.EventLevelUp}}
	assert.ErrorIs(t, bus.Subscribe(handler), ErrEventBusClosed)

	event := shared.NewLevelUpEvent("100000000000000001", "200000000000000001", 1, 2)
	assert.ErrorIs(t, bus.Publish(context.Background(), event), ErrEventBusClosed)
}

func TestCloseIdempotent(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Close())
	assert.NoError(t, bus.Close())
}

func TestMetrics(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	handler := &recordingHandler{types: []shared.EventType{shared.EventLevelUp}}
	require.NoError(t, bus.Subscribe(handler))

	event := shared.NewLevelUpEvent("100000000000000001", "200000000000000001", 1, 2)
	require.NoError(t, bus.Publish(context.Background(), event))

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.TotalPublished)
	assert.Equal(t, int64(1), snap.TotalHandlerExecs)
	assert.Equal(t, 1.0, snap.HandlerSuccessRate)
	assert.GreaterOrEqual(t, snap.AverageHandlerDuration, time.Duration(0))
}
