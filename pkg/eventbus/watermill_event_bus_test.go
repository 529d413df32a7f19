package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procflow/procflow/pkg/events"
)

func newTestBus(t *testing.T) EventBus {
	t.Helper()

	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	bus := NewWatermillEventBus(pubsub, pubsub)

	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		received []*events.WorkflowTransitioned
	)

	err := bus.Handle(events.WorkflowTransitionedEvent, func(_ context.Context, event any) error {
		transitioned, ok := event.(*events.WorkflowTransitioned)
		require.True(t, ok)

		mu.Lock()
		received = append(received, transitioned)
		mu.Unlock()

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(ctx))

	published := events.WorkflowTransitioned{
		BaseEvent: events.NewBaseEvent(events.WorkflowTransitionedEvent, "inst-1", "def-1", "alice"),
		FromNode:  "draft",
		ToNode:    "review",
		Reason:    "task completed",
		Version:   1,
	}

	require.NoError(t, bus.Publish(ctx, "inst-1", published))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(received) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, "draft", received[0].FromNode)
	assert.Equal(t, "review", received[0].ToNode)
	assert.Equal(t, "inst-1", received[0].InstanceID)
}

func TestSubscribeDemuxesByEventType(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu        sync.Mutex
		escalated int
	)

	err := bus.Handle(events.WorkflowEscalatedEvent, func(_ context.Context, _ any) error {
		mu.Lock()
		escalated++
		mu.Unlock()

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(ctx))

	// No handler registered for this type: the message is acked and dropped.
	require.NoError(t, bus.Publish(ctx, "inst-1", events.WorkflowCompleted{
		BaseEvent: events.NewBaseEvent(events.WorkflowCompletedEvent, "inst-1", "def-1", "alice"),
	}))

	require.NoError(t, bus.Publish(ctx, "inst-1", events.WorkflowEscalated{
		BaseEvent: events.NewBaseEvent(events.WorkflowEscalatedEvent, "inst-1", "def-1", "system"),
		NodeID:    "review",
		Targets:   []string{"reviewer"},
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return escalated == 1
	}, time.Second, 5*time.Millisecond)
}

func TestGenerateIDIsUnique(t *testing.T) {
	bus := newTestBus(t)

	assert.NotEqual(t, bus.GenerateID(), bus.GenerateID())
}
