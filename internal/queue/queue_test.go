package queue

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ichor/internal/config"
	"ichor/internal/event"
	"ichor/internal/service"
)

func testConfig() config.QueueConfig {
	return config.QueueConfig{
		SpinlockWindow: time.Millisecond,
		MaxSleep:       50 * time.Millisecond,
		QuitTimeout:    time.Second,
	}
}

func TestPopReturnsEventsInPriorityOrder(t *testing.T) {
	q := New(testConfig(), zerolog.Nop())
	q.Push(event.Type(1), service.FrameworkOrigin, event.Priority(20), "low-priority")
	q.Push(event.Type(1), service.FrameworkOrigin, event.Priority(10), "high-priority")

	ctx := context.Background()
	first, ok := q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, "high-priority", first.Payload)

	second, ok := q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, "low-priority", second.Payload)
}

func TestPopIsFIFOAtEqualPriority(t *testing.T) {
	q := New(testConfig(), zerolog.Nop())
	q.Push(event.Type(1), service.FrameworkOrigin, event.PriorityEvent, "first")
	q.Push(event.Type(1), service.FrameworkOrigin, event.PriorityEvent, "second")
	q.Push(event.Type(1), service.FrameworkOrigin, event.PriorityEvent, "third")

	ctx := context.Background()
	for _, want := range []string{"first", "second", "third"} {
		got, ok := q.Pop(ctx)
		require.True(t, ok)
		assert.Equal(t, want, got.Payload)
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New(testConfig(), zerolog.Nop())
	ctx := context.Background()

	done := make(chan event.Event, 1)
	go func() {
		evt, ok := q.Pop(ctx)
		if ok {
			done <- evt
		}
	}()

	time.Sleep(5 * time.Millisecond)
	q.Push(event.Type(1), service.FrameworkOrigin, event.PriorityEvent, "woken")

	select {
	case evt := <-done:
		assert.Equal(t, "woken", evt.Payload)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up after Push")
	}
}

func TestPopReturnsFalseOnContextCancel(t *testing.T) {
	q := New(testConfig(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := q.Pop(ctx)
	assert.False(t, ok)
}

func TestEmptyReflectsProcessingFlag(t *testing.T) {
	q := New(testConfig(), zerolog.Nop())
	assert.True(t, q.Empty())

	q.Push(event.Type(1), service.FrameworkOrigin, event.PriorityEvent, "x")
	assert.False(t, q.Empty())

	_, ok := q.Pop(context.Background())
	require.True(t, ok)
	// Popped but not yet marked idle: still "processing".
	assert.False(t, q.Empty())

	q.MarkIdle()
	assert.True(t, q.Empty())
}

func TestSizeCountsProcessingEvent(t *testing.T) {
	q := New(testConfig(), zerolog.Nop())
	q.Push(event.Type(1), service.FrameworkOrigin, event.PriorityEvent, "a")
	q.Push(event.Type(1), service.FrameworkOrigin, event.PriorityEvent, "b")
	assert.Equal(t, 2, q.Size())

	_, ok := q.Pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, 2, q.Size())

	q.MarkIdle()
	assert.Equal(t, 1, q.Size())
}

func TestQuitSetsQuittingFlag(t *testing.T) {
	q := New(testConfig(), zerolog.Nop())
	assert.False(t, q.Quitting())
	q.Quit()
	assert.True(t, q.Quitting())
}

func TestQuitDoesNotBlockFurtherPushes(t *testing.T) {
	// The dispatch loop's drain cascade still needs to enqueue
	// StopService/RemoveService after Quit (spec.md §4.4).
	q := New(testConfig(), zerolog.Nop())
	q.Quit()
	q.Push(event.Type(1), service.FrameworkOrigin, event.PriorityDependency, "stop-service")

	got, ok := q.Pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, "stop-service", got.Payload)
}

func TestPushEventPreservesCallerFields(t *testing.T) {
	q := New(testConfig(), zerolog.Nop())
	q.PushEvent(event.New(0, event.Type(42), service.ID(7), event.PriorityEvent, "payload"))

	got, ok := q.Pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, event.Type(42), got.Type)
	assert.Equal(t, service.ID(7), got.Origin)
	assert.Equal(t, "payload", got.Payload)
}
