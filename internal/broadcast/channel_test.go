package broadcast

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

type pingPayload struct {
	From string `json:"from"`
}

type recordingPusher struct {
	mu     chan struct{}
	events []event.Event
}

func newRecordingPusher() *recordingPusher {
	return &recordingPusher{mu: make(chan struct{}, 16)}
}

func (p *recordingPusher) Push(typ event.Type, origin service.ID, priority event.Priority, payload any) event.ID {
	p.events = append(p.events, event.New(event.ID(len(p.events)), typ, event.ServiceID(origin), priority, payload))
	p.mu <- struct{}{}
	return event.ID(len(p.events))
}

func TestMemoryChannelPublishAndAttach(t *testing.T) {
	ch := NewMemoryChannel(zerolog.Nop())
	RegisterDecoder[pingPayload](ch)

	push := newRecordingPusher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ch.Attach(ctx, push) }()

	require.NoError(t, PublishEvent(ch, service.ID(9), event.PriorityEvent, pingPayload{From: "peer-a"}))

	select {
	case <-push.mu:
	case <-time.After(time.Second):
		t.Fatal("broadcast event was not delivered")
	}

	require.Len(t, push.events, 1)
	got, ok := push.events[0].Payload.(pingPayload)
	require.True(t, ok)
	assert.Equal(t, "peer-a", got.From)
	assert.Equal(t, service.ID(9), service.ID(push.events[0].Origin))
}

func TestMemoryChannelUndecodedTypeIsAcked(t *testing.T) {
	ch := NewMemoryChannel(zerolog.Nop())
	// No decoder registered for pingPayload.

	push := newRecordingPusher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ch.Attach(ctx, push) }()

	require.NoError(t, PublishEvent(ch, service.ID(1), event.PriorityEvent, pingPayload{From: "peer-b"}))

	select {
	case <-push.mu:
		t.Fatal("push should not be called for an undecodable type")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNewDefaultsToMemoryTransport(t *testing.T) {
	ch, err := New(config.BroadcastConfig{}, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, ch)
}
