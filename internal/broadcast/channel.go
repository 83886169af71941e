// Package broadcast implements the optional cross-instance fan-out
// channel of spec.md §6: several runtime instances, each pinned to its
// own OS thread and sharing no state, can attach to a Channel so that
// broadcastEvent copies an event into every attached instance's queue.
// It is built on watermill the same way the teacher's event bus is:
// an in-process gochannel transport by default, or a NATS JetStream
// transport when built with -tags=nats, chosen by Config.Transport.
package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ichor/internal/event"
	"ichor/internal/service"
)

// Topic is the single watermill topic every attached instance publishes
// to and subscribes from. Ichor does not need per-event-type topics: the
// envelope's Type field lets each instance demultiplex locally.
const Topic = "ichor.broadcast"

// Decoder turns a raw JSON payload back into the concrete type a
// broadcast event carried, keyed by the type's event.Type hash.
type Decoder func(data []byte) (any, error)

// Pusher is the subset of a runtime instance's queue a Channel needs to
// re-inject a received broadcast event locally.
type Pusher interface {
	Push(typ event.Type, origin service.ID, priority event.Priority, payload any) event.ID
}

// Channel binds a watermill publisher/subscriber pair under one topic
// and a decoder registry, fanning broadcast events out to every
// instance attached via Attach.
type Channel struct {
	pub message.Publisher
	sub message.Subscriber

	mu       sync.RWMutex
	decoders map[event.Type]Decoder

	log zerolog.Logger
}

// newChannel wraps an already-constructed publisher/subscriber pair.
// Unexported: callers use NewMemoryChannel or NewNATSChannel so the
// transport choice stays explicit at the call site.
func newChannel(pub message.Publisher, sub message.Subscriber, log zerolog.Logger) *Channel {
	return &Channel{
		pub:      pub,
		sub:      sub,
		decoders: make(map[event.Type]Decoder),
		log:      log.With().Str("component", "broadcast").Logger(),
	}
}

// RegisterDecoder registers how to decode broadcast events of type T,
// keyed by event.TypeOf[T](). Call this for every payload type a
// collaborator wants to receive from peer instances before Attach.
func RegisterDecoder[T any](ch *Channel) {
	typ := event.TypeOf[T]()
	ch.mu.Lock()
	ch.decoders[typ] = func(data []byte) (any, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
	ch.mu.Unlock()
}

// PublishEvent marshals payload and publishes it on the channel's
// topic, to be re-injected as an event of priority on every attached
// instance (including, if subscribed, the instance that published it).
func PublishEvent[T any](ch *Channel, origin service.ID, priority event.Priority, payload T) error {
	typ := event.TypeOf[T]()
	data, err := marshalEnvelope(typ, event.ServiceID(origin), priority, payload)
	if err != nil {
		return err
	}
	msg := message.NewMessage(uuid.NewString(), data)
	if err := ch.pub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("publish broadcast event: %w", err)
	}
	return nil
}

// Attach subscribes push's instance to the channel: every future
// broadcast event with a registered decoder is pushed onto push as a
// local event. Attach blocks until ctx is cancelled or the subscription
// ends, so callers typically run it as a suture.Service (see Service).
func (c *Channel) Attach(ctx context.Context, push Pusher) error {
	messages, err := c.sub.Subscribe(ctx, Topic)
	if err != nil {
		return fmt.Errorf("subscribe to broadcast topic: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			c.deliver(msg, push)
		}
	}
}

func (c *Channel) deliver(msg *message.Message, push Pusher) {
	env, err := unmarshalEnvelope(msg.Payload)
	if err != nil {
		c.log.Warn().Err(err).Msg("dropping malformed broadcast envelope")
		msg.Nack()
		return
	}

	c.mu.RLock()
	decode, ok := c.decoders[env.Type]
	c.mu.RUnlock()
	if !ok {
		// No local collaborator cares about this payload type; ack and
		// move on rather than nacking forever.
		msg.Ack()
		return
	}

	payload, err := decode(env.Data)
	if err != nil {
		c.log.Warn().Err(err).Msg("dropping undecodable broadcast payload")
		msg.Nack()
		return
	}

	push.Push(env.Type, service.ID(env.Origin), env.Priority, payload)
	msg.Ack()
}

// Close releases the channel's publisher and subscriber.
func (c *Channel) Close() error {
	var errs []error
	if err := c.pub.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.sub.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("close broadcast channel: %v", errs)
	}
	return nil
}

// Service adapts a Channel into a suture.Service so it can be hosted
// under the broadcast supervision layer (see cmd/ichord).
type Service struct {
	ch   *Channel
	push Pusher
	name string
}

// NewService wraps ch as a supervised collaborator pushing received
// broadcast events onto push.
func NewService(ch *Channel, push Pusher, name string) *Service {
	if name == "" {
		name = "broadcast"
	}
	return &Service{ch: ch, push: push, name: name}
}

// Serve implements suture.Service.
func (s *Service) Serve(ctx context.Context) error {
	return s.ch.Attach(ctx, s.push)
}

// String implements fmt.Stringer for suture's event log.
func (s *Service) String() string { return s.name }
