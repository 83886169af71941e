//go:build nats

package broadcast

import (
	"fmt"

	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"ichor/internal/config"
)

// NewNATSChannel constructs a Channel backed by NATS JetStream, letting
// broadcast events cross process boundaries (config transport "nats").
// Build with -tags=nats to link the NATS client; see nats_stub.go for
// the default build's stand-in.
func NewNATSChannel(cfg config.BroadcastConfig, log zerolog.Logger) (*Channel, error) {
	logger := watermillLogger{log}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("broadcast channel disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("broadcast channel reconnected", map[string]any{"url": nc.ConnectedUrl()})
		}),
	}

	pubConfig := wmNats.PublisherConfig{
		URL:         cfg.NATSURL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
		},
	}
	pub, err := wmNats.NewPublisher(pubConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create broadcast publisher: %w", err)
	}

	subConfig := wmNats.SubscriberConfig{
		URL:              cfg.NATSURL,
		QueueGroupPrefix: "",
		SubscribersCount: 1,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			AckAsync:      false,
		},
	}
	sub, err := wmNats.NewSubscriber(subConfig, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("create broadcast subscriber: %w", err)
	}

	return newChannel(pub, sub, log), nil
}
