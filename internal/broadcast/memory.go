package broadcast

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
)

// NewMemoryChannel constructs a Channel backed by watermill's in-process
// gochannel pubsub: every instance attached to it must live in the same
// process. This is the default transport (config "memory") and needs no
// build tag since gochannel carries no external dependency beyond
// watermill itself.
func NewMemoryChannel(log zerolog.Logger) *Channel {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            256,
		Persistent:                     false,
		BlockPublishUntilSubscriberAck: false,
	}, watermillLogger{log})
	return newChannel(pubsub, pubsub, log)
}

// watermillLogger adapts zerolog.Logger to watermill.LoggerAdapter, the
// same shim the teacher's eventprocessor package would reach for if it
// didn't build watermill.NewStdLogger directly; Ichor routes everything
// through zerolog instead so broadcast log lines carry the same fields
// as the rest of the runtime.
type watermillLogger struct {
	log zerolog.Logger
}

func (l watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.log.Error().Err(err).Fields(map[string]any(fields)).Msg(msg)
}

func (l watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.log.Info().Fields(map[string]any(fields)).Msg(msg)
}

func (l watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.log.Debug().Fields(map[string]any(fields)).Msg(msg)
}

func (l watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.log.Trace().Fields(map[string]any(fields)).Msg(msg)
}

func (l watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillLogger{l.log.With().Fields(map[string]any(fields)).Logger()}
}
