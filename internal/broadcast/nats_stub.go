//go:build !nats

package broadcast

import (
	"fmt"

	"github.com/rs/zerolog"

	"ichor/internal/config"
)

// NewNATSChannel returns an error when NATS dependencies are not
// available. Build with -tags=nats to enable the JetStream transport.
func NewNATSChannel(_ config.BroadcastConfig, _ zerolog.Logger) (*Channel, error) {
	return nil, fmt.Errorf("nats broadcast transport not available: build with -tags=nats")
}
