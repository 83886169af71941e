package broadcast

import (
	"fmt"

	"github.com/rs/zerolog"

	"ichor/internal/config"
)

// New constructs a Channel for cfg.Transport ("memory" or "nats",
// defaulting to "memory"). config.Config.Validate already rejects any
// other value before this is called.
func New(cfg config.BroadcastConfig, log zerolog.Logger) (*Channel, error) {
	switch cfg.Transport {
	case "", "memory":
		return NewMemoryChannel(log), nil
	case "nats":
		return NewNATSChannel(cfg, log)
	default:
		return nil, fmt.Errorf("unknown broadcast transport %q", cfg.Transport)
	}
}
