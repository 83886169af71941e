package broadcast

import (
	"fmt"

	"github.com/goccy/go-json"

	"ichor/internal/event"
)

// envelope is the wire format for a broadcast event: a stable type key
// plus the JSON-encoded payload, so a receiving instance can look up the
// right Decoder before re-injecting the event into its own queue.
type envelope struct {
	Type     event.Type      `json:"type"`
	Origin   event.ServiceID `json:"origin"`
	Priority event.Priority  `json:"priority"`
	Data     json.RawMessage `json:"data"`
}

func marshalEnvelope(typ event.Type, origin event.ServiceID, priority event.Priority, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal broadcast payload: %w", err)
	}
	env := envelope{Type: typ, Origin: origin, Priority: priority, Data: data}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal broadcast envelope: %w", err)
	}
	return out, nil
}

func unmarshalEnvelope(raw []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("unmarshal broadcast envelope: %w", err)
	}
	return env, nil
}
