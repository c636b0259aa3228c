package monitor

import (
	"encoding/hex"
	"time"

	"github.com/muurk/tuyalocal/internal/protocol"
)

// Event types
const (
	EventPacket = "packet"
	EventState  = "state"
)

// Event is one websocket message.
type Event struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`

	// Packet events
	Command    string         `json:"command,omitempty"`
	Sequence   uint32         `json:"seq,omitempty"`
	ReturnCode *uint32        `json:"return_code,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Raw        string         `json:"raw,omitempty"` // hex, for payloads that are not JSON

	// State events
	State string `json:"state,omitempty"`
}

func packetEvent(p protocol.Packet, at time.Time) Event {
	ev := Event{
		Type:     EventPacket,
		At:       at,
		Command:  p.Command.String(),
		Sequence: p.Sequence,
		Data:     p.Payload.Data,
	}
	if p.HasReturnCode {
		code := p.ReturnCode
		ev.ReturnCode = &code
	}
	if !p.Payload.IsJSON() && len(p.Payload.Raw) > 0 {
		ev.Raw = hex.EncodeToString(p.Payload.Raw)
	}
	return ev
}

func stateEvent(state string, at time.Time) Event {
	return Event{Type: EventState, At: at, State: state}
}
