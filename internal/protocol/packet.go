package protocol

import (
	"encoding/json"
	"fmt"
)

// Message is an outbound logical message handed to a Codec.
type Message struct {
	Command  Command
	Sequence uint32
	// Payload may be nil, []byte, string, json.RawMessage or any value
	// encoding/json can marshal.
	Payload any
	// WithReturnCode adds the 4-byte return code field that only
	// device-to-controller frames carry. The mock device sets it.
	WithReturnCode bool
	ReturnCode     uint32
}

// Packet is a decoded inbound frame.
type Packet struct {
	Command       Command
	Sequence      uint32
	ReturnCode    uint32
	HasReturnCode bool
	Payload       Payload
}

// String returns a short debug representation of the packet
func (p Packet) String() string {
	if p.Payload.Data != nil {
		return fmt.Sprintf("Packet{cmd=%s seq=%d payload=%v}", p.Command, p.Sequence, p.Payload.Data)
	}
	return fmt.Sprintf("Packet{cmd=%s seq=%d raw=%d bytes}", p.Command, p.Sequence, len(p.Payload.Raw))
}

// Payload is the decrypted body of a packet. Raw is always set. Data is set
// when Raw held a JSON object; a top-level "data" object is promoted into
// Data with the envelope's "t" merged in. A "data" value that is not an
// object is left in place and Data holds the whole envelope.
type Payload struct {
	Raw  []byte
	Data map[string]any
}

// IsJSON reports whether the payload parsed as a JSON object.
func (p Payload) IsJSON() bool {
	return p.Data != nil
}

// DPS returns the "dps" object of a JSON payload.
func (p Payload) DPS() (map[string]any, bool) {
	if p.Data == nil {
		return nil, false
	}
	dps, ok := p.Data["dps"].(map[string]any)
	return dps, ok
}

// NormalizePayload converts a logical payload into bytes.
func NormalizePayload(v any) ([]byte, error) {
	switch p := v.(type) {
	case nil:
		return []byte{}, nil
	case []byte:
		return p, nil
	case json.RawMessage:
		return []byte(p), nil
	case string:
		return []byte(p), nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, NewConfigError(ErrPayloadType, "cannot serialize %T: %v", v, err)
		}
		return b, nil
	}
}

// parsePayload turns decrypted bytes into a Payload. Bytes that do not form a
// JSON object are returned raw.
func parsePayload(plain []byte) Payload {
	p := Payload{Raw: plain}
	if len(plain) == 0 || plain[0] != '{' {
		return p
	}

	var obj map[string]any
	if err := json.Unmarshal(plain, &obj); err != nil {
		return p
	}

	if data, ok := obj["data"].(map[string]any); ok {
		if t, ok := obj["t"]; ok {
			data["t"] = t
		}
		p.Data = data
		return p
	}

	p.Data = obj
	return p
}
