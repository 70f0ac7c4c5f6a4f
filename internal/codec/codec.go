package codec

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// MalformedFrameError is returned by Decode when a frame carries neither a
// recognizable "e" event-type tag nor a "channel" discriminator.
type MalformedFrameError struct {
	Raw []byte
}

func (e *MalformedFrameError) Error() string {
	raw := string(e.Raw)
	if len(raw) > 200 {
		raw = raw[:200] + "...(truncated)"
	}
	return fmt.Sprintf("codec: malformed frame, missing both 'e' and 'channel': %s", raw)
}

// Params is an ordered key-value parameter mapping. Order is significant:
// it determines both JSON field order on the wire and the order terms are
// concatenated for signing.
type Params struct {
	keys   []string
	values map[string]interface{}
}

// NewParams builds an empty ordered parameter mapping.
func NewParams() *Params {
	return &Params{values: make(map[string]interface{})}
}

// Set appends key=value, preserving insertion order. Setting an existing
// key again updates its value in place without moving it.
func (p *Params) Set(key string, value interface{}) *Params {
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
	return p
}

// MarshalJSON renders the params as a JSON object with keys in insertion
// order, matching the wire format the exchange expects for request params.
func (p *Params) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			b.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, err
		}
		b.Write(keyJSON)
		b.WriteByte(':')
		b.Write(valJSON)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// URLEncoded renders the params as "k1=v1&k2=v2..." in insertion order,
// the canonical form signed by Signer.Sign.
func (p *Params) URLEncoded() string {
	parts := make([]string, 0, len(p.keys))
	for _, k := range p.keys {
		parts = append(parts, k+"="+fmt.Sprintf("%v", p.values[k]))
	}
	return strings.Join(parts, "&")
}

// Encode serializes an arbitrary outbound message (typically a request
// envelope carrying id/method/params) to UTF-8 JSON bytes.
func Encode(message interface{}) ([]byte, error) {
	return json.Marshal(message)
}

// Frame is a decoded inbound message, still holding its raw bytes for a
// second, type-specific unmarshal once the caller has classified it.
type Frame struct {
	EventType string // wire field "e", e.g. "trade", "executionReport"
	Channel   string // wire field "channel", for RPC responses
	ID        string // wire field "id", for RPC responses
	Raw       []byte
}

// Decode extracts the discriminator fields from a raw frame. It fails with
// *MalformedFrameError when the payload is not JSON, or is JSON but carries
// neither an "e" nor a "channel" field.
func Decode(raw []byte) (*Frame, error) {
	var head struct {
		EventType string `json:"e"`
		Channel   string `json:"channel"`
		ID        string `json:"id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, &MalformedFrameError{Raw: raw}
	}
	if head.EventType == "" && head.Channel == "" {
		return nil, &MalformedFrameError{Raw: raw}
	}
	return &Frame{
		EventType: head.EventType,
		Channel:   head.Channel,
		ID:        head.ID,
		Raw:       raw,
	}, nil
}

// Unmarshal decodes the frame's raw bytes into v, as a convenience wrapper
// around encoding/json so callers never touch Frame.Raw directly.
func (f *Frame) Unmarshal(v interface{}) error {
	return json.Unmarshal(f.Raw, v)
}

// Result unmarshals the frame's top-level "result" field into v, for RPC
// responses shaped {id, status, result}.
func (f *Frame) Result(v interface{}) error {
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(f.Raw, &envelope); err != nil {
		return err
	}
	if len(envelope.Result) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Result, v)
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
