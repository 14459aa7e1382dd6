package arduino

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Entry is one device record inside a frame.
//
// On the wire: {"G":"0","V":0,"D":1003,"DA":"1.2.3"}. G may arrive as a
// string or a number; V and D as numbers or numeric strings.
type Entry struct {
	Identity
	Data json.RawMessage
}

type wireEntry struct {
	G  string          `json:"G"`
	V  int             `json:"V"`
	D  int             `json:"D"`
	DA json.RawMessage `json:"DA"`
}

// MarshalJSON implements json.Marshaler.
func (e Entry) MarshalJSON() ([]byte, error) {
	data := e.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return json.Marshal(wireEntry{G: e.Group, V: e.Vendor, D: e.Type, DA: data})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Entry) UnmarshalJSON(b []byte) error {
	var raw struct {
		G  json.RawMessage `json:"G"`
		V  json.RawMessage `json:"V"`
		D  json.RawMessage `json:"D"`
		DA json.RawMessage `json:"DA"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	group, err := looseString(raw.G)
	if err != nil {
		return fmt.Errorf("G: %w", err)
	}
	vendor, err := looseInt(raw.V)
	if err != nil {
		return fmt.Errorf("V: %w", err)
	}
	typ, err := looseInt(raw.D)
	if err != nil {
		return fmt.Errorf("D: %w", err)
	}

	id := Identity{Group: group, Vendor: vendor, Type: typ}
	if err := id.Validate(); err != nil {
		return err
	}

	e.Identity = id
	e.Data = raw.DA
	return nil
}

// VersionReport returns the firmware version carried by e, if e is a
// version reply rather than the query itself.
func (e Entry) VersionReport() (string, bool) {
	if e.Type != VersionIdentity.Type {
		return "", false
	}
	var v string
	if err := json.Unmarshal(e.Data, &v); err != nil || v == "" || v == VersionQuery {
		return "", false
	}
	return v, true
}

func looseString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("%w: missing", ErrInvalidIdentity)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("%w: %s is not a string or number", ErrInvalidIdentity, raw)
}

func looseInt(raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("%w: missing", ErrInvalidIdentity)
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: %s is not an integer", ErrInvalidIdentity, raw)
}

// Frame is one line of the microcontroller protocol.
//
// DEVICE carries device data. PLUGIN and UNPLUG announce hot-plugged
// devices. ACK, ERROR and CONFIG are control payloads passed to the host
// as protocol config tagged with their section name.
type Frame struct {
	Device []Entry          `json:"DEVICE,omitempty"`
	Plugin []Entry          `json:"PLUGIN,omitempty"`
	Unplug []Entry          `json:"UNPLUG,omitempty"`
	Ack    json.RawMessage  `json:"ACK,omitempty"`
	Error  json.RawMessage  `json:"ERROR,omitempty"`
	Config *json.RawMessage `json:"CONFIG,omitempty"`
}

// Control section names used as protocol config types.
const (
	SectionPlugin = "PLUGIN"
	SectionUnplug = "UNPLUG"
	SectionAck    = "ACK"
	SectionError  = "ERROR"
	SectionConfig = "CONFIG"
)

func (f Frame) empty() bool {
	return len(f.Device) == 0 && len(f.Plugin) == 0 && len(f.Unplug) == 0 &&
		len(f.Ack) == 0 && len(f.Error) == 0 && f.Config == nil
}

// ParseFrame decodes one line. Anything that is not a JSON object with at
// least one known section is ErrMalformedFrame.
func ParseFrame(line []byte) (Frame, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return Frame{}, fmt.Errorf("%w: not a JSON object", ErrMalformedFrame)
	}

	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if f.empty() {
		return Frame{}, fmt.Errorf("%w: no known section", ErrMalformedFrame)
	}
	return f, nil
}

// EncodeFrame renders a single-entry DEVICE frame terminated by a newline.
func EncodeFrame(id Identity, data json.RawMessage) ([]byte, error) {
	b, err := json.Marshal(Frame{Device: []Entry{{Identity: id, Data: data}}})
	if err != nil {
		return nil, fmt.Errorf("encoding frame for %s: %w", id, err)
	}
	return append(b, '\n'), nil
}

// marshalPayload turns a host payload into the DA value. json.RawMessage
// and []byte holding valid JSON pass through unchanged.
func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return p, nil
	case nil:
		return json.RawMessage("null"), nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return b, nil
}
