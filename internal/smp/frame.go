package smp

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var decMode cbor.DecMode

func init() {
	var err error
	// Decode nested maps with string keys so callers can index them directly.
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Response is a decoded SMP frame received from the device.
type Response struct {
	Op     uint8
	Group  uint16
	ID     uint8
	Seq    uint8
	Length int
	Data   map[string]any
}

// EncodeFrame builds an SMP frame: header followed by a CBOR map payload.
// A nil payload is sent as an empty map.
func EncodeFrame(op uint8, group uint16, id uint8, seq uint8, payload map[string]any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := cbor.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	if len(body) > 0xFFFF {
		return nil, fmt.Errorf("payload too large: %d bytes", len(body))
	}

	h := Header{
		Op:     op,
		Length: uint16(len(body)),
		Group:  group,
		Seq:    seq,
		ID:     id,
	}

	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(body))
	buf.Write(h.Bytes())
	buf.Write(body)
	return buf.Bytes(), nil
}

// PayloadSize returns the encoded CBOR size of payload.
func PayloadSize(payload map[string]any) (int, error) {
	body, err := cbor.Marshal(payload)
	if err != nil {
		return 0, err
	}
	return len(body), nil
}

// DecodeFrame parses a complete SMP frame.
func DecodeFrame(frame []byte) (*Response, error) {
	h, err := ParseHeader(frame)
	if err != nil {
		return nil, err
	}
	end := HeaderSize + int(h.Length)
	if len(frame) < end {
		return nil, fmt.Errorf("truncated frame: have %d bytes, header says %d", len(frame), end)
	}

	resp := &Response{
		Op:     h.Op,
		Group:  h.Group,
		ID:     h.ID,
		Seq:    h.Seq,
		Length: end,
	}
	if h.Length == 0 {
		resp.Data = map[string]any{}
		return resp, nil
	}
	if err := decMode.Unmarshal(frame[HeaderSize:end], &resp.Data); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	if resp.Data == nil {
		resp.Data = map[string]any{}
	}
	return resp, nil
}

// RC returns the management return code. Both the legacy top-level "rc"
// field and the newer {"err": {"rc": n}} form are understood. Zero means OK.
func (r *Response) RC() int {
	if r == nil || r.Data == nil {
		return 0
	}
	if rc, ok := AsInt(r.Data["rc"]); ok {
		return rc
	}
	if e, ok := r.Data["err"].(map[string]any); ok {
		if rc, ok := AsInt(e["rc"]); ok {
			return rc
		}
	}
	return 0
}

// Int returns an integer field from the payload.
func (r *Response) Int(key string) (int, bool) {
	if r == nil || r.Data == nil {
		return 0, false
	}
	return AsInt(r.Data[key])
}

// String returns a text field from the payload, or "".
func (r *Response) String(key string) string {
	if r == nil || r.Data == nil {
		return ""
	}
	s, _ := r.Data[key].(string)
	return s
}

// AsInt converts a decoded CBOR number to int.
func AsInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// AsBool converts a decoded CBOR value to a bool.
func AsBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}
