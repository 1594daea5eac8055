package transport

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	logs "github.com/danmuck/smplog"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// MaxFrameSize bounds a single decoded frame.
const MaxFrameSize = 16 << 20

var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

type Coder interface {
	Encode(*Telegram) ([]byte, error)
	Decode(io.Reader) (*Telegram, error)
}

// DefaultCoder frames a telegram as a protobuf Struct behind a 4-byte
// big-endian length header.
type DefaultCoder struct{}

func (c DefaultCoder) Encode(t *Telegram) ([]byte, error) {
	logs.Debugf("Encode(default: Google Protobuf): %s %s", t.Kind, t.Operation)
	msg, err := telegramToStruct(t)
	if err != nil {
		return nil, err
	}
	out, err := proto.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if len(out) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	frame := make([]byte, 4, 4+len(out))
	binary.BigEndian.PutUint32(frame, uint32(len(out)))
	return append(frame, out...), nil
}

func (c DefaultCoder) Decode(r io.Reader) (*Telegram, error) {
	// header first, then the message it announces
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	msgLength := binary.BigEndian.Uint32(header[:])
	if msgLength > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, msgLength)
	}
	msgBuf := make([]byte, int(msgLength))
	if _, err := io.ReadFull(r, msgBuf); err != nil {
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}

	msg := &structpb.Struct{}
	if err := proto.Unmarshal(msgBuf, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	t, err := telegramFromMap(msg.AsMap())
	if err != nil {
		return nil, err
	}
	logs.Debugf("Decode(done): %s %s", t.Kind, t.Operation)
	return t, nil
}

// JSONCoder writes one JSON document per telegram, for message-oriented
// links such as WebSocket.
type JSONCoder struct{}

func (c JSONCoder) Encode(t *Telegram) ([]byte, error) {
	return json.Marshal(t)
}

func (c JSONCoder) Decode(r io.Reader) (*Telegram, error) {
	t := &Telegram{}
	if err := json.NewDecoder(r).Decode(t); err != nil {
		return nil, err
	}
	return t, nil
}

func telegramToStruct(t *Telegram) (*structpb.Struct, error) {
	fields := map[string]any{
		"kind":      string(t.Kind),
		"operation": t.Operation,
	}
	if t.Params != nil {
		fields["parameter"] = normalize(t.Params)
	}
	if t.Data != nil {
		fields["data"] = normalize(t.Data)
	}
	if len(t.Payload) > 0 {
		fields["payload"] = base64.StdEncoding.EncodeToString(t.Payload)
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode telegram %s: %w", t.Operation, err)
	}
	return msg, nil
}

func telegramFromMap(m map[string]any) (*Telegram, error) {
	t := &Telegram{}
	kind, _ := m["kind"].(string)
	t.Kind = MessageKind(kind)
	t.Operation, _ = m["operation"].(string)
	if params, ok := m["parameter"].(map[string]any); ok {
		t.Params = Params(params)
	}
	t.Data = m["data"]
	if raw, ok := m["payload"].(string); ok && raw != "" {
		payload, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode payload: %w", err)
		}
		t.Payload = payload
	}
	return t, nil
}

// normalize rewrites named and typed containers into the map[string]any
// and []any shapes structpb understands.
func normalize(v any) any {
	switch x := v.(type) {
	case Params:
		return normalize(map[string]any(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = normalize(val)
		}
		return out
	case []map[string]any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalize(val)
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = val
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}
