package transport

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
)

type MessageKind string

const (
	KindRequest     MessageKind = "Request"
	KindResponse    MessageKind = "Response"
	KindGetError    MessageKind = "GetError"
	KindSetError    MessageKind = "SetError"
	KindSubscribe   MessageKind = "Subscribe"
	KindUnsubscribe MessageKind = "Unsubscribe"
	KindPush        MessageKind = "Push"
)

// IsError reports whether the kind marks an application error reply.
func (k MessageKind) IsError() bool {
	return k == KindGetError || k == KindSetError
}

// parameter keys shared by the gateway and the backend
const (
	ParamConsumer  = "elemId"
	ParamRequestID = "requestId"
	ParamPath      = "Path"
	ParamFlags     = "Flags"
	ParamEncoding  = "Encoding"
	ParamMaxSize   = "MaxSize"
	ParamOffset    = "Offset"
	ParamComponent = "Component"
	ParamName      = "Name"
	ParamSource    = "Source"
	ParamDest      = "Dest"
	ParamEvent     = "Event"
)

// chunk reply and error reply field names
const (
	FieldContent   = "Content"
	FieldEOF       = "Eof"
	FieldBytesRead = "BytesRead"
	FieldError     = "error"
	FieldCode      = "code"
	FieldText      = "text"
)

// CodeLinkClosed is reported to outstanding calls when the link drops
// before their reply arrived.
const CodeLinkClosed = -1

// Params is the flat parameter bag carried by every telegram. Values are
// kept loosely typed because they are echoed back by the backend and
// numbers may come back as float64 or json.Number depending on the codec.
type Params map[string]any

func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}
	return maps.Clone(p)
}

func (p Params) String(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the numeric value stored under key, accepting every numeric
// representation a codec may produce.
func (p Params) Int(key string) (int64, bool) {
	return AsInt(p[key])
}

func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// AsInt converts a loosely typed decoded number into an int64.
func AsInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case float32:
		return AsInt(float64(n))
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// Telegram is one discrete message on the link in either direction.
type Telegram struct {
	Kind      MessageKind `json:"kind"`
	Operation string      `json:"methodID"`
	Params    Params      `json:"parameter,omitempty"`
	Data      any         `json:"data,omitempty"`
	Payload   []byte      `json:"payload,omitempty"`
}

func (t *Telegram) Consumer() string {
	return t.Params.String(ParamConsumer)
}

func (t *Telegram) RequestID() string {
	return t.Params.String(ParamRequestID)
}

// Reply builds a response telegram echoing the request's parameters.
func (t *Telegram) Reply(kind MessageKind, data any) *Telegram {
	return &Telegram{
		Kind:      kind,
		Operation: t.Operation,
		Params:    t.Params.Clone(),
		Data:      data,
	}
}

// ErrorData builds the {error: {code, text}} payload of an error reply.
func ErrorData(code int64, text string) map[string]any {
	return map[string]any{
		FieldError: map[string]any{
			FieldCode: code,
			FieldText: text,
		},
	}
}

// ParseErrorData extracts code and text from an error reply payload.
func ParseErrorData(data any) (code int64, text string, ok bool) {
	m, isMap := data.(map[string]any)
	if !isMap {
		return 0, "", false
	}
	inner, isMap := m[FieldError].(map[string]any)
	if !isMap {
		return 0, "", false
	}
	code, ok = AsInt(inner[FieldCode])
	text, _ = inner[FieldText].(string)
	return code, text, ok
}
