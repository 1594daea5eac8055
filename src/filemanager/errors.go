package filemanager

import (
	"errors"
	"fmt"

	"github.com/danmuck/dps_filemanager/src/api/transport"
)

// AbortCode is the code of the locally synthesized error that rejects a
// getter call superseded by a newer call on the same slot.
const AbortCode = -120202020

var (
	ErrAborted           = errors.New("call superseded by a newer call")
	ErrNotConnected      = errors.New("backend link not connected")
	ErrDetached          = errors.New("consumer detached")
	ErrUnknownConsumer   = errors.New("consumer not attached")
	ErrMalformedChunk    = errors.New("malformed chunk reply")
	ErrStaleContinuation = errors.New("too many stale continuation replies")
	ErrClosed            = errors.New("file manager closed")
)

// TelegramError rejects a call with an error telegram, either received
// from the backend or synthesized locally for an aborted call.
type TelegramError struct {
	Kind      transport.MessageKind
	Operation Operation
	Code      int64
	Text      string
	Telegram  *transport.Telegram
}

func (e *TelegramError) Error() string {
	return fmt.Sprintf("%s %s: code %d: %s", e.Operation, e.Kind, e.Code, e.Text)
}

func (e *TelegramError) Is(target error) bool {
	return target == ErrAborted && e.Code == AbortCode
}

// newTelegramError wraps an error reply from the backend.
func newTelegramError(kind transport.MessageKind, t *transport.Telegram) *TelegramError {
	e := &TelegramError{
		Kind:      kind,
		Operation: Operation(t.Operation),
		Telegram:  t,
	}
	if code, text, ok := transport.ParseErrorData(t.Data); ok {
		e.Code, e.Text = code, text
	} else {
		e.Text = "backend reported an error without details"
	}
	return e
}

func abortError(consumer string, op Operation, path string) *TelegramError {
	text := "Loading of data from " + path + " abruptly halted"
	return &TelegramError{
		Kind:      transport.KindGetError,
		Operation: op,
		Code:      AbortCode,
		Text:      text,
		Telegram: &transport.Telegram{
			Kind:      transport.KindGetError,
			Operation: string(op),
			Params:    transport.Params{transport.ParamConsumer: consumer, transport.ParamPath: path},
			Data:      transport.ErrorData(AbortCode, text),
		},
	}
}

// ConnectionError rejects calls registered while the gateway is in the
// failed-connection state.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("backend connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrNotConnected }
