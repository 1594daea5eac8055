package backend

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/danmuck/dps_filemanager/src/filemanager"
)

// Error codes carried in {error:{code,text}} replies.
const (
	CodeNotFound    = 2
	CodeIO          = 5
	CodeLocked      = 11
	CodeDenied      = 13
	CodeExists      = 17
	CodeNotDir      = 20
	CodeIsDir       = 21
	CodeInvalid     = 22
	CodeTooLarge    = 27
	CodeReadOnly    = 30
	CodeEncoding    = 84
	CodeUnsupported = 95
)

// opError is a failure with the code reported to the client.
type opError struct {
	code int64
	text string
}

func (e *opError) Error() string { return e.text }

func failf(code int64, format string, args ...any) error {
	return &opError{code: code, text: fmt.Sprintf(format, args...)}
}

// classify maps any handler error to a reply code and text.
func classify(err error) (int64, string) {
	var oe *opError
	switch {
	case errors.As(err, &oe):
		return oe.code, oe.text
	case errors.Is(err, fs.ErrNotExist):
		return CodeNotFound, err.Error()
	case errors.Is(err, fs.ErrExist):
		return CodeExists, err.Error()
	case errors.Is(err, fs.ErrPermission):
		return CodeDenied, err.Error()
	default:
		return CodeIO, err.Error()
	}
}

type errorRecord struct {
	at        time.Time
	operation filemanager.Operation
	consumer  string
	code      int64
	text      string
}

// errorRing keeps the most recent failures for ErrorDetails.
type errorRing struct {
	mu      sync.Mutex
	records []errorRecord
	next    int
	size    int
}

func newErrorRing(size int) *errorRing {
	return &errorRing{records: make([]errorRecord, 0, size), size: size}
}

func (r *errorRing) add(rec errorRecord) {
	if r.size == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) < r.size {
		r.records = append(r.records, rec)
		return
	}
	r.records[r.next] = rec
	r.next = (r.next + 1) % r.size
}

// snapshot returns the records oldest first.
func (r *errorRing) snapshot() []errorRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]errorRecord, 0, len(r.records))
	out = append(out, r.records[r.next:]...)
	out = append(out, r.records[:r.next]...)
	return out
}
