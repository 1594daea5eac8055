package filemanager

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/danmuck/dps_filemanager/src/api/transport"
	logs "github.com/danmuck/smplog"
)

const EncodingBinary = "BINARY"

func clampMaxSize(maxSize, capacity int64) int64 {
	if maxSize > capacity {
		return capacity
	}
	return maxSize
}

type chunk struct {
	content   string
	eof       bool
	bytesRead int64
}

func parseChunk(data any) (chunk, error) {
	fields, ok := data.(map[string]any)
	if !ok {
		return chunk{}, fmt.Errorf("%w: data is %T", ErrMalformedChunk, data)
	}

	var c chunk
	switch v := fields[transport.FieldContent].(type) {
	case string:
		c.content = v
	case []byte:
		c.content = string(v)
	case nil:
	default:
		return chunk{}, fmt.Errorf("%w: %s is %T", ErrMalformedChunk, transport.FieldContent, v)
	}

	if c.eof, ok = fields[transport.FieldEOF].(bool); !ok {
		return chunk{}, fmt.Errorf("%w: missing %s", ErrMalformedChunk, transport.FieldEOF)
	}
	n, ok := transport.AsInt(fields[transport.FieldBytesRead])
	switch {
	case !ok && !c.eof:
		return chunk{}, fmt.Errorf("%w: missing %s", ErrMalformedChunk, transport.FieldBytesRead)
	case n < 0:
		return chunk{}, fmt.Errorf("%w: %s %d", ErrMalformedChunk, transport.FieldBytesRead, n)
	case !c.eof && n == 0:
		return chunk{}, fmt.Errorf("%w: no progress before end of file", ErrMalformedChunk)
	}
	c.bytesRead = n
	return c, nil
}

// transfer is the per-consumer state of an in-flight Load. Continuations
// reuse the request id of the Load that started the transfer.
type transfer struct {
	requestID string
	consumer  string
	path      string
	flags     string
	encoding  string
	maxSize   int64
	offset    int64
	buf       []byte
	stale     int
}

func (tr *transfer) binary() bool {
	return strings.EqualFold(tr.encoding, EncodingBinary)
}

// matches reports whether a reply belongs to the read the transfer is
// waiting on. Replies echoing another path or offset are stale.
func (tr *transfer) matches(t *transport.Telegram) bool {
	if t.Params.String(transport.ParamPath) != tr.path {
		return false
	}
	if off, ok := t.Params.Int(transport.ParamOffset); ok && off != tr.offset {
		return false
	}
	return true
}

// append adds one chunk to the buffer. BINARY content arrives as base64
// and each chunk is decoded on its own.
func (tr *transfer) append(c chunk) error {
	if !tr.binary() {
		tr.buf = append(tr.buf, c.content...)
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(c.content)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedChunk, err)
	}
	tr.buf = append(tr.buf, raw...)
	return nil
}

func (tr *transfer) params() transport.Params {
	return transport.Params{
		transport.ParamPath:      tr.path,
		transport.ParamFlags:     tr.flags,
		transport.ParamEncoding:  tr.encoding,
		transport.ParamMaxSize:   tr.maxSize,
		transport.ParamOffset:    tr.offset,
		transport.ParamConsumer:  tr.consumer,
		transport.ParamRequestID: tr.requestID,
	}
}

// Load reads the file at path starting at offset, at most
// Config.ChunkCap bytes per request, until the backend reports end of
// file. The future resolves with the concatenated content as []byte.
func (m *Manager) Load(consumer, path, flags, encoding string, maxSize, offset int64) *Future {
	size := clampMaxSize(maxSize, m.cfg.ChunkCap)
	params := transport.Params{
		transport.ParamPath:     path,
		transport.ParamFlags:    flags,
		transport.ParamEncoding: encoding,
		transport.ParamMaxSize:  size,
		transport.ParamOffset:   offset,
	}
	return m.call(consumer, Load, params, nil, func(call *pendingCall) {
		m.transfers[consumer] = &transfer{
			requestID: call.id(),
			consumer:  consumer,
			path:      path,
			flags:     flags,
			encoding:  encoding,
			maxSize:   size,
			offset:    offset,
		}
	})
}

// handleChunk advances the transfer a Load reply belongs to: append the
// chunk, then either resolve on end of file or request the next chunk.
func (m *Manager) handleChunk(requestID string, t *transport.Telegram) {
	m.mu.Lock()
	call, ok := m.reg.lookup(requestID)
	var tr *transfer
	if ok {
		tr = m.transfers[call.future.consumer]
	}
	if tr == nil || tr.requestID != requestID {
		m.mu.Unlock()
		logs.Warnf("handleChunk(): no transfer for request %q", requestID)
		m.metrics.ReplyDropped(string(Load), "no-pending")
		return
	}

	if !tr.matches(t) {
		tr.stale++
		logs.Warnf("handleChunk(): dropped reply for %q, transfer reads %q at %d",
			t.Params.String(transport.ParamPath), tr.path, tr.offset)
		m.metrics.ReplyDropped(string(Load), "stale")
		if limit := m.cfg.StaleChunkLimit; limit > 0 && tr.stale >= limit {
			err := fmt.Errorf("%w: %d replies did not match %s", ErrStaleContinuation, tr.stale, tr.path)
			m.completeLocked(Load, requestID, err, OutcomeReject)
		}
		m.mu.Unlock()
		return
	}
	tr.stale = 0

	c, err := parseChunk(t.Data)
	if err == nil {
		err = tr.append(c)
	}
	if err != nil {
		m.completeLocked(Load, requestID, err, OutcomeReject)
		m.mu.Unlock()
		return
	}
	m.metrics.ChunkReceived(len(c.content))

	if c.eof {
		m.completeLocked(Load, requestID, tr.buf, OutcomeResolve)
		m.mu.Unlock()
		return
	}
	tr.offset += c.bytesRead
	next := tr.params()
	m.mu.Unlock()

	m.send(Load, requestID, next, nil)
}
