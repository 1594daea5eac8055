package transport

import (
	"errors"
	"sync"

	logs "github.com/danmuck/smplog"
	"github.com/google/uuid"
)

var (
	ErrLinkClosed       = errors.New("link closed")
	ErrLinkNotConnected = errors.New("link not connected")
)

type outstanding struct {
	operation string
	params    Params
	onReply   ReplyFunc
}

// linkCore is the client-side bookkeeping shared by every link flavour:
// outstanding requests keyed by request id and push handlers keyed by
// topic. Callbacks always run without the core's lock held.
type linkCore struct {
	mu      sync.Mutex
	pending map[string]outstanding
	subs    map[string]PushFunc
	closed  bool
	err     error
}

func newLinkCore() linkCore {
	return linkCore{
		pending: make(map[string]outstanding),
		subs:    make(map[string]PushFunc),
	}
}

// prepare builds the request telegram and records the reply callback. A
// missing request id is generated so every request stays addressable.
func (c *linkCore) prepare(operation string, onReply ReplyFunc, payload []byte, params Params) (*Telegram, error) {
	params = params.Clone()
	if params.String(ParamRequestID) == "" {
		params[ParamRequestID] = uuid.NewString()
	}
	t := &Telegram{
		Kind:      KindRequest,
		Operation: operation,
		Params:    params,
		Payload:   payload,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrLinkClosed
	}
	if onReply != nil {
		c.pending[t.RequestID()] = outstanding{operation: operation, params: params, onReply: onReply}
	}
	return t, nil
}

// forget drops a request whose write failed.
func (c *linkCore) forget(requestID string) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}

func (c *linkCore) subscribe(topic string, onPush PushFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrLinkClosed
	}
	c.subs[topic] = onPush
	return nil
}

func (c *linkCore) unsubscribe(topic string) {
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()
}

// dispatch routes one inbound telegram to its reply callback or topic.
func (c *linkCore) dispatch(t *Telegram) {
	if t.Kind == KindPush {
		c.mu.Lock()
		onPush := c.subs[t.Operation]
		c.mu.Unlock()
		if onPush == nil {
			logs.Debugf("dispatch(): push for unsubscribed topic %q", t.Operation)
			return
		}
		onPush(t)
		return
	}

	id := t.RequestID()
	c.mu.Lock()
	out, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		logs.Warnf("dispatch(): reply %s for unknown request %q", t.Operation, id)
		return
	}
	out.onReply(t.Kind, t)
}

// fail closes the core and answers every outstanding request with a
// link-closed error telegram.
func (c *linkCore) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = err
	pending := c.pending
	c.pending = make(map[string]outstanding)
	c.subs = make(map[string]PushFunc)
	c.mu.Unlock()

	text := ErrLinkClosed.Error()
	if err != nil {
		text = err.Error()
	}
	for _, out := range pending {
		out.onReply(KindGetError, &Telegram{
			Kind:      KindGetError,
			Operation: out.operation,
			Params:    out.params,
			Data:      ErrorData(CodeLinkClosed, text),
		})
	}
}

func (c *linkCore) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
