package filemanager

import (
	"context"
	"sync"
	"testing"

	"github.com/danmuck/dps_filemanager/src/api/transport"
	"github.com/stretchr/testify/require"
)

type sentRequest struct {
	op      string
	params  transport.Params
	payload []byte
	onReply transport.ReplyFunc
}

// reply answers the request the way the backend does: same operation,
// parameters echoed back.
func (s sentRequest) reply(kind transport.MessageKind, data any) {
	s.onReply(kind, &transport.Telegram{
		Kind:      kind,
		Operation: s.op,
		Params:    s.params.Clone(),
		Data:      data,
	})
}

// replyWith answers with altered echoed parameters.
func (s sentRequest) replyWith(kind transport.MessageKind, data any, override transport.Params) {
	params := s.params.Clone()
	for k, v := range override {
		params[k] = v
	}
	s.onReply(kind, &transport.Telegram{Kind: kind, Operation: s.op, Params: params, Data: data})
}

type fakeLink struct {
	mu        sync.Mutex
	sent      []sentRequest
	subs      map[string]transport.PushFunc
	subParams transport.Params
	subCalls  int
	unsubs    int
	sendErr   error
	connErr   error
}

func newFakeLink() *fakeLink {
	return &fakeLink{subs: make(map[string]transport.PushFunc)}
}

func (l *fakeLink) Connect(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connErr
}

func (l *fakeLink) Send(operation string, onReply transport.ReplyFunc, payload []byte, params transport.Params) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sendErr != nil {
		return l.sendErr
	}
	l.sent = append(l.sent, sentRequest{
		op:      operation,
		params:  params.Clone(),
		payload: payload,
		onReply: onReply,
	})
	return nil
}

func (l *fakeLink) Subscribe(topic string, params transport.Params, onPush transport.PushFunc) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subCalls++
	l.subs[topic] = onPush
	l.subParams = params.Clone()
	return nil
}

func (l *fakeLink) Unsubscribe(topic string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unsubs++
	delete(l.subs, topic)
	return nil
}

func (l *fakeLink) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sent)
}

func (l *fakeLink) at(t *testing.T, i int) sentRequest {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	require.Greater(t, len(l.sent), i, "request %d was never sent", i)
	return l.sent[i]
}

func (l *fakeLink) last(t *testing.T) sentRequest {
	t.Helper()
	return l.at(t, l.count()-1)
}

func (l *fakeLink) push(topic string, t *transport.Telegram) {
	l.mu.Lock()
	fn := l.subs[topic]
	l.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *fakeLink) {
	t.Helper()
	link := newFakeLink()
	m := New(link, opts...)
	require.NoError(t, m.Connect(context.Background()))
	return m, link
}
