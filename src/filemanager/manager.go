// Package filemanager is the client gateway that multiplexes many
// consumers over one backend link.
//
// Every public operation returns a *Future. Replies are correlated to
// their call by request id, getter calls supersede a still-pending call
// on the same (consumer, operation) slot, and Load reads a file in
// chunks of at most Config.ChunkCap bytes until the backend reports end
// of file.
package filemanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/danmuck/dps_filemanager/src/api"
	"github.com/danmuck/dps_filemanager/src/api/transport"
	"github.com/danmuck/dps_filemanager/src/metrics"
	logs "github.com/danmuck/smplog"
)

// NotifyFunc receives push telegrams of the Notification topic.
type NotifyFunc func(t *transport.Telegram)

type ConnectionState struct {
	Connected bool
	Failed    bool
	Err       error
}

type Manager struct {
	link      api.LinkAdapter
	connector api.Connector
	cfg       Config
	metrics   metrics.GatewayMetrics

	mu         sync.Mutex
	reg        *registry
	transfers  map[string]*transfer
	connected  bool
	listeners  map[string]NotifyFunc
	subscribed bool
	closed     bool
}

type Option func(*Manager)

func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

func WithMetrics(gm metrics.GatewayMetrics) Option {
	return func(m *Manager) {
		if gm != nil {
			m.metrics = gm
		}
	}
}

// WithConnector overrides the connection setup. By default a link that
// can connect itself is its own connector.
func WithConnector(c api.Connector) Option {
	return func(m *Manager) { m.connector = c }
}

func New(link api.LinkAdapter, opts ...Option) *Manager {
	m := &Manager{
		link:      link,
		cfg:       DefaultConfig(),
		metrics:   metrics.NewNoopGatewayMetrics(),
		reg:       newRegistry(),
		transfers: make(map[string]*transfer),
		listeners: make(map[string]NotifyFunc),
	}
	if c, ok := link.(api.Connector); ok {
		m.connector = c
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cfg.ChunkCap <= 0 {
		m.cfg.ChunkCap = ChunkCap
	}
	return m
}

// Connect runs the connection setup. On failure the gateway enters the
// failed state and every call is rejected with a *ConnectionError until
// a later Connect succeeds.
func (m *Manager) Connect(ctx context.Context) error {
	var err error
	if m.connector != nil {
		err = m.connector.Connect(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		logs.Warnf("Connect(): link for FileManager is not connecting: %v", err)
		m.connected = false
		m.reg.connErr = err
		return &ConnectionError{Err: err}
	}
	m.connected = true
	m.reg.connErr = nil
	logs.Debugf("Connect(): connected")
	return nil
}

func (m *Manager) ConnectionState() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ConnectionState{
		Connected: m.connected,
		Failed:    m.reg.connErr != nil,
		Err:       m.reg.connErr,
	}
}

// Attach allocates a fresh set of empty slots for consumer. Attaching an
// already attached consumer resets it; its pending calls fail with
// ErrDetached.
func (m *Manager) Attach(consumer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := m.reg.allocate(consumer)
	delete(m.transfers, consumer)
	m.rejectLocked(evicted, ErrDetached)
	logs.Debugf("Attach(%s): %d slots", consumer, len(Operations))
}

// Detach clears the consumer's slots and notification listener. Pending
// calls fail with ErrDetached and late replies for them are dropped.
func (m *Manager) Detach(consumer string) {
	m.mu.Lock()
	evicted := m.reg.release(consumer)
	delete(m.transfers, consumer)
	m.rejectLocked(evicted, ErrDetached)
	last := m.removeListenerLocked(consumer)
	m.mu.Unlock()

	logs.Debugf("Detach(%s): %d pending calls rejected", consumer, len(evicted))
	if last {
		if err := m.link.Unsubscribe(NotificationTopic); err != nil {
			logs.Warnf("Detach(%s): unsubscribe: %v", consumer, err)
		}
	}
}

// Close rejects every pending call with ErrClosed. Later calls are
// rejected immediately. The link itself is left to its owner.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.rejectLocked(m.reg.drain(), ErrClosed)
	clear(m.transfers)
	clear(m.listeners)
	subscribed := m.subscribed
	m.subscribed = false
	m.mu.Unlock()

	if subscribed {
		return m.link.Unsubscribe(NotificationTopic)
	}
	return nil
}

// Pending returns the number of calls waiting for a reply.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reg.pending()
}

func (m *Manager) rejectLocked(calls []*pendingCall, err error) {
	for _, call := range calls {
		if call.future.reject(err) {
			m.metrics.CallCompleted(string(call.future.op), metrics.OutcomeRejected)
		}
	}
}

//GETTERS

// Browse lists path on the backend.
func (m *Manager) Browse(consumer, path, flags string) *Future {
	return m.call(consumer, Browse, transport.Params{
		transport.ParamPath:  path,
		transport.ParamFlags: flags,
	}, nil, nil)
}

// Restriction retrieves the restrictions configured for a component.
func (m *Manager) Restriction(consumer, component string) *Future {
	return m.call(consumer, Restriction, transport.Params{
		transport.ParamComponent: component,
	}, nil, nil)
}

// Error retrieves the errors currently active in the backend.
func (m *Manager) Error(consumer string) *Future {
	return m.call(consumer, ErrorDetails, transport.Params{}, nil, nil)
}

//SETTERS

// Save stores data at path.
func (m *Manager) Save(consumer, path, flags, encoding string, data []byte) *Future {
	return m.call(consumer, Save, transport.Params{
		transport.ParamPath:     path,
		transport.ParamFlags:    flags,
		transport.ParamEncoding: encoding,
	}, data, nil)
}

// Delete removes a file, or a folder recursively.
func (m *Manager) Delete(consumer, path string) *Future {
	return m.call(consumer, Delete, transport.Params{transport.ParamPath: path}, nil, nil)
}

// Rename gives the file or folder at path a new name in the same folder.
func (m *Manager) Rename(consumer, path, newName, flags string) *Future {
	return m.call(consumer, Rename, transport.Params{
		transport.ParamPath:  path,
		transport.ParamFlags: flags,
		transport.ParamName:  newName,
	}, nil, nil)
}

// Copy copies source to dest; flags select cut/paste instead.
func (m *Manager) Copy(consumer, source, dest, flags string) *Future {
	return m.call(consumer, Copy, transport.Params{
		transport.ParamSource: source,
		transport.ParamDest:   dest,
		transport.ParamFlags:  flags,
	}, nil, nil)
}

func (m *Manager) Lock(consumer, path string) *Future {
	return m.call(consumer, Lock, transport.Params{transport.ParamPath: path}, nil, nil)
}

func (m *Manager) ClearFlags(consumer, path string) *Future {
	return m.call(consumer, ClearFlags, transport.Params{transport.ParamPath: path}, nil, nil)
}

func (m *Manager) CreateFolder(consumer, path string) *Future {
	return m.call(consumer, CreateFolder, transport.Params{transport.ParamPath: path}, nil, nil)
}

//NOTIFICATIONS

// Notification registers fn for push updates of the watched path. The
// link subscription is shared by every consumer and delivery is best
// effort.
func (m *Manager) Notification(consumer string, fn NotifyFunc) error {
	m.mu.Lock()
	if !m.reg.attached(consumer) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownConsumer, consumer)
	}
	m.listeners[consumer] = fn
	needSubscribe := !m.subscribed
	m.subscribed = true
	m.mu.Unlock()

	if !needSubscribe {
		return nil
	}
	params := transport.Params{
		transport.ParamPath:     m.cfg.NotificationPath,
		transport.ParamFlags:    "",
		transport.ParamConsumer: consumer,
	}
	if err := m.link.Subscribe(NotificationTopic, params, m.onPush); err != nil {
		m.mu.Lock()
		m.subscribed = false
		delete(m.listeners, consumer)
		m.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", NotificationTopic, err)
	}
	return nil
}

// Denotification removes the consumer's listener and drops the link
// subscription once nobody listens.
func (m *Manager) Denotification(consumer string) error {
	m.mu.Lock()
	last := m.removeListenerLocked(consumer)
	m.mu.Unlock()
	if last {
		return m.link.Unsubscribe(NotificationTopic)
	}
	return nil
}

func (m *Manager) removeListenerLocked(consumer string) (last bool) {
	if _, ok := m.listeners[consumer]; !ok {
		return false
	}
	delete(m.listeners, consumer)
	if m.subscribed && len(m.listeners) == 0 {
		m.subscribed = false
		return true
	}
	return false
}

// onPush forwards a push to the consumer it names, or to every listener
// when it names none.
func (m *Manager) onPush(t *transport.Telegram) {
	m.mu.Lock()
	var targets []NotifyFunc
	if consumer := t.Consumer(); consumer != "" {
		if fn := m.listeners[consumer]; fn != nil {
			targets = append(targets, fn)
		}
	} else {
		for _, fn := range m.listeners {
			targets = append(targets, fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range targets {
		fn(t)
	}
}
