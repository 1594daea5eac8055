// Package backend is a file service speaking the FileManager protocol
// over a directory on local disk. It is the peer the gateway's link talks
// to in cmd/fileserver and in end-to-end tests.
package backend

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/danmuck/dps_filemanager/src/api/transport"
	"github.com/danmuck/dps_filemanager/src/filemanager"
	"github.com/danmuck/dps_filemanager/src/metrics"
	logs "github.com/danmuck/smplog"
)

type handlerFunc func(s *Server, t *transport.Telegram) (any, error)

var handlers = map[filemanager.Operation]handlerFunc{
	filemanager.Browse:       (*Server).browse,
	filemanager.Load:         (*Server).load,
	filemanager.Restriction:  (*Server).restriction,
	filemanager.ErrorDetails: (*Server).errorDetails,
	filemanager.Save:         (*Server).save,
	filemanager.Delete:       (*Server).delete,
	filemanager.Rename:       (*Server).rename,
	filemanager.Copy:         (*Server).copy,
	filemanager.Lock:         (*Server).lock,
	filemanager.ClearFlags:   (*Server).clearFlags,
	filemanager.CreateFolder: (*Server).createFolder,
}

type Server struct {
	cfg     Config
	root    *os.Root
	metrics metrics.BackendMetrics
	locks   *lockTable
	errors  *errorRing

	mu   sync.Mutex
	subs map[string]map[string]subscription // peer id -> topic
	wg   sync.WaitGroup
}

type Option func(*Server)

func WithMetrics(bm metrics.BackendMetrics) Option {
	return func(s *Server) {
		if bm != nil {
			s.metrics = bm
		}
	}
}

// New opens cfg.Root, creating it if needed.
func New(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create root %s: %w", cfg.Root, err)
	}
	root, err := os.OpenRoot(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("open root %s: %w", cfg.Root, err)
	}
	s := &Server{
		cfg:     cfg,
		root:    root,
		metrics: metrics.NewNoopBackendMetrics(),
		locks:   newLockTable(),
		errors:  newErrorRing(cfg.ErrorHistory),
		subs:    make(map[string]map[string]subscription),
	}
	for _, opt := range opts {
		opt(s)
	}
	logs.Infof("backend: serving %s", cfg.Root)
	return s, nil
}

// Close waits for in-flight requests and releases the root.
func (s *Server) Close() error {
	s.wg.Wait()
	return s.root.Close()
}

// Serve handles everything arriving on h until its inbound channel is
// closed. Requests run concurrently; subscriptions are applied in order.
func (s *Server) Serve(h transport.TransportHandler) {
	logs.Debugf("Serve(%s): start", h.Addr())
	for in := range h.Inbound() {
		s.Handle(in)
	}
	logs.Debugf("Serve(%s): exit", h.Addr())
}

func (s *Server) Handle(in *transport.Inbound) {
	if in.Closed {
		s.dropPeer(in.Peer)
		return
	}
	t := in.Telegram
	switch t.Kind {
	case transport.KindRequest:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := in.Peer.Send(s.Respond(t)); err != nil {
				logs.Warnf("Handle(%s): reply to %s: %v", t.Operation, in.Peer.RemoteAddr(), err)
			}
		}()
	case transport.KindSubscribe:
		s.subscribe(in.Peer, t)
	case transport.KindUnsubscribe:
		s.unsubscribe(in.Peer, t.Operation)
	default:
		logs.Warnf("Handle(): unexpected %s telegram for %s", t.Kind, t.Operation)
	}
}

// Respond answers one request telegram with a reply echoing its parameters.
func (s *Server) Respond(t *transport.Telegram) *transport.Telegram {
	start := time.Now()
	op := filemanager.Operation(t.Operation)

	var (
		data any
		err  error
	)
	if h, ok := handlers[op]; ok {
		data, err = h(s, t)
	} else {
		err = failf(CodeUnsupported, "unknown operation %q", t.Operation)
	}

	if err != nil {
		code, text := classify(err)
		s.errors.add(errorRecord{at: time.Now(), operation: op, consumer: t.Consumer(), code: code, text: text})
		s.metrics.RequestServed(t.Operation, "error", time.Since(start))
		logs.Debugf("Respond(%s): %s failed: %s", t.Consumer(), op, text)
		kind := transport.KindSetError
		if op.IsGetter() {
			kind = transport.KindGetError
		}
		return t.Reply(kind, transport.ErrorData(code, text))
	}
	s.metrics.RequestServed(t.Operation, "ok", time.Since(start))
	return t.Reply(transport.KindResponse, data)
}
