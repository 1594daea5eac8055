package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	logs "github.com/danmuck/smplog"
	"github.com/google/uuid"
)

const writeTimeout = 10 * time.Second

func messageType(c Coder) websocket.MessageType {
	if _, ok := c.(JSONCoder); ok {
		return websocket.MessageText
	}
	return websocket.MessageBinary
}

func writeWS(conn *websocket.Conn, mu *sync.Mutex, coder Coder, t *Telegram) error {
	data, err := coder.Encode(t)
	if err != nil {
		return fmt.Errorf("failed to encode telegram: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	mu.Lock()
	defer mu.Unlock()
	if err := conn.Write(ctx, messageType(coder), data); err != nil {
		return fmt.Errorf("failed to write telegram: %w", err)
	}
	return nil
}

func readWS(ctx context.Context, conn *websocket.Conn, coder Coder) (*Telegram, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	return coder.Decode(bytes.NewReader(data))
}

// WSLink is the WebSocket flavour of the client link; one JSON telegram
// per text message.
type WSLink struct {
	linkCore

	url   string
	coder Coder

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewWSLink(url string) *WSLink {
	return &WSLink{
		linkCore: newLinkCore(),
		url:      url,
		coder:    JSONCoder{},
		done:     make(chan struct{}),
	}
}

func (l *WSLink) Connect(ctx context.Context) error {
	if l.isClosed() {
		return ErrLinkClosed
	}
	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		return nil
	}

	conn, _, err := websocket.Dial(ctx, l.url, nil)
	if err != nil {
		return fmt.Errorf("dial websocket %s: %w", l.url, err)
	}
	conn.SetReadLimit(MaxFrameSize)
	readCtx, cancel := context.WithCancel(context.Background())
	l.conn = conn
	l.cancel = cancel
	logs.Debugf("WSLink.Connect(%s): connected", l.url)
	go l.readLoop(readCtx, conn)
	return nil
}

func (l *WSLink) Send(operation string, onReply ReplyFunc, payload []byte, params Params) error {
	conn := l.current()
	if conn == nil {
		return ErrLinkNotConnected
	}
	t, err := l.prepare(operation, onReply, payload, params)
	if err != nil {
		return err
	}
	if err := writeWS(conn, &l.writeMu, l.coder, t); err != nil {
		l.forget(t.RequestID())
		return err
	}
	return nil
}

func (l *WSLink) Subscribe(topic string, params Params, onPush PushFunc) error {
	conn := l.current()
	if conn == nil {
		return ErrLinkNotConnected
	}
	if err := l.subscribe(topic, onPush); err != nil {
		return err
	}
	t := &Telegram{Kind: KindSubscribe, Operation: topic, Params: params.Clone()}
	if err := writeWS(conn, &l.writeMu, l.coder, t); err != nil {
		l.unsubscribe(topic)
		return err
	}
	return nil
}

func (l *WSLink) Unsubscribe(topic string) error {
	l.unsubscribe(topic)
	conn := l.current()
	if conn == nil {
		return nil
	}
	return writeWS(conn, &l.writeMu, l.coder, &Telegram{Kind: KindUnsubscribe, Operation: topic})
}

func (l *WSLink) Close() error {
	l.connMu.Lock()
	conn, cancel := l.conn, l.cancel
	l.connMu.Unlock()
	if conn == nil {
		l.fail(ErrLinkClosed)
		return nil
	}
	err := conn.Close(websocket.StatusNormalClosure, "")
	cancel()
	<-l.done
	return err
}

func (l *WSLink) current() *websocket.Conn {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	return l.conn
}

func (l *WSLink) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer close(l.done)
	for {
		t, err := readWS(ctx, conn, l.coder)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				logs.Debugf("WSLink.readLoop(%s): closed", l.url)
				l.fail(ErrLinkClosed)
			} else {
				logs.Warnf("WSLink.readLoop(%s): %v", l.url, err)
				l.fail(fmt.Errorf("%w: %v", ErrLinkClosed, err))
			}
			conn.CloseNow()
			return
		}
		l.dispatch(t)
	}
}

// WSHandler is the server side of WSLink. It implements TransportHandler
// and http.Handler so it can be mounted on an existing mux or run its own
// listener through ListenAndAccept.
type WSHandler struct {
	address  string
	path     string
	coder    Coder
	exit     chan any
	inbound  chan *Inbound
	listener net.Listener
	server   *http.Server

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
	mu        sync.Mutex
	peers     map[string]*wsPeer
}

func NewWSHandler(address, path string, exit chan any) *WSHandler {
	logs.Debugf("NewWSHandler(%s%s)", address, path)
	ctx, cancel := context.WithCancel(context.Background())
	return &WSHandler{
		address: address,
		path:    path,
		coder:   JSONCoder{},
		exit:    exit,
		inbound: make(chan *Inbound),
		ctx:     ctx,
		cancel:  cancel,
		peers:   make(map[string]*wsPeer),
	}
}

func (h *WSHandler) ListenAndAccept() error {
	var err error
	h.listener, err = net.Listen("tcp", h.address)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle(h.path, h)
	h.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := h.server.Serve(h.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Warnf("WSHandler.Serve(%s): %v", h.address, err)
		}
	}()
	if h.exit != nil {
		go func() {
			select {
			case <-h.exit:
				h.cancel()
			case <-h.ctx.Done():
			}
		}()
	}
	return nil
}

func (h *WSHandler) Addr() string {
	if h.listener == nil {
		return h.address
	}
	return h.listener.Addr().String()
}

// URL is the ws:// address clients dial once the handler is listening.
func (h *WSHandler) URL() string {
	return "ws://" + h.Addr() + h.path
}

func (h *WSHandler) Send(peer Peer, t *Telegram) error {
	return peer.Send(t)
}

func (h *WSHandler) Inbound() <-chan *Inbound {
	return h.inbound
}

func (h *WSHandler) Close() error {
	h.closeOnce.Do(func() {
		h.cancel()
		if h.server != nil {
			h.server.Close()
		}
		h.mu.Lock()
		for _, p := range h.peers {
			p.conn.CloseNow()
		}
		h.mu.Unlock()
		h.wg.Wait()
		close(h.inbound)
	})
	return nil
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logs.Warnf("WSHandler.ServeHTTP(): accept: %v", err)
		return
	}
	conn.SetReadLimit(MaxFrameSize)

	peer := &wsPeer{id: uuid.NewString(), remote: r.RemoteAddr, conn: conn, coder: h.coder}
	h.mu.Lock()
	if h.ctx.Err() != nil {
		h.mu.Unlock()
		conn.CloseNow()
		return
	}
	h.peers[peer.id] = peer
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()
	defer func() {
		conn.CloseNow()
		h.mu.Lock()
		delete(h.peers, peer.id)
		h.mu.Unlock()
		h.deliver(&Inbound{Peer: peer, Closed: true})
	}()

	logs.Debugf("WSHandler.ServeHTTP(%s): start", peer.remote)
	for {
		t, err := readWS(h.ctx, conn, h.coder)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && h.ctx.Err() == nil {
				logs.Debugf("WSHandler.ServeHTTP(%s): %v", peer.remote, err)
			}
			return
		}
		if !h.deliver(&Inbound{Peer: peer, Telegram: t}) {
			return
		}
	}
}

func (h *WSHandler) deliver(in *Inbound) bool {
	select {
	case h.inbound <- in:
		return true
	case <-h.ctx.Done():
		return false
	}
}

type wsPeer struct {
	id      string
	remote  string
	conn    *websocket.Conn
	coder   Coder
	writeMu sync.Mutex
}

func (p *wsPeer) ID() string { return p.id }

func (p *wsPeer) RemoteAddr() string { return p.remote }

func (p *wsPeer) Send(t *Telegram) error {
	return writeWS(p.conn, &p.writeMu, p.coder, t)
}

func (p *wsPeer) Close() error {
	return p.conn.Close(websocket.StatusNormalClosure, "")
}
