package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	logs "github.com/danmuck/smplog"
)

// TCPLink is the client end of a TCPHandler. It connects lazily through
// Connect and then multiplexes every request over the one connection.
type TCPLink struct {
	linkCore

	address     string
	coder       Coder
	DialTimeout time.Duration

	connMu  sync.Mutex
	conn    net.Conn
	writeMu sync.Mutex
	done    chan struct{}
}

func NewTCPLink(address string) *TCPLink {
	return &TCPLink{
		linkCore:    newLinkCore(),
		address:     address,
		coder:       DefaultCoder{},
		DialTimeout: 10 * time.Second,
		done:        make(chan struct{}),
	}
}

// Connect dials the backend and starts the read loop.
func (l *TCPLink) Connect(ctx context.Context) error {
	if l.isClosed() {
		return ErrLinkClosed
	}
	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		return nil
	}

	dialer := net.Dialer{Timeout: l.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", l.address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", l.address, err)
	}
	l.conn = conn
	logs.Debugf("TCPLink.Connect(%s): connected", l.address)
	go l.readLoop(conn)
	return nil
}

func (l *TCPLink) Send(operation string, onReply ReplyFunc, payload []byte, params Params) error {
	conn := l.current()
	if conn == nil {
		return ErrLinkNotConnected
	}
	t, err := l.prepare(operation, onReply, payload, params)
	if err != nil {
		return err
	}
	if err := writeTelegram(conn, &l.writeMu, l.coder, t); err != nil {
		l.forget(t.RequestID())
		return err
	}
	return nil
}

func (l *TCPLink) Subscribe(topic string, params Params, onPush PushFunc) error {
	conn := l.current()
	if conn == nil {
		return ErrLinkNotConnected
	}
	if err := l.subscribe(topic, onPush); err != nil {
		return err
	}
	t := &Telegram{Kind: KindSubscribe, Operation: topic, Params: params.Clone()}
	if err := writeTelegram(conn, &l.writeMu, l.coder, t); err != nil {
		l.unsubscribe(topic)
		return err
	}
	return nil
}

func (l *TCPLink) Unsubscribe(topic string) error {
	l.unsubscribe(topic)
	conn := l.current()
	if conn == nil {
		return nil
	}
	t := &Telegram{Kind: KindUnsubscribe, Operation: topic}
	return writeTelegram(conn, &l.writeMu, l.coder, t)
}

// Close tears down the connection; outstanding requests are answered
// with a link-closed error.
func (l *TCPLink) Close() error {
	l.connMu.Lock()
	conn := l.conn
	l.connMu.Unlock()
	if conn == nil {
		l.fail(ErrLinkClosed)
		return nil
	}
	err := conn.Close()
	<-l.done
	return err
}

func (l *TCPLink) current() net.Conn {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	return l.conn
}

func (l *TCPLink) readLoop(conn net.Conn) {
	defer close(l.done)
	reader := bufio.NewReader(conn)
	for {
		t, err := l.coder.Decode(reader)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				logs.Debugf("TCPLink.readLoop(%s): closed", l.address)
				l.fail(ErrLinkClosed)
			} else {
				logs.Warnf("TCPLink.readLoop(%s): %v", l.address, err)
				l.fail(fmt.Errorf("%w: %v", ErrLinkClosed, err))
			}
			conn.Close()
			return
		}
		l.dispatch(t)
	}
}
