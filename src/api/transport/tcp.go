package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	logs "github.com/danmuck/smplog"
	"github.com/google/uuid"
)

const pollInterval = 500 * time.Millisecond

type TCPHandler struct {
	address  string
	listener net.Listener
	inbound  chan *Inbound
	coder    Coder
	exit     chan any

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	mu        sync.Mutex
	peers     map[string]*tcpPeer
}

// TCPHandler generator function
func NewTCPHandler(address string, exit chan any) *TCPHandler {
	logs.Debugf("NewTCPHandler(%s)", address)
	return &TCPHandler{
		address: address,
		inbound: make(chan *Inbound),
		exit:    exit,
		coder:   DefaultCoder{},
		done:    make(chan struct{}),
		peers:   make(map[string]*tcpPeer),
	}
}

// interface

// close listener, peer connections and the inbound channel
func (h *TCPHandler) Close() error {
	logs.Debugf("Close(start)")
	h.closeOnce.Do(func() {
		close(h.done)
		if h.listener != nil {
			h.listener.Close()
		}
		h.mu.Lock()
		for _, p := range h.peers {
			p.conn.Close()
		}
		h.mu.Unlock()
		h.wg.Wait()
		close(h.inbound)
	})
	logs.Debugf("Close(done)")
	return nil
}

// Listen and accept connections via TCPHandler.listener
func (h *TCPHandler) ListenAndAccept() error {
	logs.Debugf("ListenAndAccept(%s)", h.address)
	var err error
	h.listener, err = net.Listen("tcp", h.address)
	if err != nil {
		return err
	}

	h.wg.Add(1)
	go h.acceptConnections()

	return nil
}

func (h *TCPHandler) Addr() string {
	if h.listener == nil {
		return h.address
	}
	return h.listener.Addr().String()
}

// Send a telegram to a peer using the configured encoder
func (h *TCPHandler) Send(peer Peer, t *Telegram) error {
	return peer.Send(t)
}

func (h *TCPHandler) Inbound() <-chan *Inbound {
	return h.inbound
}

// private

func (h *TCPHandler) stopping() bool {
	select {
	case <-h.exit:
		return true
	case <-h.done:
		return true
	default:
		return false
	}
}

// deliver hands a message to the consumer unless the handler is stopping
func (h *TCPHandler) deliver(in *Inbound) bool {
	select {
	case h.inbound <- in:
		return true
	case <-h.exit:
		return false
	case <-h.done:
		return false
	}
}

// listener accept loop
func (h *TCPHandler) acceptConnections() {
	logs.Debugf("acceptConnections(): start")
	defer h.wg.Done()
	defer h.listener.Close()
	for {
		if h.stopping() {
			logs.Debugf("acceptConnections(): exit")
			return
		}
		h.listener.(*net.TCPListener).SetDeadline(time.Now().Add(pollInterval)) // Non-blocking
		conn, err := h.listener.Accept()
		if err != nil {
			var opErr *net.OpError
			if errors.As(err, &opErr) && opErr.Timeout() {
				// Timeout, continue to check exit
				continue
			}
			if !h.stopping() {
				logs.Warnf("acceptConnections error: %s", err)
			}
			return
		}
		peer := &tcpPeer{id: uuid.NewString(), conn: conn, coder: h.coder}
		h.mu.Lock()
		h.peers[peer.id] = peer
		h.mu.Unlock()
		h.wg.Add(1)
		go h.handleConnection(peer)
	}
}

// listener connection handler
func (h *TCPHandler) handleConnection(peer *tcpPeer) {
	defer h.wg.Done()
	defer func() {
		peer.conn.Close()
		h.mu.Lock()
		delete(h.peers, peer.id)
		h.mu.Unlock()
		h.deliver(&Inbound{Peer: peer, Closed: true})
	}()
	clientAddr := peer.RemoteAddr()
	logs.Debugf("handleConnection(%s): start", clientAddr)

	reader := bufio.NewReader(peer.conn)

	for {
		if h.stopping() {
			logs.Debugf("handleConnection(): exit")
			return
		}
		peer.conn.SetReadDeadline(time.Now().Add(pollInterval)) // Non-blocking

		_, err := reader.Peek(1)
		if err != nil {
			var opErr *net.OpError
			if errors.As(err, &opErr) && opErr.Timeout() {
				// Timeout, continue to check exit
				continue
			}
			if errors.Is(err, io.EOF) {
				logs.Debugf("Connection closed by peer.")
				return
			}
			if !h.stopping() {
				logs.Warnf("Error reading from reader: %v", err)
			}
			return
		}

		// a frame has started: read it to completion without the poll deadline
		peer.conn.SetReadDeadline(time.Time{})
		t, err := h.coder.Decode(reader)
		if err != nil {
			logs.Warnf("handleConnection error: %v", err)
			return
		}
		if !h.deliver(&Inbound{Peer: peer, Telegram: t}) {
			return
		}
	}
}

type tcpPeer struct {
	id      string
	conn    net.Conn
	coder   Coder
	writeMu sync.Mutex
}

func (p *tcpPeer) ID() string { return p.id }

func (p *tcpPeer) RemoteAddr() string { return p.conn.RemoteAddr().String() }

func (p *tcpPeer) Send(t *Telegram) error {
	return writeTelegram(p.conn, &p.writeMu, p.coder, t)
}

func (p *tcpPeer) Close() error { return p.conn.Close() }

// writeTelegram encodes and writes one frame; writes are serialized so
// frames from concurrent senders never interleave.
func writeTelegram(w io.Writer, mu *sync.Mutex, coder Coder, t *Telegram) error {
	data, err := coder.Encode(t)
	if err != nil {
		return fmt.Errorf("failed to encode telegram: %w", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write telegram: %w", err)
	}
	return nil
}
