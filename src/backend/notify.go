package backend

import (
	"github.com/danmuck/dps_filemanager/src/api/transport"
	"github.com/danmuck/dps_filemanager/src/filemanager"
	logs "github.com/danmuck/smplog"
)

type subscription struct {
	peer transport.Peer
	name string // watched folder
}

func (s *Server) subscribe(peer transport.Peer, t *transport.Telegram) {
	if t.Operation != filemanager.NotificationTopic {
		logs.Warnf("subscribe(%s): unknown topic %q", peer.RemoteAddr(), t.Operation)
		return
	}
	name, err := localName(t.Params.String(transport.ParamPath))
	if err != nil {
		logs.Warnf("subscribe(%s): %v", peer.RemoteAddr(), err)
		return
	}

	s.mu.Lock()
	topics, ok := s.subs[peer.ID()]
	if !ok {
		topics = make(map[string]subscription)
		s.subs[peer.ID()] = topics
	}
	topics[t.Operation] = subscription{peer: peer, name: name}
	s.mu.Unlock()
	logs.Debugf("subscribe(%s): %s on %s", peer.RemoteAddr(), t.Operation, clientPath(name))
}

func (s *Server) unsubscribe(peer transport.Peer, topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if topics, ok := s.subs[peer.ID()]; ok {
		delete(topics, topic)
		if len(topics) == 0 {
			delete(s.subs, peer.ID())
		}
	}
}

func (s *Server) dropPeer(peer transport.Peer) {
	s.mu.Lock()
	delete(s.subs, peer.ID())
	s.mu.Unlock()
}

// notify pushes a change of name to every peer watching a folder that
// contains it. Pushes carry no consumer so the gateway fans them out to
// all of its listeners.
func (s *Server) notify(op filemanager.Operation, name string) {
	s.mu.Lock()
	var targets []transport.Peer
	for _, topics := range s.subs {
		if sub, ok := topics[filemanager.NotificationTopic]; ok && within(name, sub.name) {
			targets = append(targets, sub.peer)
		}
	}
	s.mu.Unlock()

	for _, peer := range targets {
		push := &transport.Telegram{
			Kind:      transport.KindPush,
			Operation: filemanager.NotificationTopic,
			Params: transport.Params{
				transport.ParamPath:  clientPath(name),
				transport.ParamEvent: string(op),
			},
			Data: map[string]any{
				transport.ParamEvent: string(op),
				transport.ParamPath:  clientPath(name),
			},
		}
		if err := peer.Send(push); err != nil {
			logs.Warnf("notify(%s): push to %s: %v", op, peer.RemoteAddr(), err)
			continue
		}
		s.metrics.PushSent(filemanager.NotificationTopic)
	}
}
