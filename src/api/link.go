package api

import (
	"context"

	"github.com/danmuck/dps_filemanager/src/api/transport"
)

// LinkAdapter is the client end of the backend link used by the gateway.
// Replies are delivered asynchronously and in any order.
type LinkAdapter interface {
	// Send a request; onReply is invoked once with the reply telegram
	Send(operation string, onReply transport.ReplyFunc, payload []byte, params transport.Params) error
	// Subscribe to push telegrams for a topic, best effort
	Subscribe(topic string, params transport.Params, onPush transport.PushFunc) error
	// Unsubscribe from a topic, best effort
	Unsubscribe(topic string) error
}

// Connector establishes the binding between the link and the backend.
type Connector interface {
	Connect(ctx context.Context) error
}

// Link is a LinkAdapter that also knows how to bind and release itself.
type Link interface {
	LinkAdapter
	Connector
	Close() error
}

var (
	_ Link = (*transport.TCPLink)(nil)
	_ Link = (*transport.WSLink)(nil)
)
