package transport

// TransportHandler is the server side of a link: it accepts peers and
// hands every decoded telegram to the consumer of Inbound().
type TransportHandler interface {
	ListenAndAccept() error            // listen and accept connections
	Addr() string                      // bound address, valid after ListenAndAccept
	Send(peer Peer, t *Telegram) error // send a telegram to one peer
	Inbound() <-chan *Inbound          // return channel of inbound telegrams
	Close() error                      // close listener, peers and channels
}

// Peer is one connected client of a TransportHandler.
type Peer interface {
	ID() string
	RemoteAddr() string
	Send(t *Telegram) error
	Close() error
}

// Inbound pairs a telegram with the peer it arrived from. A nil Telegram
// with Closed set reports that the peer went away.
type Inbound struct {
	Peer     Peer
	Telegram *Telegram
	Closed   bool
}

// ReplyFunc receives a reply telegram together with its message kind.
type ReplyFunc func(kind MessageKind, t *Telegram)

// PushFunc receives unsolicited telegrams for a subscribed topic.
type PushFunc func(t *Telegram)
