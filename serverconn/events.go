package serverconn

import (
	"github.com/shafiqsaaidin/badvpn/protocol/scproto"
)

// Event is a typed notification from the relay connection. All events are
// delivered in transport order on a single channel; the lifecycle driver is
// the sole subscriber.
type Event interface {
	isEvent()
}

// ReadyEvent reports a completed handshake: the relay assigned this client
// a peer identifier. ExternalIP is the relay's view of our address, for
// logging only (zero if the relay does not know).
type ReadyEvent struct {
	SelfID     scproto.PeerID
	ExternalIP uint32
}

// SendReadyEvent reports transport write capacity: the connection accepts
// exactly one frame via Send per SendReadyEvent received.
type SendReadyEvent struct{}

// PeerJoinedEvent reports a peer registering with the relay.
type PeerJoinedEvent struct {
	ID    scproto.PeerID
	Flags uint16
	Cert  []byte
}

// PeerLeftEvent reports a peer leaving the relay.
type PeerLeftEvent struct {
	ID scproto.PeerID
}

// MessageEvent reports a relayed message addressed to this client.
type MessageEvent struct {
	From    scproto.PeerID
	Payload []byte
}

// ErrorEvent reports connection failure. It is terminal: it is sent at most
// once and no further events follow it.
type ErrorEvent struct {
	Err error
}

func (ReadyEvent) isEvent()      {}
func (SendReadyEvent) isEvent()  {}
func (PeerJoinedEvent) isEvent() {}
func (PeerLeftEvent) isEvent()   {}
func (MessageEvent) isEvent()    {}
func (ErrorEvent) isEvent()      {}
