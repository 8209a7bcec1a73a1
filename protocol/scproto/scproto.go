// Package scproto implements the relay server control protocol: the record
// types exchanged between a client and the chat/relay server, and their
// fixed-layout binary encodings. All multi-byte fields are little-endian.
package scproto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// PeerID identifies a client registered with the relay server.
type PeerID uint16

func (id PeerID) String() string {
	return fmt.Sprintf("%d", uint16(id))
}

// RecordType discriminates the payload following a record header.
type RecordType uint8

const (
	TypeKeepalive RecordType = iota
	TypeClientHello
	TypeServerHello
	TypeNewClient
	TypeEndClient
	TypeOutMsg
	TypeInMsg
)

func (t RecordType) String() string {
	switch t {
	case TypeKeepalive:
		return "keepalive"
	case TypeClientHello:
		return "clienthello"
	case TypeServerHello:
		return "serverhello"
	case TypeNewClient:
		return "newclient"
	case TypeEndClient:
		return "endclient"
	case TypeOutMsg:
		return "outmsg"
	case TypeInMsg:
		return "inmsg"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Version is the protocol version sent in the client hello.
const Version uint16 = 1

const (
	// HeaderLen is the size of the record header (the type octet).
	HeaderLen = 1

	// ClientHelloLen is the size of the client hello body.
	ClientHelloLen = 2
	// ServerHelloLen is the size of the server hello body:
	// flags, assigned peer ID, external IPv4 address.
	ServerHelloLen = 2 + 2 + 4
	// NewClientHdrLen is the fixed part of a newclient body, before the
	// variable-length certificate.
	NewClientHdrLen = 2 + 2
	// EndClientLen is the size of an endclient body.
	EndClientLen = 2
	// MsgHdrLen is the size of the outmsg/inmsg sub-header carrying the
	// destination (outmsg) or source (inmsg) peer ID.
	MsgHdrLen = 2

	// MaxMsgLen is the maximum relayed message payload.
	MaxMsgLen = 1024

	// MaxEnc is the maximum encoded size of any record.
	MaxEnc = HeaderLen + MsgHdrLen + MaxMsgLen
)

// KeepaliveInterval is how often a client must emit a keepalive record
// when it has nothing else to send.
const KeepaliveInterval = 10 * time.Second

var (
	ErrShortRecord   = errors.New("scproto: record too short")
	ErrRecordTooLong = errors.New("scproto: record exceeds maximum length")
)

// ServerHello is the server's reply to a client hello. Ready state begins
// once it is received.
type ServerHello struct {
	Flags      uint16
	ID         PeerID
	ExternalIP uint32 // network byte order IPv4, zero if unknown
}

// NewClient announces a peer joining the relay.
type NewClient struct {
	ID    PeerID
	Flags uint16
	Cert  []byte
}

// EndClient announces a peer leaving the relay.
type EndClient struct {
	ID PeerID
}

// InMsg is a relayed message delivered to this client.
type InMsg struct {
	From    PeerID
	Payload []byte
}

// PutKeepalive writes a keepalive record into b and returns its length.
func PutKeepalive(b []byte) int {
	b[0] = byte(TypeKeepalive)
	return HeaderLen
}

// PutClientHello writes a client hello record into b and returns its length.
func PutClientHello(b []byte, version uint16) int {
	b[0] = byte(TypeClientHello)
	binary.LittleEndian.PutUint16(b[HeaderLen:], version)
	return HeaderLen + ClientHelloLen
}

// PutOutMsg writes an outgoing-message record addressed to dst into b,
// followed by the given payload, and returns the total record length.
// The payload must not exceed MaxMsgLen.
func PutOutMsg(b []byte, dst PeerID, payload []byte) (int, error) {
	if len(payload) > MaxMsgLen {
		return 0, ErrRecordTooLong
	}
	total := HeaderLen + MsgHdrLen + len(payload)
	if len(b) < total {
		return 0, ErrShortRecord
	}
	b[0] = byte(TypeOutMsg)
	binary.LittleEndian.PutUint16(b[HeaderLen:], uint16(dst))
	copy(b[HeaderLen+MsgHdrLen:], payload)
	return total, nil
}

// ParseHeader returns the record type and body of an encoded record.
func ParseHeader(rec []byte) (RecordType, []byte, error) {
	if len(rec) < HeaderLen {
		return 0, nil, ErrShortRecord
	}
	return RecordType(rec[0]), rec[HeaderLen:], nil
}

// ParseServerHello decodes a server hello body.
func ParseServerHello(body []byte) (ServerHello, error) {
	if len(body) < ServerHelloLen {
		return ServerHello{}, ErrShortRecord
	}
	return ServerHello{
		Flags:      binary.LittleEndian.Uint16(body[0:2]),
		ID:         PeerID(binary.LittleEndian.Uint16(body[2:4])),
		ExternalIP: binary.BigEndian.Uint32(body[4:8]),
	}, nil
}

// ParseNewClient decodes a newclient body. The certificate slice aliases body.
func ParseNewClient(body []byte) (NewClient, error) {
	if len(body) < NewClientHdrLen {
		return NewClient{}, ErrShortRecord
	}
	return NewClient{
		ID:    PeerID(binary.LittleEndian.Uint16(body[0:2])),
		Flags: binary.LittleEndian.Uint16(body[2:4]),
		Cert:  body[NewClientHdrLen:],
	}, nil
}

// ParseEndClient decodes an endclient body.
func ParseEndClient(body []byte) (EndClient, error) {
	if len(body) < EndClientLen {
		return EndClient{}, ErrShortRecord
	}
	return EndClient{ID: PeerID(binary.LittleEndian.Uint16(body[0:2]))}, nil
}

// ParseInMsg decodes an inmsg body. The payload slice aliases body.
func ParseInMsg(body []byte) (InMsg, error) {
	if len(body) < MsgHdrLen {
		return InMsg{}, ErrShortRecord
	}
	if len(body)-MsgHdrLen > MaxMsgLen {
		return InMsg{}, ErrRecordTooLong
	}
	return InMsg{
		From:    PeerID(binary.LittleEndian.Uint16(body[0:2])),
		Payload: body[MsgHdrLen:],
	}, nil
}
