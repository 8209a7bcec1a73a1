package serverconn

import (
	"context"
	"encoding/binary"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shafiqsaaidin/badvpn/internal/testlog"
	"github.com/shafiqsaaidin/badvpn/protocol/packetproto"
	"github.com/shafiqsaaidin/badvpn/protocol/scproto"
)

// fakeRelay is a minimal in-process relay server endpoint for one client.
type fakeRelay struct {
	t  *testing.T
	ln net.Listener

	conn net.Conn
	fr   *packetproto.Reader
}

func startRelay(t *testing.T) *fakeRelay {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	r := &fakeRelay{t: t, ln: ln}
	t.Cleanup(func() {
		_ = ln.Close()
		if r.conn != nil {
			_ = r.conn.Close()
		}
	})
	return r
}

func (r *fakeRelay) addr() string {
	return r.ln.Addr().String()
}

func (r *fakeRelay) accept() {
	r.t.Helper()
	require.NoError(r.t, r.ln.(*net.TCPListener).SetDeadline(time.Now().Add(10*time.Second)))
	conn, err := r.ln.Accept()
	require.NoError(r.t, err)
	r.conn = conn
	r.fr = packetproto.NewReader(conn)
}

// readRecord returns the next non-keepalive record.
func (r *fakeRelay) readRecord() (scproto.RecordType, []byte) {
	r.t.Helper()
	buf := make([]byte, packetproto.MaxPayload)
	for {
		require.NoError(r.t, r.conn.SetReadDeadline(time.Now().Add(10*time.Second)))
		n, err := r.fr.ReadFrame(buf)
		require.NoError(r.t, err)
		typ, body, err := scproto.ParseHeader(buf[:n])
		require.NoError(r.t, err)
		if typ == scproto.TypeKeepalive {
			continue
		}
		return typ, body
	}
}

func (r *fakeRelay) writeRecord(rec []byte) {
	r.t.Helper()
	frame, err := packetproto.AppendFrame(nil, rec)
	require.NoError(r.t, err)
	_, err = r.conn.Write(frame)
	require.NoError(r.t, err)
}

// completeHandshake consumes the client hello and replies with a server
// hello assigning the given peer ID.
func (r *fakeRelay) completeHandshake(id scproto.PeerID) {
	r.t.Helper()
	typ, body := r.readRecord()
	require.Equal(r.t, scproto.TypeClientHello, typ)
	require.Equal(r.t, uint16(scproto.Version), binary.LittleEndian.Uint16(body))

	hello := make([]byte, scproto.HeaderLen+scproto.ServerHelloLen)
	hello[0] = byte(scproto.TypeServerHello)
	binary.LittleEndian.PutUint16(hello[1:3], 0) // flags
	binary.LittleEndian.PutUint16(hello[3:5], uint16(id))
	binary.BigEndian.PutUint32(hello[5:9], 0x7f000001)
	r.writeRecord(hello)
}

func testConfig(addr string) Config {
	return Config{
		Addr:               addr,
		KeepaliveInterval:  time.Minute,
		MinBufferedPackets: 4,
		NetworkTimeout:     10 * time.Second,
	}
}

func startedClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	logger := testlog.Logger(t, slog.LevelError)
	c, err := NewClient(logger, cfg)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func nextEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(10 * time.Second):
		t.Fatal("no event")
		return nil
	}
}

// nextDataEvent skips capacity notifications, which interleave freely with
// inbound traffic.
func nextDataEvent(t *testing.T, c *Client) Event {
	t.Helper()
	for {
		ev := nextEvent(t, c)
		if _, ok := ev.(SendReadyEvent); ok {
			continue
		}
		return ev
	}
}

func TestClientHandshake(t *testing.T) {
	relay := startRelay(t)
	c := startedClient(t, testConfig(relay.addr()))

	relay.accept()
	// Keepalives may precede the server hello and must be skipped.
	relay.writeRecord([]byte{byte(scproto.TypeKeepalive)})
	relay.completeHandshake(42)

	ev := nextEvent(t, c)
	ready, ok := ev.(ReadyEvent)
	require.True(t, ok, "expected ReadyEvent, got %T", ev)
	require.Equal(t, scproto.PeerID(42), ready.SelfID)
	require.Equal(t, uint32(0x7f000001), ready.ExternalIP)

	// Write capacity is reported only after the connection is ready.
	_, ok = nextEvent(t, c).(SendReadyEvent)
	require.True(t, ok)
}

func TestClientInboundRecords(t *testing.T) {
	relay := startRelay(t)
	c := startedClient(t, testConfig(relay.addr()))

	relay.accept()
	relay.completeHandshake(1)
	_, ok := nextEvent(t, c).(ReadyEvent)
	require.True(t, ok)

	nc := []byte{byte(scproto.TypeNewClient), 7, 0, 0x01, 0x00, 0xde, 0xad}
	relay.writeRecord(nc)
	msg := []byte{byte(scproto.TypeInMsg), 7, 0, 'h', 'i'}
	relay.writeRecord(msg)
	ec := []byte{byte(scproto.TypeEndClient), 7, 0}
	relay.writeRecord(ec)

	joined, ok := nextDataEvent(t, c).(PeerJoinedEvent)
	require.True(t, ok)
	require.Equal(t, scproto.PeerID(7), joined.ID)
	require.Equal(t, uint16(1), joined.Flags)
	require.Equal(t, []byte{0xde, 0xad}, joined.Cert)

	received, ok := nextDataEvent(t, c).(MessageEvent)
	require.True(t, ok)
	require.Equal(t, scproto.PeerID(7), received.From)
	require.Equal(t, []byte("hi"), received.Payload)

	left, ok := nextDataEvent(t, c).(PeerLeftEvent)
	require.True(t, ok)
	require.Equal(t, scproto.PeerID(7), left.ID)
}

func TestClientHandshakeCoalescedWithRecords(t *testing.T) {
	relay := startRelay(t)
	c := startedClient(t, testConfig(relay.addr()))

	relay.accept()
	typ, _ := relay.readRecord()
	require.Equal(t, scproto.TypeClientHello, typ)

	// The relay may flush the existing-peer roster in the same segment as
	// the server hello; nothing behind the hello may be dropped.
	hello := make([]byte, scproto.HeaderLen+scproto.ServerHelloLen)
	hello[0] = byte(scproto.TypeServerHello)
	binary.LittleEndian.PutUint16(hello[3:5], 42)
	coalesced, err := packetproto.AppendFrame(nil, hello)
	require.NoError(t, err)
	coalesced, err = packetproto.AppendFrame(coalesced, []byte{byte(scproto.TypeNewClient), 7, 0, 0, 0})
	require.NoError(t, err)
	coalesced, err = packetproto.AppendFrame(coalesced, []byte{byte(scproto.TypeInMsg), 7, 0, 'x'})
	require.NoError(t, err)
	_, err = relay.conn.Write(coalesced)
	require.NoError(t, err)

	ready, ok := nextEvent(t, c).(ReadyEvent)
	require.True(t, ok)
	require.Equal(t, scproto.PeerID(42), ready.SelfID)

	joined, ok := nextDataEvent(t, c).(PeerJoinedEvent)
	require.True(t, ok)
	require.Equal(t, scproto.PeerID(7), joined.ID)

	received, ok := nextDataEvent(t, c).(MessageEvent)
	require.True(t, ok)
	require.Equal(t, []byte("x"), received.Payload)
}

func TestClientSend(t *testing.T) {
	relay := startRelay(t)
	c := startedClient(t, testConfig(relay.addr()))

	relay.accept()
	relay.completeHandshake(1)
	_, ok := nextEvent(t, c).(ReadyEvent)
	require.True(t, ok)
	_, ok = nextEvent(t, c).(SendReadyEvent)
	require.True(t, ok)

	var rec [scproto.MaxEnc]byte
	n, err := scproto.PutOutMsg(rec[:], 9, []byte("flood"))
	require.NoError(t, err)
	frame, err := packetproto.AppendFrame(nil, rec[:n])
	require.NoError(t, err)
	require.NoError(t, c.Send(frame))

	typ, body := relay.readRecord()
	require.Equal(t, scproto.TypeOutMsg, typ)
	require.Equal(t, scproto.PeerID(9), scproto.PeerID(binary.LittleEndian.Uint16(body[0:2])))
	require.Equal(t, []byte("flood"), body[scproto.MsgHdrLen:])

	// Flushing the frame frees capacity again.
	_, ok = nextEvent(t, c).(SendReadyEvent)
	require.True(t, ok)
}

func TestClientKeepalive(t *testing.T) {
	relay := startRelay(t)
	cfg := testConfig(relay.addr())
	cfg.KeepaliveInterval = 50 * time.Millisecond
	c := startedClient(t, cfg)

	relay.accept()
	relay.completeHandshake(1)
	_, ok := nextEvent(t, c).(ReadyEvent)
	require.True(t, ok)

	buf := make([]byte, packetproto.MaxPayload)
	require.NoError(t, relay.conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	n, err := relay.fr.ReadFrame(buf)
	require.NoError(t, err)
	require.Equal(t, scproto.HeaderLen, n)
	require.Equal(t, byte(scproto.TypeKeepalive), buf[0])
}

func TestClientRelayDisconnect(t *testing.T) {
	relay := startRelay(t)
	c := startedClient(t, testConfig(relay.addr()))

	relay.accept()
	relay.completeHandshake(1)
	_, ok := nextEvent(t, c).(ReadyEvent)
	require.True(t, ok)

	require.NoError(t, relay.conn.Close())

	failure, ok := nextDataEvent(t, c).(ErrorEvent)
	require.True(t, ok)
	require.Error(t, failure.Err)
}

func TestClientDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := startedClient(t, testConfig(addr))
	failure, ok := nextEvent(t, c).(ErrorEvent)
	require.True(t, ok)
	require.ErrorContains(t, failure.Err, "dialing relay server")
}

func TestClientSendAfterClose(t *testing.T) {
	relay := startRelay(t)
	c := startedClient(t, testConfig(relay.addr()))
	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Send([]byte{0}), ErrClosed)
	// Close is idempotent.
	require.NoError(t, c.Close())
}

func TestConfigCheck(t *testing.T) {
	cfg := testConfig("relay:7331")
	require.NoError(t, cfg.Check())

	bad := cfg
	bad.Addr = ""
	require.Error(t, bad.Check())

	bad = cfg
	bad.KeepaliveInterval = 0
	require.Error(t, bad.Check())

	bad = cfg
	bad.MinBufferedPackets = 0
	require.Error(t, bad.Check())

	bad = cfg
	bad.NetworkTimeout = 0
	require.Error(t, bad.Check())
}
