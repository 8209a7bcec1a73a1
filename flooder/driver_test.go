package flooder

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shafiqsaaidin/badvpn/flooder/metrics"
	"github.com/shafiqsaaidin/badvpn/internal/testlog"
	"github.com/shafiqsaaidin/badvpn/protocol/scproto"
	"github.com/shafiqsaaidin/badvpn/serverconn"
)

type fakeConn struct {
	events  chan serverconn.Event
	sent    chan []byte
	sendErr error
	closed  int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events: make(chan serverconn.Event, 16),
		sent:   make(chan []byte, 16),
	}
}

func (c *fakeConn) Start(ctx context.Context) error { return nil }

func (c *fakeConn) Events() <-chan serverconn.Event { return c.events }

func (c *fakeConn) Send(frame []byte) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent <- append([]byte(nil), frame...)
	return nil
}

func (c *fakeConn) Close() error {
	c.closed++
	return nil
}

func newTestDriver(t *testing.T, conn serverconn.Conn, targets []scproto.PeerID) (*Driver, *[]string) {
	t.Helper()
	logger := testlog.Logger(t, slog.LevelError)
	d := NewDriver(logger, metrics.NoopMetrics, conn, targets)
	var released []string
	d.onRelease = func(resource string) {
		released = append(released, resource)
	}
	return d, &released
}

func waitDone(t *testing.T, d *Driver) {
	t.Helper()
	select {
	case <-d.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("driver did not terminate")
	}
}

func TestDriverErrorWhileConnecting(t *testing.T) {
	conn := newFakeConn()
	d, released := newTestDriver(t, conn, []scproto.PeerID{1})

	connErr := errors.New("dial tcp: connection refused")
	conn.events <- serverconn.ErrorEvent{Err: connErr}
	require.NoError(t, d.Start(context.Background()))
	waitDone(t, d)

	require.Equal(t, StateTerminated, d.State())
	require.ErrorIs(t, d.Err(), connErr)
	// No pipeline was ever built; only the connection handle is released.
	require.Equal(t, []string{"conn"}, *released)
	require.Empty(t, conn.sent)
	require.Equal(t, 1, conn.closed)
}

func TestDriverFloodAndErrorTeardown(t *testing.T) {
	conn := newFakeConn()
	d, released := newTestDriver(t, conn, []scproto.PeerID{7, 3})

	connErr := errors.New("read: connection reset")
	conn.events <- serverconn.ReadyEvent{SelfID: 42}
	conn.events <- serverconn.SendReadyEvent{}
	conn.events <- serverconn.SendReadyEvent{}
	conn.events <- serverconn.ErrorEvent{Err: connErr}
	require.NoError(t, d.Start(context.Background()))
	waitDone(t, d)

	require.Equal(t, scproto.PeerID(42), d.SelfID())
	require.ErrorIs(t, d.Err(), connErr)
	// One frame per capacity signal, round-robin over the targets.
	require.Len(t, conn.sent, 2)
	require.Equal(t, scproto.PeerID(7), decodeOutMsgDest(t, <-conn.sent))
	require.Equal(t, scproto.PeerID(3), decodeOutMsgDest(t, <-conn.sent))
	// Reverse construction order, connection last.
	require.Equal(t, []string{"buffer", "encoder", "source", "conn"}, *released)
}

func TestDriverGracefulStop(t *testing.T) {
	conn := newFakeConn()
	d, released := newTestDriver(t, conn, []scproto.PeerID{9})

	conn.events <- serverconn.ReadyEvent{SelfID: 5}
	conn.events <- serverconn.SendReadyEvent{}
	require.NoError(t, d.Start(context.Background()))

	// The first forwarded frame proves the ready state was reached.
	select {
	case frame := <-conn.sent:
		require.Equal(t, scproto.PeerID(9), decodeOutMsgDest(t, frame))
	case <-time.After(10 * time.Second):
		t.Fatal("no flood frame forwarded")
	}

	require.NoError(t, d.Stop(context.Background()))
	require.Equal(t, StateTerminated, d.State())
	require.NoError(t, d.Err())
	require.Equal(t, []string{"buffer", "encoder", "source", "conn"}, *released)
}

func TestDriverSendErrorTerminates(t *testing.T) {
	conn := newFakeConn()
	conn.sendErr = errors.New("write: broken pipe")
	d, released := newTestDriver(t, conn, []scproto.PeerID{2})

	conn.events <- serverconn.ReadyEvent{SelfID: 1}
	conn.events <- serverconn.SendReadyEvent{}
	require.NoError(t, d.Start(context.Background()))
	waitDone(t, d)

	require.ErrorIs(t, d.Err(), conn.sendErr)
	require.Equal(t, []string{"buffer", "encoder", "source", "conn"}, *released)
}

func TestDriverNoTargetsIdles(t *testing.T) {
	conn := newFakeConn()
	d, _ := newTestDriver(t, conn, nil)

	conn.events <- serverconn.ReadyEvent{SelfID: 13}
	conn.events <- serverconn.SendReadyEvent{}
	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Stop(context.Background()))

	// Nothing to flood: the pipeline stays armed but idle, sending nothing.
	require.NoError(t, d.Err())
	require.Empty(t, conn.sent)
}

func TestDriverStartOnce(t *testing.T) {
	conn := newFakeConn()
	d, _ := newTestDriver(t, conn, nil)

	require.NoError(t, d.Start(context.Background()))
	require.ErrorIs(t, d.Start(context.Background()), ErrDriverStarted)
	require.NoError(t, d.Stop(context.Background()))
}

func TestDriverStopIdempotent(t *testing.T) {
	conn := newFakeConn()
	d, _ := newTestDriver(t, conn, []scproto.PeerID{1})

	connErr := errors.New("relay gone")
	conn.events <- serverconn.ErrorEvent{Err: connErr}
	require.NoError(t, d.Start(context.Background()))
	waitDone(t, d)

	// A stop after failure neither blocks nor rewrites the cause.
	require.NoError(t, d.Stop(context.Background()))
	require.ErrorIs(t, d.Err(), connErr)
	require.Equal(t, 1, conn.closed)
}
