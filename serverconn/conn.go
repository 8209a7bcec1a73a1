// Package serverconn maintains the client connection to the relay server:
// dialing (optionally through TLS), the hello handshake, keepalive emission,
// and the translation of inbound protocol records into typed events.
//
// The connection reports everything through a single ordered event channel
// and accepts one outbound frame per SendReadyEvent, so a consumer driving
// it from one goroutine observes a cooperative, non-blocking interface.
package serverconn

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/shafiqsaaidin/badvpn/protocol/packetproto"
	"github.com/shafiqsaaidin/badvpn/protocol/scproto"
)

// Conn is the relay connection surface the flood driver consumes.
type Conn interface {
	// Start dials the relay and begins the handshake in the background.
	// Progress is reported through Events.
	Start(ctx context.Context) error
	// Events returns the ordered event stream. It is never closed; an
	// ErrorEvent is the terminal element.
	Events() <-chan Event
	// Send queues one frame for transmission. Callers must hold exactly one
	// SendReadyEvent worth of capacity; calling without it is an error.
	Send(frame []byte) error
	// Close tears the connection down and waits for its goroutines. Safe to
	// call more than once.
	Close() error
}

// Config parameterizes a Client.
type Config struct {
	// Addr is the relay server endpoint, host:port.
	Addr string
	// TLSConfig enables transport security when non-nil.
	TLSConfig *tls.Config
	// KeepaliveInterval bounds the silence between outbound records.
	KeepaliveInterval time.Duration
	// MinBufferedPackets sizes the outbound queue.
	MinBufferedPackets int
	// NetworkTimeout bounds dialing and individual writes.
	NetworkTimeout time.Duration
}

func (c Config) Check() error {
	if c.Addr == "" {
		return errors.New("serverconn: address not set")
	}
	if c.KeepaliveInterval <= 0 {
		return errors.New("serverconn: keepalive interval must be positive")
	}
	if c.MinBufferedPackets < 1 {
		return errors.New("serverconn: need at least one buffered packet")
	}
	if c.NetworkTimeout <= 0 {
		return errors.New("serverconn: network timeout must be positive")
	}
	return nil
}

var (
	ErrSendWithoutCapacity = errors.New("serverconn: send without reported capacity")
	ErrClosed              = errors.New("serverconn: connection closed")
)

// Client is the concrete relay connection.
type Client struct {
	log log.Logger
	cfg Config

	events chan Event
	sendCh chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu sync.Mutex
	conn   net.Conn

	started atomic.Bool
	closed  atomic.Bool
	errOnce sync.Once
}

var _ Conn = (*Client)(nil)

func NewClient(logger log.Logger, cfg Config) (*Client, error) {
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return &Client{
		log:    logger,
		cfg:    cfg,
		events: make(chan Event, 64),
		sendCh: make(chan []byte, cfg.MinBufferedPackets),
	}, nil
}

// Start begins connecting in the background. The handshake outcome arrives
// as a ReadyEvent or ErrorEvent.
func (c *Client) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("serverconn: already started")
	}
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) Send(frame []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	// The frame buffer belongs to the caller and is reused; queue a copy.
	queued := append([]byte(nil), frame...)
	select {
	case c.sendCh <- queued:
		return nil
	default:
		return ErrSendWithoutCapacity
	}
}

func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.connMu.Unlock()
	c.wg.Wait()
	return nil
}

func (c *Client) run(dialCtx context.Context) {
	defer c.wg.Done()

	conn, err := c.dial(dialCtx)
	if err != nil {
		c.fail(fmt.Errorf("dialing relay server: %w", err))
		return
	}
	c.connMu.Lock()
	closed := c.closed.Load()
	if !closed {
		c.conn = conn
	}
	c.connMu.Unlock()
	if closed {
		_ = conn.Close()
		return
	}

	// One reader for the connection's whole life: records the relay sends
	// right behind the server hello must reach the read loop.
	fr := packetproto.NewReader(bufio.NewReader(conn))

	hello, err := c.handshake(conn, fr)
	if err != nil {
		c.fail(fmt.Errorf("relay handshake: %w", err))
		return
	}
	c.emit(ReadyEvent{SelfID: hello.ID, ExternalIP: hello.ExternalIP})

	c.wg.Add(1)
	go c.writeLoop(conn)

	c.readLoop(fr)
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: c.cfg.NetworkTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return nil, err
	}
	if c.cfg.TLSConfig == nil {
		return conn, nil
	}
	tlsConn := tls.Client(conn, c.cfg.TLSConfig)
	hsCtx, cancel := context.WithTimeout(ctx, c.cfg.NetworkTimeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("TLS handshake: %w", err)
	}
	return tlsConn, nil
}

// handshake sends the client hello and waits for the server hello,
// tolerating keepalives in between.
func (c *Client) handshake(conn net.Conn, fr *packetproto.Reader) (scproto.ServerHello, error) {
	var rec [scproto.MaxEnc]byte
	n := scproto.PutClientHello(rec[:], scproto.Version)
	if err := c.writeFrame(conn, rec[:n]); err != nil {
		return scproto.ServerHello{}, fmt.Errorf("sending hello: %w", err)
	}

	buf := make([]byte, scproto.MaxEnc)
	deadline := time.Now().Add(c.cfg.NetworkTimeout)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return scproto.ServerHello{}, err
		}
		n, err := fr.ReadFrame(buf)
		if err != nil {
			return scproto.ServerHello{}, err
		}
		typ, body, err := scproto.ParseHeader(buf[:n])
		if err != nil {
			return scproto.ServerHello{}, err
		}
		switch typ {
		case scproto.TypeKeepalive:
			continue
		case scproto.TypeServerHello:
			if err := conn.SetReadDeadline(time.Time{}); err != nil {
				return scproto.ServerHello{}, err
			}
			return scproto.ParseServerHello(body)
		default:
			return scproto.ServerHello{}, fmt.Errorf("unexpected %s record before server hello", typ)
		}
	}
}

// readLoop decodes inbound records into events until the stream fails.
func (c *Client) readLoop(fr *packetproto.Reader) {
	buf := make([]byte, packetproto.MaxPayload)
	for {
		n, err := fr.ReadFrame(buf)
		if err != nil {
			c.fail(fmt.Errorf("reading from relay: %w", err))
			return
		}
		typ, body, err := scproto.ParseHeader(buf[:n])
		if err != nil {
			c.fail(fmt.Errorf("malformed record: %w", err))
			return
		}
		switch typ {
		case scproto.TypeKeepalive:
			// nothing to do
		case scproto.TypeNewClient:
			nc, err := scproto.ParseNewClient(body)
			if err != nil {
				c.fail(fmt.Errorf("malformed newclient: %w", err))
				return
			}
			c.emit(PeerJoinedEvent{ID: nc.ID, Flags: nc.Flags, Cert: append([]byte(nil), nc.Cert...)})
		case scproto.TypeEndClient:
			ec, err := scproto.ParseEndClient(body)
			if err != nil {
				c.fail(fmt.Errorf("malformed endclient: %w", err))
				return
			}
			c.emit(PeerLeftEvent{ID: ec.ID})
		case scproto.TypeInMsg:
			msg, err := scproto.ParseInMsg(body)
			if err != nil {
				c.fail(fmt.Errorf("malformed inmsg: %w", err))
				return
			}
			c.emit(MessageEvent{From: msg.From, Payload: append([]byte(nil), msg.Payload...)})
		default:
			c.fail(fmt.Errorf("unexpected %s record from relay", typ))
			return
		}
	}
}

// writeLoop owns all post-handshake writes: queued frames and keepalives.
// It reports write capacity by emitting one SendReadyEvent up front and one
// after every queued frame it flushes.
func (c *Client) writeLoop(conn net.Conn) {
	defer c.wg.Done()

	keepalive := time.NewTicker(c.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	var ka [scproto.HeaderLen]byte
	kaLen := scproto.PutKeepalive(ka[:])

	c.emit(SendReadyEvent{})
	for {
		select {
		case <-c.ctx.Done():
			return
		case frame := <-c.sendCh:
			if err := c.writeRaw(conn, frame); err != nil {
				c.fail(fmt.Errorf("writing to relay: %w", err))
				return
			}
			keepalive.Reset(c.cfg.KeepaliveInterval)
			c.emit(SendReadyEvent{})
		case <-keepalive.C:
			if err := c.writeFrame(conn, ka[:kaLen]); err != nil {
				c.fail(fmt.Errorf("writing keepalive: %w", err))
				return
			}
		}
	}
}

// writeFrame frames rec and writes it out.
func (c *Client) writeFrame(conn net.Conn, rec []byte) error {
	frame, err := packetproto.AppendFrame(nil, rec)
	if err != nil {
		return err
	}
	return c.writeRaw(conn, frame)
}

// writeRaw writes an already-framed record.
func (c *Client) writeRaw(conn net.Conn, frame []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.NetworkTimeout)); err != nil {
		return err
	}
	_, err := conn.Write(frame)
	return err
}

// emit delivers an event unless the connection is shutting down.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

// fail reports the first error as the terminal event; later errors are the
// same failure observed from another loop and are only logged.
func (c *Client) fail(err error) {
	if c.closed.Load() {
		return
	}
	c.errOnce.Do(func() {
		c.log.Debug("Relay connection failed", "err", err)
		c.emit(ErrorEvent{Err: err})
	})
}
