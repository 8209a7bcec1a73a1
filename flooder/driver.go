package flooder

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/ethereum/go-ethereum/log"

	"github.com/shafiqsaaidin/badvpn/flooder/metrics"
	"github.com/shafiqsaaidin/badvpn/flow"
	"github.com/shafiqsaaidin/badvpn/internal/closer"
	"github.com/shafiqsaaidin/badvpn/protocol/packetproto"
	"github.com/shafiqsaaidin/badvpn/protocol/scproto"
	"github.com/shafiqsaaidin/badvpn/serverconn"
)

// State is a phase of the relay connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateTerminating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ErrDriverStarted is returned by Start on reuse; a driver runs once.
var ErrDriverStarted = errors.New("flooder: driver already started")

// Driver is the connection lifecycle controller. It owns the relay
// connection handle and the flood pipeline, and it is the only component
// that constructs or destroys either. All state lives on the driver's one
// event-loop goroutine: events, send capacity and termination requests are
// processed strictly one at a time, so no locking is needed.
//
// The pipeline (source, encoder, buffer) exists exactly while the driver is
// in StateReady. Teardown destroys it in reverse construction order, then
// releases the connection.
type Driver struct {
	log  log.Logger
	metr metrics.Metricer

	conn    serverconn.Conn
	targets []scproto.PeerID

	state  State
	selfID scproto.PeerID

	buffer *flow.SingleSlotBuffer
	// cleanup releases the pipeline in reverse construction order.
	cleanup closer.CloseFn

	started bool
	stopCh  chan error
	done    chan struct{}
	cause   error

	// onRelease observes resource teardown order; tests only.
	onRelease func(resource string)
}

func NewDriver(logger log.Logger, metr metrics.Metricer, conn serverconn.Conn, targets []scproto.PeerID) *Driver {
	return &Driver{
		log:     logger,
		metr:    metr,
		conn:    conn,
		targets: targets,
		state:   StateDisconnected,
		cleanup: closer.Nop(),
		stopCh:  make(chan error, 1),
		done:    make(chan struct{}),
	}
}

// Start initiates the relay connection and runs the event loop in the
// background. The driver terminates on connection error or RequestStop.
func (d *Driver) Start(ctx context.Context) error {
	if d.state != StateDisconnected {
		return ErrDriverStarted
	}
	if err := d.conn.Start(ctx); err != nil {
		return fmt.Errorf("starting relay connection: %w", err)
	}
	d.started = true
	d.setState(StateConnecting)
	go d.run()
	return nil
}

// RequestStop asks the event loop to terminate. It never blocks and is
// idempotent: requests beyond the first are dropped.
func (d *Driver) RequestStop(cause error) {
	select {
	case d.stopCh <- cause:
	default:
	}
}

// Stop requests termination and waits for the event loop to finish,
// or for ctx to expire.
func (d *Driver) Stop(ctx context.Context) error {
	if !d.started {
		// The event loop never ran; there is nothing to wait for, but the
		// connection handle may still hold a dial in progress.
		return d.conn.Close()
	}
	d.RequestStop(nil)
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for driver teardown: %w", ctx.Err())
	}
}

// Done is closed once teardown completed.
func (d *Driver) Done() <-chan struct{} {
	return d.done
}

// Err returns the termination cause. Valid after Done is closed; nil for a
// requested (operator) stop.
func (d *Driver) Err() error {
	return d.cause
}

// State returns the current lifecycle state. Outside the event loop it is
// only meaningful before Start and after Done.
func (d *Driver) State() State {
	return d.state
}

// SelfID returns the relay-assigned peer identifier. Defined only once
// StateReady was reached.
func (d *Driver) SelfID() scproto.PeerID {
	return d.selfID
}

func (d *Driver) run() {
	defer close(d.done)
	for d.state != StateTerminated {
		select {
		case ev := <-d.conn.Events():
			d.handleEvent(ev)
		case cause := <-d.stopCh:
			d.log.Info("Termination requested")
			d.terminate(cause)
		}
	}
}

func (d *Driver) handleEvent(ev serverconn.Event) {
	switch ev := ev.(type) {
	case serverconn.ReadyEvent:
		d.handleReady(ev)
	case serverconn.SendReadyEvent:
		d.handleSendReady()
	case serverconn.PeerJoinedEvent:
		d.assertReady("peer joined")
		d.log.Info("Peer joined", "peer", ev.ID)
		d.metr.RecordPeerJoined(ev.ID)
	case serverconn.PeerLeftEvent:
		d.assertReady("peer left")
		d.log.Info("Peer left", "peer", ev.ID)
		d.metr.RecordPeerLeft(ev.ID)
	case serverconn.MessageEvent:
		d.assertReady("message")
		d.log.Info("Message from peer", "peer", ev.From, "bytes", len(ev.Payload))
		d.metr.RecordMessageReceived(ev.From, len(ev.Payload))
	case serverconn.ErrorEvent:
		d.log.Error("Relay connection failed", "err", ev.Err)
		d.metr.RecordConnectionError()
		d.terminate(ev.Err)
	default:
		panic(fmt.Sprintf("flooder: unknown connection event %T", ev))
	}
}

// handleReady enters StateReady: it remembers the assigned identity and
// constructs the flood pipeline, wiring its output into the connection.
func (d *Driver) handleReady(ev serverconn.ReadyEvent) {
	if d.state != StateConnecting {
		panic(fmt.Sprintf("flooder: ready event in state %s", d.state))
	}

	d.selfID = ev.SelfID

	cleanup := closer.Nop()
	source := NewFloodSource(d.log, d.metr, d.targets)
	cleanup.Stack(func() {
		source.Close()
		d.released("source")
	})
	encoder := flow.NewEncoder(source)
	cleanup.Stack(func() {
		encoder.Close()
		d.released("encoder")
	})
	buffer, err := flow.NewSingleSlotBuffer(encoder, d.conn, packetproto.EncLen(scproto.MaxEnc))
	if err != nil {
		// Undo the partial construction; Ready is never entered.
		d.log.Error("Flood pipeline setup failed", "err", err)
		cleanup()
		d.terminate(fmt.Errorf("flood pipeline setup: %w", err))
		return
	}
	cleanup.Stack(func() {
		buffer.Close()
		d.buffer = nil
		d.released("buffer")
	})
	d.buffer = buffer
	d.cleanup = cleanup

	d.setState(StateReady)
	d.log.Info("Relay ready", "self_id", d.selfID, "external_ip", formatExternalIP(ev.ExternalIP), "flood_targets", len(d.targets))
}

// handleSendReady forwards one frame when the transport has capacity.
func (d *Driver) handleSendReady() {
	if d.state != StateReady {
		panic(fmt.Sprintf("flooder: send capacity in state %s", d.state))
	}
	if err := d.buffer.SinkWritable(); err != nil {
		d.log.Error("Forwarding flood frame failed", "err", err)
		d.terminate(err)
	}
}

func (d *Driver) assertReady(what string) {
	if d.state != StateReady {
		panic(fmt.Sprintf("flooder: %s event in state %s", what, d.state))
	}
}

// terminate tears everything down synchronously: the pipeline in reverse
// construction order (buffer, encoder, source), then the connection.
// Invoking it again is a no-op.
func (d *Driver) terminate(cause error) {
	if d.state == StateTerminating || d.state == StateTerminated {
		return
	}
	d.log.Info("Tearing down")
	d.setState(StateTerminating)

	d.cleanup()
	d.cleanup = closer.Nop()

	if err := d.conn.Close(); err != nil {
		d.log.Warn("Closing relay connection", "err", err)
	}
	d.released("conn")

	d.cause = cause
	d.setState(StateTerminated)
}

func (d *Driver) setState(s State) {
	d.log.Debug("Connection state change", "from", d.state, "to", s)
	d.state = s
	d.metr.RecordStateChange(s.String())
}

func (d *Driver) released(resource string) {
	if d.onRelease != nil {
		d.onRelease(resource)
	}
}

func formatExternalIP(ip uint32) string {
	if ip == 0 {
		return "unknown"
	}
	b := [4]byte{byte(ip >> 24), byte(ip >> 16), byte(ip >> 8), byte(ip)}
	return netip.AddrFrom4(b).String()
}
