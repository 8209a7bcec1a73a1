package flow

import (
	"errors"
	"fmt"

	"github.com/shafiqsaaidin/badvpn/protocol/packetproto"
)

var (
	ErrNilSource    = errors.New("flow: buffer requires a source")
	ErrNilSink      = errors.New("flow: buffer requires a sink")
	ErrFrameTooBig  = errors.New("flow: frame capacity exceeds framing limit")
	ErrZeroCapacity = errors.New("flow: frame capacity must be positive")
)

// SingleSlotBuffer decouples a pull-based Source from a push-based Sink.
// It holds at most one in-flight frame: a frame is pulled eagerly, written
// to the sink when the sink reports capacity, and only then is the next one
// pulled. If the source defers, the buffer stays idle until Resume is
// called; capacity signals arriving while idle do nothing.
type SingleSlotBuffer struct {
	src  Source
	sink Sink

	slot    []byte
	n       int
	holding bool
	idle    bool // upstream deferred; no pulls until Resume
}

// NewSingleSlotBuffer builds the buffer and immediately attempts to pull
// one frame, so data is ready by the time the sink first reports capacity.
func NewSingleSlotBuffer(src Source, sink Sink, frameCap int) (*SingleSlotBuffer, error) {
	if src == nil {
		return nil, ErrNilSource
	}
	if sink == nil {
		return nil, ErrNilSink
	}
	if frameCap <= 0 {
		return nil, ErrZeroCapacity
	}
	if frameCap > packetproto.EncLen(packetproto.MaxPayload) {
		return nil, ErrFrameTooBig
	}
	b := &SingleSlotBuffer{
		src:  src,
		sink: sink,
		slot: make([]byte, frameCap),
	}
	b.pull()
	return b, nil
}

func (b *SingleSlotBuffer) pull() {
	n, ok := b.src.Produce(b.slot)
	if !ok {
		b.idle = true
		return
	}
	b.n = n
	b.holding = true
}

// SinkWritable is invoked when the transport reports write capacity. It
// forwards the held frame (pulling one first if none is held) and then
// pulls the next frame so it is staged for the following capacity signal.
func (b *SingleSlotBuffer) SinkWritable() error {
	if b.idle {
		return nil
	}
	if !b.holding {
		b.pull()
		if !b.holding {
			return nil
		}
	}
	frame := b.slot[:b.n]
	b.holding = false
	if err := b.sink.Send(frame); err != nil {
		return fmt.Errorf("forwarding frame to sink: %w", err)
	}
	b.pull()
	return nil
}

// Resume clears the idle mark set by a deferred upstream, allowing pulls
// again. The next capacity signal resumes forwarding.
func (b *SingleSlotBuffer) Resume() {
	b.idle = false
}

// Holding reports whether a frame is currently staged.
func (b *SingleSlotBuffer) Holding() bool {
	return b.holding
}

// Close drops the staged frame and detaches the buffer from its endpoints.
func (b *SingleSlotBuffer) Close() {
	b.holding = false
	b.slot = nil
	b.src = nil
	b.sink = nil
}
