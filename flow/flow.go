// Package flow provides the pull-to-push packet pipeline primitives used by
// the flooder: a pull-based packet source, a framing encoder, and a
// single-slot buffer that adapts the pull side to a readiness-driven sink.
//
// Nothing in this package blocks. "No data available" is an explicit return
// variant, and the buffer stays idle after a deferred pull until the source
// is explicitly resumed. All types are driven from a single goroutine.
package flow

// Source is a pull-based packet producer. Produce fills p with the next
// packet and reports its length. ok is false when no packet is available
// right now (the source is deferred); the caller must not busy-retry but
// wait for the source to be resumed.
type Source interface {
	Produce(p []byte) (n int, ok bool)
}

// Sink accepts one frame for transmission. It must only be invoked after
// the transport reported write capacity, and never with a second frame
// before that capacity is reported again.
type Sink interface {
	Send(frame []byte) error
}
