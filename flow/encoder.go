package flow

import (
	"github.com/shafiqsaaidin/badvpn/protocol/packetproto"
)

// Encoder wraps each packet pulled from an upstream Source in a packetproto
// frame so the receiver can delimit records on the byte stream. It holds no
// state beyond the frame being produced: exactly one upstream pull per frame,
// with a deferred upstream forwarded transparently.
type Encoder struct {
	src Source
}

var _ Source = (*Encoder)(nil)

func NewEncoder(src Source) *Encoder {
	return &Encoder{src: src}
}

// Produce pulls one packet from upstream into the payload region of p and
// prepends the frame header. p must have room for the framed packet.
func (e *Encoder) Produce(p []byte) (int, bool) {
	n, ok := e.src.Produce(p[packetproto.HeaderLen:])
	if !ok {
		return 0, false
	}
	if err := packetproto.PutHeader(p, n); err != nil {
		// The upstream contract bounds n at the protocol maximum and the
		// buffer is sized by the caller, so a header failure is a broken
		// invariant, not an I/O condition.
		panic("flow: encoder produced unframeable packet: " + err.Error())
	}
	return packetproto.EncLen(n), true
}

// Close releases the encoder. It detaches from the upstream source; the
// encoder must not be used afterwards.
func (e *Encoder) Close() {
	e.src = nil
}
