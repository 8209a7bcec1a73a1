package flooder

import (
	"github.com/ethereum/go-ethereum/log"

	"github.com/shafiqsaaidin/badvpn/flooder/metrics"
	"github.com/shafiqsaaidin/badvpn/flow"
	"github.com/shafiqsaaidin/badvpn/protocol/scproto"
)

// FloodSource produces one maximum-size outgoing-message record per pull,
// addressed to the configured targets in round-robin order. With no targets
// configured it defers permanently: the target list is fixed at startup, so
// there is nothing to wake up for.
type FloodSource struct {
	log  log.Logger
	metr metrics.Metricer

	targets []scproto.PeerID
	next    int
	blocked bool

	payload []byte // fixed all-zero payload, shared across records
}

var _ flow.Source = (*FloodSource)(nil)

func NewFloodSource(logger log.Logger, metr metrics.Metricer, targets []scproto.PeerID) *FloodSource {
	return &FloodSource{
		log:     logger,
		metr:    metr,
		targets: append([]scproto.PeerID(nil), targets...),
		payload: make([]byte, scproto.MaxMsgLen),
	}
}

// Produce fills p with the next flood record. p must be at least
// scproto.MaxEnc bytes.
func (s *FloodSource) Produce(p []byte) (int, bool) {
	if len(s.targets) == 0 {
		s.blocked = true
		return 0, false
	}

	peer := s.targets[s.next]
	s.next = (s.next + 1) % len(s.targets)

	n, err := scproto.PutOutMsg(p, peer, s.payload)
	if err != nil {
		// The buffer is sized to MaxEnc by the driver; anything else is a
		// wiring bug, not a runtime condition.
		panic("flooder: flood record does not fit produce buffer: " + err.Error())
	}

	s.log.Debug("Producing flood message", "peer", peer)
	s.metr.RecordFloodPacket(peer, n)
	return n, true
}

// Blocked reports whether a pull has ever found the target list empty.
func (s *FloodSource) Blocked() bool {
	return s.blocked
}

// Close releases the source.
func (s *FloodSource) Close() {
	s.targets = nil
	s.payload = nil
}
