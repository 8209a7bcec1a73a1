package metrics

import (
	"github.com/shafiqsaaidin/badvpn/protocol/scproto"
)

type noopMetrics struct{}

// NoopMetrics discards all records; used when metrics are disabled and in
// tests.
var NoopMetrics Metricer = new(noopMetrics)

func (*noopMetrics) RecordInfo(version string) {}
func (*noopMetrics) RecordUp()                 {}

func (*noopMetrics) RecordStateChange(string)                  {}
func (*noopMetrics) RecordFloodPacket(scproto.PeerID, int)     {}
func (*noopMetrics) RecordPeerJoined(scproto.PeerID)           {}
func (*noopMetrics) RecordPeerLeft(scproto.PeerID)             {}
func (*noopMetrics) RecordMessageReceived(scproto.PeerID, int) {}
func (*noopMetrics) RecordConnectionError()                    {}
