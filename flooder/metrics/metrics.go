package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	opmetrics "github.com/shafiqsaaidin/badvpn/internal/metrics"
	"github.com/shafiqsaaidin/badvpn/protocol/scproto"
)

const Namespace = "badvpn_flooder"

// Metricer records everything the flooder observes about its run.
type Metricer interface {
	RecordInfo(version string)
	RecordUp()

	RecordStateChange(state string)
	RecordFloodPacket(peer scproto.PeerID, bytes int)
	RecordPeerJoined(peer scproto.PeerID)
	RecordPeerLeft(peer scproto.PeerID)
	RecordMessageReceived(from scproto.PeerID, bytes int)
	RecordConnectionError()
}

type Metrics struct {
	registry *prometheus.Registry

	info  *prometheus.GaugeVec
	up    prometheus.Gauge
	state *prometheus.GaugeVec

	floodPackets prometheus.Counter
	floodBytes   prometheus.Counter
	peersJoined  prometheus.Counter
	peersLeft    prometheus.Counter
	messagesIn   prometheus.Counter
	messageBytes prometheus.Counter
	connErrors   prometheus.Counter
}

var _ Metricer = (*Metrics)(nil)
var _ opmetrics.RegistryMetricer = (*Metrics)(nil)

func NewMetrics(procName string) *Metrics {
	if procName == "" {
		procName = "default"
	}
	ns := Namespace + "_" + procName

	registry := opmetrics.NewRegistry()
	factory := opmetrics.With(registry)

	return &Metrics{
		registry: registry,
		info: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "info",
			Help:      "Pseudo-metric tracking version and config info",
		}, []string{"version"}),
		up: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "up",
			Help:      "1 if the badvpn-flooder has finished starting up",
		}),
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "connection_state",
			Help:      "1 for the current connection lifecycle state, 0 otherwise",
		}, []string{"state"}),
		floodPackets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "flood_packets_total",
			Help:      "Count of flood packets handed to the transport",
		}),
		floodBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "flood_bytes_total",
			Help:      "Bytes of flood packets handed to the transport",
		}),
		peersJoined: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "peers_joined_total",
			Help:      "Count of peer-joined notifications from the relay",
		}),
		peersLeft: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "peers_left_total",
			Help:      "Count of peer-left notifications from the relay",
		}),
		messagesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_received_total",
			Help:      "Count of relayed messages delivered to this client",
		}),
		messageBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "message_bytes_received_total",
			Help:      "Payload bytes of relayed messages delivered to this client",
		}),
		connErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "connection_errors_total",
			Help:      "Count of fatal relay connection errors",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordInfo(version string) {
	m.info.WithLabelValues(version).Set(1)
}

func (m *Metrics) RecordUp() {
	m.up.Set(1)
}

func (m *Metrics) RecordStateChange(state string) {
	m.state.Reset()
	m.state.WithLabelValues(state).Set(1)
}

func (m *Metrics) RecordFloodPacket(peer scproto.PeerID, bytes int) {
	m.floodPackets.Inc()
	m.floodBytes.Add(float64(bytes))
}

func (m *Metrics) RecordPeerJoined(peer scproto.PeerID) {
	m.peersJoined.Inc()
}

func (m *Metrics) RecordPeerLeft(peer scproto.PeerID) {
	m.peersLeft.Inc()
}

func (m *Metrics) RecordMessageReceived(from scproto.PeerID, bytes int) {
	m.messagesIn.Inc()
	m.messageBytes.Add(float64(bytes))
}

func (m *Metrics) RecordConnectionError() {
	m.connErrors.Inc()
}
