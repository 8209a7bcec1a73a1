package flooder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shafiqsaaidin/badvpn/internal/logutil"
	"github.com/shafiqsaaidin/badvpn/internal/metrics"
	"github.com/shafiqsaaidin/badvpn/protocol/scproto"
)

func validConfig() *Config {
	return &Config{
		Version:            "test",
		ServerAddr:         "relay.example.com:7331",
		FloodIDs:           []uint64{1, 2, 3},
		KeepaliveInterval:  scproto.KeepaliveInterval,
		MinBufferedPackets: 4,
		NetworkTimeout:     30 * time.Second,
		LogConfig:          logutil.DefaultCLIConfig(),
		MetricsConfig:      metrics.DefaultCLIConfig(),
	}
}

func TestConfigCheck(t *testing.T) {
	require.NoError(t, validConfig().Check())

	tests := []struct {
		name   string
		mutate func(c *Config)
		errStr string
	}{
		{"missing addr", func(c *Config) { c.ServerAddr = "" }, "server address is required"},
		{"no port", func(c *Config) { c.ServerAddr = "relay.example.com" }, "invalid server address"},
		{"no host", func(c *Config) { c.ServerAddr = ":7331" }, "missing host"},
		{"ssl without cert", func(c *Config) { c.SSL = true; c.SSLKey = "k.pem" }, "client certificate"},
		{"ssl without key", func(c *Config) { c.SSL = true; c.SSLCert = "c.pem" }, "client certificate"},
		{"cert without ssl", func(c *Config) { c.SSLCert = "c.pem" }, "without ssl enabled"},
		{"ca without ssl", func(c *Config) { c.SSLCA = "ca.pem" }, "without ssl enabled"},
		{"id out of range", func(c *Config) { c.FloodIDs = []uint64{70000} }, "out of peer ID range"},
		{"too many targets", func(c *Config) { c.FloodIDs = make([]uint64, MaxFloods+1) }, "too many flood targets"},
		{"bad keepalive", func(c *Config) { c.KeepaliveInterval = 0 }, "keepalive interval"},
		{"bad buffering", func(c *Config) { c.MinBufferedPackets = 0 }, "buffered packet count"},
		{"bad timeout", func(c *Config) { c.NetworkTimeout = -time.Second }, "network timeout"},
		{"bad log level", func(c *Config) { c.LogConfig.Level = "shouting" }, "log config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			require.ErrorContains(t, cfg.Check(), tt.errStr)
		})
	}
}

func TestConfigServerNameWithoutSSL(t *testing.T) {
	// --server-name is accepted without --ssl; it is simply unused then.
	cfg := validConfig()
	cfg.ServerName = "relay.internal"
	require.NoError(t, cfg.Check())
}

func TestConfigSSLWithClientCert(t *testing.T) {
	cfg := validConfig()
	cfg.SSL = true
	cfg.SSLCert = "client.pem"
	cfg.SSLKey = "client.key"
	cfg.SSLCA = "ca.pem"
	cfg.ServerName = "relay.internal"
	require.NoError(t, cfg.Check())
	require.Equal(t, "relay.internal", cfg.TLSServerName())

	cfg.ServerName = ""
	require.Equal(t, "relay.example.com", cfg.TLSServerName())
}

func TestConfigTargetIDs(t *testing.T) {
	cfg := validConfig()
	cfg.FloodIDs = []uint64{7, 3, 9}
	require.Equal(t, []scproto.PeerID{7, 3, 9}, cfg.TargetIDs())

	cfg.FloodIDs = nil
	require.Empty(t, cfg.TargetIDs())
}
