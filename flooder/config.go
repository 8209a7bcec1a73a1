package flooder

import (
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/shafiqsaaidin/badvpn/internal/logutil"
	"github.com/shafiqsaaidin/badvpn/internal/metrics"
	"github.com/shafiqsaaidin/badvpn/protocol/scproto"
)

// MaxFloods caps the number of configured flood targets.
const MaxFloods = 128

// Config holds the fully-parsed flooder configuration.
type Config struct {
	Version string

	// ServerAddr is the relay server to connect to, host:port.
	ServerAddr string
	// ServerName overrides the TLS certificate name to verify. Empty means
	// the host part of ServerAddr.
	ServerName string

	SSL     bool
	SSLCert string
	SSLKey  string
	SSLCA   string

	// FloodIDs are the peers to flood, in configured order.
	FloodIDs []uint64

	KeepaliveInterval  time.Duration
	MinBufferedPackets int
	NetworkTimeout     time.Duration

	LogConfig     logutil.CLIConfig
	MetricsConfig metrics.CLIConfig
}

// Check validates the configuration. It must be run before use.
func (c *Config) Check() error {
	if c.ServerAddr == "" {
		return errors.New("server address is required")
	}
	host, _, err := net.SplitHostPort(c.ServerAddr)
	if err != nil {
		return fmt.Errorf("invalid server address %q: %w", c.ServerAddr, err)
	}
	if host == "" {
		return fmt.Errorf("invalid server address %q: missing host", c.ServerAddr)
	}

	if c.SSL {
		if c.SSLCert == "" || c.SSLKey == "" {
			return errors.New("ssl requires both a client certificate and a key")
		}
	} else if c.SSLCert != "" || c.SSLKey != "" || c.SSLCA != "" {
		return errors.New("ssl options given without ssl enabled")
	}

	if len(c.FloodIDs) > MaxFloods {
		return fmt.Errorf("too many flood targets: %d, max %d", len(c.FloodIDs), MaxFloods)
	}
	for _, id := range c.FloodIDs {
		if id > math.MaxUint16 {
			return fmt.Errorf("flood target %d out of peer ID range", id)
		}
	}

	if c.KeepaliveInterval <= 0 {
		return errors.New("keepalive interval must be positive")
	}
	if c.MinBufferedPackets <= 0 {
		return errors.New("buffered packet count must be positive")
	}
	if c.NetworkTimeout <= 0 {
		return errors.New("network timeout must be positive")
	}

	if err := c.LogConfig.Check(); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	if err := c.MetricsConfig.Check(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}
	return nil
}

// TargetIDs returns the flood targets as wire peer IDs. Valid only after
// Check passed.
func (c *Config) TargetIDs() []scproto.PeerID {
	ids := make([]scproto.PeerID, len(c.FloodIDs))
	for i, id := range c.FloodIDs {
		ids[i] = scproto.PeerID(id)
	}
	return ids
}

// TLSServerName returns the name to verify the server certificate against.
func (c *Config) TLSServerName() string {
	if c.ServerName != "" {
		return c.ServerName
	}
	host, _, err := net.SplitHostPort(c.ServerAddr)
	if err != nil {
		return ""
	}
	return host
}
