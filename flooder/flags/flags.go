package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/shafiqsaaidin/badvpn/internal/logutil"
	"github.com/shafiqsaaidin/badvpn/internal/metrics"
	"github.com/shafiqsaaidin/badvpn/internal/svc"
	"github.com/shafiqsaaidin/badvpn/protocol/scproto"
)

const EnvVarPrefix = "BADVPN_FLOODER"

func prefixEnvVars(name string) []string {
	return svc.PrefixEnvVar(EnvVarPrefix, name)
}

var (
	ServerAddrFlag = &cli.StringFlag{
		Name:    "server-addr",
		Usage:   "Relay server to connect to, host:port",
		EnvVars: prefixEnvVars("SERVER_ADDR"),
	}
	ServerNameFlag = &cli.StringFlag{
		Name:    "server-name",
		Usage:   "Name to verify the server TLS certificate against, defaults to the server host",
		EnvVars: prefixEnvVars("SERVER_NAME"),
	}
	SSLFlag = &cli.BoolFlag{
		Name:    "ssl",
		Usage:   "Connect over TLS with a client certificate",
		EnvVars: prefixEnvVars("SSL"),
	}
	SSLCertFlag = &cli.StringFlag{
		Name:    "ssl.cert",
		Usage:   "Path to the PEM client certificate, required with --ssl",
		EnvVars: prefixEnvVars("SSL_CERT"),
	}
	SSLKeyFlag = &cli.StringFlag{
		Name:    "ssl.key",
		Usage:   "Path to the PEM client key, required with --ssl",
		EnvVars: prefixEnvVars("SSL_KEY"),
	}
	SSLCAFlag = &cli.StringFlag{
		Name:    "ssl.ca",
		Usage:   "Path to a PEM CA bundle to verify the server with, defaults to the system roots",
		EnvVars: prefixEnvVars("SSL_CA"),
	}
	FloodIDFlag = &cli.Uint64SliceFlag{
		Name:    "flood-id",
		Usage:   "Peer ID to flood, repeatable",
		EnvVars: prefixEnvVars("FLOOD_ID"),
	}
	KeepaliveIntervalFlag = &cli.DurationFlag{
		Name:    "keepalive-interval",
		Usage:   "Longest silence before an outbound keepalive is emitted",
		Value:   scproto.KeepaliveInterval,
		EnvVars: prefixEnvVars("KEEPALIVE_INTERVAL"),
	}
	BufferedPacketsFlag = &cli.IntFlag{
		Name:    "buffered-packets",
		Usage:   "Outbound frames to buffer towards the relay",
		Value:   32,
		EnvVars: prefixEnvVars("BUFFERED_PACKETS"),
	}
	NetworkTimeoutFlag = &cli.DurationFlag{
		Name:    "network-timeout",
		Usage:   "Timeout for dialing and individual network writes",
		Value:   30 * time.Second,
		EnvVars: prefixEnvVars("NETWORK_TIMEOUT"),
	}
)

var requiredFlags = []cli.Flag{
	ServerAddrFlag,
}

var optionalFlags = []cli.Flag{
	ServerNameFlag,
	SSLFlag,
	SSLCertFlag,
	SSLKeyFlag,
	SSLCAFlag,
	FloodIDFlag,
	KeepaliveIntervalFlag,
	BufferedPacketsFlag,
	NetworkTimeoutFlag,
}

// Flags are all CLI flags of the flooder binary.
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, logutil.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, metrics.CLIFlags(EnvVarPrefix)...)
	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
