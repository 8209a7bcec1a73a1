package flooder

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/shafiqsaaidin/badvpn/flooder/flags"
	"github.com/shafiqsaaidin/badvpn/internal/cliapp"
	"github.com/shafiqsaaidin/badvpn/internal/logutil"
	"github.com/shafiqsaaidin/badvpn/internal/metrics"
	"github.com/shafiqsaaidin/badvpn/internal/svc"
)

// NewConfig collects the flooder configuration from parsed CLI flags. The
// result still needs Check.
func NewConfig(ctx *cli.Context, version string) *Config {
	return &Config{
		Version:            version,
		ServerAddr:         ctx.String(flags.ServerAddrFlag.Name),
		ServerName:         ctx.String(flags.ServerNameFlag.Name),
		SSL:                ctx.Bool(flags.SSLFlag.Name),
		SSLCert:            ctx.String(flags.SSLCertFlag.Name),
		SSLKey:             ctx.String(flags.SSLKeyFlag.Name),
		SSLCA:              ctx.String(flags.SSLCAFlag.Name),
		FloodIDs:           ctx.Uint64Slice(flags.FloodIDFlag.Name),
		KeepaliveInterval:  ctx.Duration(flags.KeepaliveIntervalFlag.Name),
		MinBufferedPackets: ctx.Int(flags.BufferedPacketsFlag.Name),
		NetworkTimeout:     ctx.Duration(flags.NetworkTimeoutFlag.Name),
		LogConfig:          logutil.ReadCLIConfig(ctx),
		MetricsConfig:      metrics.ReadCLIConfig(ctx),
	}
}

// Main is the CLI entrypoint: it validates flags, builds the service and
// hands it to the lifecycle runner.
func Main(version string) cliapp.LifecycleAction {
	return func(cliCtx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
		if err := flags.CheckRequired(cliCtx); err != nil {
			return nil, err
		}
		cfg := NewConfig(cliCtx, version)
		if err := cfg.Check(); err != nil {
			return nil, fmt.Errorf("invalid CLI flags: %w", err)
		}

		l := logutil.NewLogger(logutil.AppOut(cliCtx), cfg.LogConfig)
		logutil.SetGlobalLogHandler(l.Handler())
		svc.ValidateEnvVars(flags.EnvVarPrefix, cliCtx.App.Flags, l)

		l.Info("Initializing flooder")
		return ServiceFromConfig(cliCtx.Context, cfg, l, closeApp)
	}
}
