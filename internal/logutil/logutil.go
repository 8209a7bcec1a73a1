// Package logutil configures the process logger from CLI flags, in the
// style shared by all service binaries in this repo.
package logutil

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/shafiqsaaidin/badvpn/internal/svc"
)

// FormatType names a log output format.
type FormatType string

const (
	FormatText   FormatType = "text"
	FormatLogFmt FormatType = "logfmt"
	FormatJSON   FormatType = "json"
)

var Formats = []FormatType{FormatText, FormatLogFmt, FormatJSON}

const (
	LevelFlagName  = "log.level"
	FormatFlagName = "log.format"
	ColorFlagName  = "log.color"
)

type CLIConfig struct {
	Level  string
	Format FormatType
	Color  bool
}

func DefaultCLIConfig() CLIConfig {
	return CLIConfig{
		Level:  "info",
		Format: FormatText,
		Color:  false,
	}
}

func (c CLIConfig) Check() error {
	if _, err := log.LvlFromString(c.Level); err != nil {
		return fmt.Errorf("invalid %s: %w", LevelFlagName, err)
	}
	for _, f := range Formats {
		if c.Format == f {
			return nil
		}
	}
	return fmt.Errorf("unrecognized log format: %s", c.Format)
}

func (c CLIConfig) level() slog.Level {
	lvl, err := log.LvlFromString(c.Level)
	if err != nil {
		return log.LevelInfo
	}
	return lvl
}

func CLIFlags(envPrefix string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    LevelFlagName,
			Usage:   "The lowest log level that will be output (trace|debug|info|warn|error|crit)",
			Value:   "info",
			EnvVars: svc.PrefixEnvVar(envPrefix, "LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    FormatFlagName,
			Usage:   "Format the log output. Supported formats: 'text', 'logfmt', 'json'",
			Value:   string(FormatText),
			EnvVars: svc.PrefixEnvVar(envPrefix, "LOG_FORMAT"),
		},
		&cli.BoolFlag{
			Name:    ColorFlagName,
			Usage:   "Color the log output if in terminal mode",
			EnvVars: svc.PrefixEnvVar(envPrefix, "LOG_COLOR"),
		},
	}
}

func ReadCLIConfig(ctx *cli.Context) CLIConfig {
	return CLIConfig{
		Level:  ctx.String(LevelFlagName),
		Format: FormatType(ctx.String(FormatFlagName)),
		Color:  ctx.Bool(ColorFlagName),
	}
}

// NewLogHandler builds a slog handler for the configured format and level.
// The config is expected to have passed Check.
func NewLogHandler(wr io.Writer, cfg CLIConfig) slog.Handler {
	switch cfg.Format {
	case FormatJSON:
		return log.JSONHandlerWithLevel(wr, cfg.level())
	case FormatLogFmt:
		return log.LogfmtHandlerWithLevel(wr, cfg.level())
	default:
		return log.NewTerminalHandlerWithLevel(wr, cfg.level(), cfg.Color)
	}
}

func NewLogger(wr io.Writer, cfg CLIConfig) log.Logger {
	return log.NewLogger(NewLogHandler(wr, cfg))
}

// SetGlobalLogHandler routes the package-global geth logger through h.
func SetGlobalLogHandler(h slog.Handler) {
	log.SetDefault(log.NewLogger(h))
}

// SetupDefaults installs a sane root logger before flag parsing, so early
// failures are still readable.
func SetupDefaults() {
	SetGlobalLogHandler(log.NewTerminalHandlerWithLevel(os.Stdout, log.LevelInfo, false))
}

// AppOut returns the writer the CLI app is configured to log to.
func AppOut(ctx *cli.Context) io.Writer {
	if ctx == nil || ctx.App == nil || ctx.App.Writer == nil {
		return os.Stdout
	}
	return ctx.App.Writer
}
