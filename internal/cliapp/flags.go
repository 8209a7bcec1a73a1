package cliapp

import (
	"github.com/urfave/cli/v2"
)

// ProtectFlags returns a fresh flag slice, so an app cannot mutate the
// shared flag definitions of another (urfave/cli writes parse state into
// the slice it is given).
func ProtectFlags(flags []cli.Flag) []cli.Flag {
	out := make([]cli.Flag, len(flags))
	copy(out, flags)
	return out
}
