package main

import (
	"context"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/shafiqsaaidin/badvpn/flooder"
	"github.com/shafiqsaaidin/badvpn/flooder/flags"
	"github.com/shafiqsaaidin/badvpn/internal/cliapp"
	"github.com/shafiqsaaidin/badvpn/internal/ctxinterrupt"
	"github.com/shafiqsaaidin/badvpn/internal/logutil"
	"github.com/shafiqsaaidin/badvpn/internal/svc"
)

var (
	Version   = "v1.0.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	logutil.SetupDefaults()

	app := cli.NewApp()
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Version = svc.FormatVersion(Version, GitCommit, GitDate, "")
	app.Name = "badvpn-flooder"
	app.Usage = "Load generator for the peer relay server"
	app.Description = "Connects to a relay server and floods the configured peers with maximum-size messages."
	app.Action = cliapp.LifecycleCmd(flooder.Main(app.Version))

	ctx := ctxinterrupt.WithSignalWaiterMain(context.Background())
	err := app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}
