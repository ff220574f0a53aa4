// Command vifmjobs is a standalone daemon and CLI client for the
// background job subsystem: `vifmjobs serve` runs the daemon, the other
// subcommands drive a remote instance over gRPC.
package main

import (
	"github.com/alecthomas/kong"

	"github.com/vifm/bgjob/cli"
)

// version is set by a linker flag on release builds.
var version = "v0.0.0"

// config is the top level of the command line parse tree.
type config struct {
	Version kong.VersionFlag `short:"V" help:"Print version information"`

	Serve cli.CmdServe `cmd:"" help:"Run the background job daemon"`

	Run    cli.CmdRun    `cmd:"" help:"Run a command on a vifmjobs server"`
	Stop   cli.CmdStop   `cmd:"" help:"Cancel or terminate a job"`
	Status cli.CmdStatus `cmd:"" help:"Get the status of a job"`
	List   cli.CmdList   `cmd:"" help:"List jobs on a vifmjobs server"`
	Logs   cli.CmdLogs   `cmd:"" help:"Stream a job's error output"`
}

func main() {
	cfg := &config{}
	kctx := kong.Parse(cfg, kong.Vars{"version": version})
	err := kctx.Run()
	kctx.FatalIfErrorf(err)
}
