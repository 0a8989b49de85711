package main

import (
	"os"

	"github.com/alecthomas/kong"

	"github.com/drblury/eventflow/cmd/eventflow/commands"
)

var version = "dev"

func main() {
	cli := &commands.CLI{}
	global := &commands.Global{Out: os.Stdout}
	ctx := kong.Parse(cli,
		kong.Name("eventflow"),
		kong.Description("Publish and validate domain events."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
		kong.Bind(global, cli),
	)
	ctx.FatalIfErrorf(ctx.Run())
}
