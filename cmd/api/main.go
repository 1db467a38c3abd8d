package main

import (
	"context"

	"github.com/alecthomas/kong"
)

var (
	version = "dev"
	cli     struct {
		Version kong.VersionFlag `help:"Print the version and exit."`
		Serve   ServeCmd         `cmd:"" default:"withargs" help:"Run the realtime ride API."`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("ride-live-api"),
		kong.Description("Realtime presence and ride coordination service."),
		kong.Vars{"version": version},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	cmd.FatalIfErrorf(cmd.Run())
}
