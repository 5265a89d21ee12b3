package main

import (
	"context"

	"github.com/alecthomas/kong"

	"github.com/platinummonkey/tenantry/cmd/tenantry/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Version kong.VersionFlag
		Serve   commands.ServeCmd   `cmd:"" default:"1" help:"Run the HTTP API."`
		Migrate commands.MigrateCmd `cmd:"" help:"Apply pending schema migrations."`
		Seed    commands.SeedCmd    `cmd:"" help:"Upsert menus, built-in roles and feature flags."`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("tenantry"),
		kong.Description("Multi-tenant identity and authorization service."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Version: version})
	cmd.FatalIfErrorf(err)
}
