package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"keygate/cmd/server/internal/commands"
	"keygate/internal/config"
	"keygate/internal/constants"
)

var (
	version = "dev"
	cli     struct {
		Debug    bool            `help:"Enable debug mode." env:"KEYGATE_DEBUG"`
		LogLevel string          `help:"Log level override (debug, info, warn, error)." default:"" env:"KEYGATE_LOG_LEVEL"`
		LogFile  bool            `help:"Also write JSON logs to the per-user data directory." env:"KEYGATE_LOG_FILE"`
		Config   kong.ConfigFlag `help:"YAML configuration file." env:"KEYGATE_CONFIG"`
		Version  kong.VersionFlag

		Serve      commands.ServeCmd   `cmd:"" default:"withargs" help:"Run the license gate"`
		Hash       commands.HashCmd    `cmd:"" help:"Print the hash a client sends for the given fields"`
		Keys       commands.KeysCmd    `cmd:"" help:"Manage license records"`
		VersionCmd commands.VersionCmd `cmd:"" name:"version" help:"Manage the accepted client version"`
	}
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name(constants.AppName),
		kong.Description("TCP license key gate"),
		kong.Vars{
			"version": version,
		},
		kong.Configuration(config.YAML, config.DefaultConfigFile),
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, LogLevel: cli.LogLevel, LogFile: cli.LogFile, Version: version})
	cmd.FatalIfErrorf(err)
}
