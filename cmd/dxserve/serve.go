package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/dx-www/dxserve/internal/config"
	"github.com/dx-www/dxserve/internal/server"
)

// loadConfig layers flags that were set explicitly over the file and
// environment configuration.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"), cmd.String("env"))
	if err != nil {
		return nil, err
	}

	if cmd.IsSet("host") {
		cfg.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Port = cmd.Int("port")
	}
	if cmd.IsSet("root") {
		cfg.Root = cmd.String("root")
	}
	if cmd.IsSet("watch") {
		cfg.Watch = cmd.Bool("watch")
	}
	if cmd.IsSet("compress") {
		cfg.Compress = cmd.Bool("compress")
	}
	if cmd.IsSet("minify") {
		cfg.Minify = cmd.Bool("minify")
	}
	if cmd.IsSet("cache") {
		cfg.Cache.Path = cmd.String("cache")
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}
	if cmd.IsSet("log-format") {
		cfg.Log.Format = cmd.String("log-format")
	}

	return cfg, cfg.Validate()
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := server.NewLogger(cmd.Root().ErrWriter, cfg.Log)
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Warn("Failed to close digest store", "error", err)
		}
	}()

	out := cmd.Root().Writer
	if cfg.Watch {
		_, _ = fmt.Fprintln(out, "   (Auto-reload enabled: add <script src=\"/_dx/reload.js\"></script>)")
	}
	if err := srv.Run(ctx, out); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, "\n✅ Server stopped.")
	return nil
}
