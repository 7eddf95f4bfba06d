package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/dx-www/dxserve/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:   "dxserve",
		Usage:  "Serve a directory of WebAssembly demos over HTTP",
		Flags:  serveFlags(),
		Action: serveAction,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the file server (default command)",
				Flags:  serveFlags(),
				Action: serveAction,
			},
			{
				Name:      "mime",
				Usage:     "Print the content type served for each file",
				ArgsUsage: "FILE...",
				Flags:     configFlags(),
				Action:    mimeAction,
			},
			{
				Name:  "cache",
				Usage: "Inspect the persistent ETag digest store",
				Commands: []*cli.Command{
					{
						Name:      "stats",
						Usage:     "Show how many digests are stored, and the entry for each FILE",
						ArgsUsage: "[FILE...]",
						Flags:     cacheStatsFlags(),
						Action:    cacheStatsAction,
					},
					{
						Name:   "clear",
						Usage:  "Remove every stored digest",
						Flags:  cacheFlags(),
						Action: cacheClearAction,
					},
				},
			},
		},
	}
}

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML config file",
			Value:   config.DefaultFile,
		},
		&cli.StringFlag{
			Name:  "env",
			Usage: "Environment file with DXSERVE_* overrides",
			Value: config.DefaultEnvFile,
		},
	}
}

func serveFlags() []cli.Flag {
	return append(configFlags(),
		&cli.StringFlag{
			Name:  "host",
			Usage: "Host/IP to bind (empty for all interfaces)",
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to listen on",
			Value:   config.DefaultPort,
		},
		&cli.StringFlag{
			Name:  "root",
			Usage: "Document root",
			Value: ".",
		},
		&cli.BoolFlag{
			Name:  "watch",
			Usage: "Reload connected pages when files change",
		},
		&cli.BoolFlag{
			Name:  "compress",
			Usage: "Gzip responses for clients that accept it",
		},
		&cli.BoolFlag{
			Name:  "minify",
			Usage: "Minify html, css, js, json and svg on the fly",
		},
		&cli.StringFlag{
			Name:  "cache",
			Usage: "Path of the persistent digest store (memory only when empty)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "text or json",
		},
	)
}

func cacheFlags() []cli.Flag {
	return append(configFlags(),
		&cli.StringFlag{
			Name:  "cache",
			Usage: "Path of the digest store (defaults to cache.path from the config)",
		},
	)
}

func cacheStatsFlags() []cli.Flag {
	return append(cacheFlags(),
		&cli.StringFlag{
			Name:  "root",
			Usage: "Document root the FILE names are served from (defaults to root from the config)",
		},
	)
}
