// Command server serves the current directory on port 8000 with the
// WebAssembly MIME type registered. It takes no flags; use cmd/dxserve for a
// configurable server.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dx-www/dxserve/internal/config"
	"github.com/dx-www/dxserve/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config.Default(), os.Stdout, os.Stderr); err != nil {
		stop()
		os.Exit(1)
	}
}

// run serves cfg until ctx is cancelled. Errors are logged to stderr before
// being returned.
func run(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	logger := server.NewLogger(stderr, cfg.Log)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("Failed to start server", "error", err)
		return err
	}
	defer func() { _ = srv.Close() }()

	if err := srv.Run(ctx, stdout); err != nil {
		logger.Error("Server failed", "error", err)
		return err
	}
	return nil
}
