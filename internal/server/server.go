// Package server serves a document root over HTTP with the content types
// browsers need for WebAssembly, plus optional live reload, compression and
// minification for local development.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/spf13/afero"

	"github.com/dx-www/dxserve/internal/config"
	"github.com/dx-www/dxserve/internal/etag"
	"github.com/dx-www/dxserve/internal/mimetypes"
	"github.com/dx-www/dxserve/internal/watch"
)

// Server is a static file server over a single document root.
type Server struct {
	cfg      *config.Config
	fs       afero.Fs
	root     string
	logger   *slog.Logger
	digests  *etag.Cache
	hub      *hub
	compress func(http.Handler) http.Handler
}

type Option func(*Server)

// WithFs serves fs instead of the configured root on disk. Live reload is
// unavailable for injected filesystems.
func WithFs(fs afero.Fs) Option {
	return func(s *Server) { s.fs = fs }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New validates cfg, registers the MIME table and prepares the document root.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{cfg: cfg, hub: newHub()}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	if err := mimetypes.Register(mimetypes.Merge(cfg.MIME)); err != nil {
		return nil, err
	}

	if cfg.Compress {
		compress, err := newCompressor()
		if err != nil {
			return nil, fmt.Errorf("failed to set up compression: %w", err)
		}
		s.compress = compress
	}

	if s.fs == nil {
		root, err := resolveRoot(cfg.Root)
		if err != nil {
			return nil, err
		}
		s.root = root
		s.fs = afero.NewBasePathFs(afero.NewOsFs(), root)
	}

	digests, err := etag.Open(s.fs, cfg.Cache.Path, s.root)
	if err != nil {
		return nil, err
	}
	s.digests = digests

	return s, nil
}

// Close releases the digest store.
func (s *Server) Close() error {
	return s.digests.Close()
}

// Handler returns the full request pipeline.
func (s *Server) Handler() http.Handler {
	var h http.Handler = http.FileServer(afero.NewHttpFs(s.fs))
	h = etag.Middleware(s.digests, s.cfg.Minify, s.logger, h)
	if s.cfg.Cache.Control {
		h = cacheHeaders(h)
	}
	if s.cfg.Minify {
		h = minifyResponses(h)
	}
	if s.compress != nil {
		h = s.compress(h)
	}

	if s.cfg.Watch {
		mux := http.NewServeMux()
		mux.HandleFunc(eventsPath, s.hub.handleSSE)
		mux.HandleFunc(scriptPath, handleReloadScript)
		mux.Handle("/", h)
		h = mux
	}

	return logRequests(s.logger, h)
}

// Listen binds the configured address. A port that is already in use is
// reported as an error.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", s.cfg.Addr(), err)
	}
	return ln, nil
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:  s.Handler(),
		ErrorLog: slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	httpServer.RegisterOnShutdown(s.hub.shutdown)

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if s.cfg.Watch {
		s.startWatcher(watchCtx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Debug("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Run binds, prints the banner to out and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, out io.Writer) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}

	port := s.cfg.Port
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	PrintBanner(out, s.cfg, port)

	return s.Serve(ctx, ln)
}

func (s *Server) startWatcher(ctx context.Context) {
	if s.root == "" {
		s.logger.Warn("Live reload needs a document root on disk; watching disabled")
		return
	}

	w, err := watch.New([]string{s.root}, s.cfg.Debounce, s.logger)
	if err != nil {
		s.logger.Warn("Failed to create file watcher", "error", err)
		return
	}
	w.OnChange = func(e watch.Event) {
		if name, err := requestName(s.root, e.Name); err == nil {
			s.digests.Invalidate(name)
		}
	}
	w.OnSettle = func() {
		s.logger.Info("Change detected, reloading clients", "clients", s.hub.count())
		s.hub.broadcast()
	}
	go w.Start(ctx)
}
