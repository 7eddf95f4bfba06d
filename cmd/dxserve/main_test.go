package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dx-www/dxserve/internal/etag"
)

// runApp runs the CLI with isolated config lookups and returns its stdout.
func runApp(ctx context.Context, t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard

	full := []string{"dxserve"}
	if len(args) > 0 {
		full = append(full, args[0])
		args = args[1:]
	}
	if full[len(full)-1] != "cache" {
		full = append(full, "--config", filepath.Join(dir, "none.yaml"), "--env", filepath.Join(dir, "none.env"))
	}
	full = append(full, args...)

	err := app.Run(ctx, full)
	return out.String(), err
}

func TestMimeCommand(t *testing.T) {
	out, err := runApp(context.Background(), t, "mime", "pkg/app_bg.wasm", "demo.html", "blob.zzz")
	require.NoError(t, err)

	assert.Contains(t, out, "pkg/app_bg.wasm\tapplication/wasm\n")
	assert.Contains(t, out, "demo.html\ttext/html; charset=utf-8\n")
	assert.Contains(t, out, "blob.zzz\tapplication/octet-stream\n")
}

func TestMimeCommand_SniffsUnknownExtensions(t *testing.T) {
	dir := t.TempDir()
	page := filepath.Join(dir, "index.page")
	blob := filepath.Join(dir, "data.zzz")
	require.NoError(t, os.WriteFile(page, []byte("<!DOCTYPE html><html><body>demo</body></html>"), 0644))
	require.NoError(t, os.WriteFile(blob, []byte{0x00, 0x01, 0x02, 0x03}, 0644))

	out, err := runApp(context.Background(), t, "mime", page, blob)
	require.NoError(t, err)

	assert.Contains(t, out, page+"\ttext/html; charset=utf-8\n")
	assert.Contains(t, out, blob+"\tapplication/octet-stream\n")
}

func TestMimeCommand_NoArgs(t *testing.T) {
	_, err := runApp(context.Background(), t, "mime")
	assert.Error(t, err)
}

func TestCacheCommands(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), ".dxserve", "digests.db")

	out, err := runApp(context.Background(), t, "cache", "stats", "--cache", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No digest store")

	root := t.TempDir()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/app.wasm", []byte("\x00asm"), 0644))
	c, err := etag.Open(fs, dbPath, root)
	require.NoError(t, err)
	_, err = c.Digest("/app.wasm")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	out, err = runApp(context.Background(), t, "cache", "stats", "--cache", dbPath, "--root", root, "/app.wasm", "/missing.js")
	require.NoError(t, err)
	assert.Contains(t, out, "Digests:    1")
	assert.Contains(t, out, "Root:       "+root)
	assert.Contains(t, out, "/app.wasm: ")
	assert.NotContains(t, out, "/app.wasm: not cached")
	assert.Contains(t, out, "/missing.js: not cached")

	out, err = runApp(context.Background(), t, "cache", "stats", "--cache", dbPath, "--root", t.TempDir(), "/app.wasm")
	require.NoError(t, err)
	assert.Contains(t, out, "/app.wasm: not cached")

	out, err = runApp(context.Background(), t, "cache", "clear", "--cache", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Cache cleared")

	out, err = runApp(context.Background(), t, "cache", "stats", "--cache", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Digests:    0")
}

func TestServe_PortInUse(t *testing.T) {
	held, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = held.Close() }()
	port := strconv.Itoa(held.Addr().(*net.TCPAddr).Port)

	_, err = runApp(context.Background(), t, "serve", "--host", "127.0.0.1", "--port", port, "--root", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to bind")
}

func TestServe_InvalidFlags(t *testing.T) {
	_, err := runApp(context.Background(), t, "serve", "--port", "70000", "--root", t.TempDir())
	assert.Error(t, err)
}

func TestServe_StopsOnCancel(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "demo.html"), []byte("demo"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := runApp(ctx, t, "serve", "--host", "127.0.0.1", "--port", "0", "--root", root)
		done <- result{out, err}
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Contains(t, r.out, "dx-www Demo Server Running")
		assert.Contains(t, r.out, "Press Ctrl+C to stop")
		assert.True(t, strings.HasSuffix(r.out, "Server stopped.\n"))
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}
