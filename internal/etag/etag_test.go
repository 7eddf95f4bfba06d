package etag

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFs(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, fs.MkdirAll(filepath.Dir(name), 0755))
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0644))
	}
	return fs
}

func TestHashReader(t *testing.T) {
	a, err := HashReader(strings.NewReader("hello"))
	require.NoError(t, err)
	b, err := HashReader(strings.NewReader("hello"))
	require.NoError(t, err)
	c, err := HashReader(strings.NewReader("hello!"))
	require.NoError(t, err)

	assert.Len(t, a, digestLen)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestDigest_CachesUntilFileChanges(t *testing.T) {
	fs := newTestFs(t, map[string]string{"/app.wasm": "\x00asm\x01\x00\x00\x00"})
	c, err := Open(fs, "", "")
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	first, err := c.Digest("/app.wasm")
	require.NoError(t, err)
	second, err := c.Digest("/app.wasm")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, 1, stats.Entries)

	require.NoError(t, afero.WriteFile(fs, "/app.wasm", []byte("\x00asm\x01\x00\x00\x00\x01"), 0644))
	third, err := c.Digest("/app.wasm")
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestDigest_Errors(t *testing.T) {
	fs := newTestFs(t, map[string]string{"/dir/a.txt": "a"})
	c, err := Open(fs, "", "")
	require.NoError(t, err)

	_, err = c.Digest("/missing.txt")
	assert.Error(t, err)

	_, err = c.Digest("/dir")
	assert.Error(t, err)
}

func TestInvalidateAndClear(t *testing.T) {
	fs := newTestFs(t, map[string]string{"/a.txt": "a", "/b.txt": "b"})
	c, err := Open(fs, "", "")
	require.NoError(t, err)

	_, _ = c.Digest("/a.txt")
	_, _ = c.Digest("/b.txt")
	assert.Equal(t, 2, c.Stats().Entries)

	c.Invalidate("/a.txt")
	assert.Equal(t, 1, c.Stats().Entries)

	require.NoError(t, c.Clear())
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestPersistentStore(t *testing.T) {
	fs := newTestFs(t, map[string]string{"/index.html": "<h1>hi</h1>"})
	dbPath := filepath.Join(t.TempDir(), "cache", "digests.db")

	c, err := Open(fs, dbPath, "/srv/demo")
	require.NoError(t, err)
	want, err := c.Digest("/index.html")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Stats().Stored)
	require.NoError(t, c.Close())

	reopened, err := Open(fs, dbPath, "/srv/demo")
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.Digest("/index.html")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, int64(0), reopened.Stats().Misses, "digest should come from the store")

	require.NoError(t, reopened.Clear())
	n, err := CountStore(reopened.db)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPersistentStore_ScopedByRoot(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "digests.db")
	siteA := newTestFs(t, map[string]string{"/index.html": "<h1>site a</h1>"})
	siteB := newTestFs(t, map[string]string{"/index.html": "<h1>site b</h1>"})

	// Same size and modification time, different content.
	mtime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, siteA.Chtimes("/index.html", mtime, mtime))
	require.NoError(t, siteB.Chtimes("/index.html", mtime, mtime))

	a, err := Open(siteA, dbPath, "/srv/a")
	require.NoError(t, err)
	digestA, err := a.Digest("/index.html")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := Open(siteB, dbPath, "/srv/b")
	require.NoError(t, err)
	defer func() { _ = b.Close() }()
	digestB, err := b.Digest("/index.html")
	require.NoError(t, err)

	assert.NotEqual(t, digestA, digestB)
	assert.Equal(t, int64(1), b.Stats().Misses, "digest of another root must not be reused")
	assert.Equal(t, 2, b.Stats().Stored)

	stored, err := LookupStore(b.db, StoreKey("/srv/a", "/index.html"))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, digestA, stored.Digest)

	b.Invalidate("/index.html")
	stored, err = LookupStore(b.db, StoreKey("/srv/a", "/index.html"))
	require.NoError(t, err)
	assert.NotNil(t, stored, "invalidating one root must keep the other")
}

func TestMiddleware(t *testing.T) {
	fs := newTestFs(t, map[string]string{
		"/index.html":   "<h1>home</h1>",
		"/pkg/app.wasm": "\x00asm",
	})
	c, err := Open(fs, "", "")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name     string
		method   string
		path     string
		weak     bool
		wantTag  bool
		wantWeak bool
	}{
		{name: "file", method: http.MethodGet, path: "/pkg/app.wasm", wantTag: true},
		{name: "directory index", method: http.MethodGet, path: "/", wantTag: true},
		{name: "head", method: http.MethodHead, path: "/index.html", wantTag: true},
		{name: "weak", method: http.MethodGet, path: "/index.html", weak: true, wantTag: true, wantWeak: true},
		{name: "missing", method: http.MethodGet, path: "/nope.js"},
		{name: "directory without slash", method: http.MethodGet, path: "/pkg"},
		{name: "post", method: http.MethodPost, path: "/index.html"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Middleware(c, tt.weak, logger, next).ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			tag := rec.Header().Get("ETag")
			if !tt.wantTag {
				assert.Empty(t, tag)
				return
			}
			require.NotEmpty(t, tag)
			assert.Equal(t, tt.wantWeak, strings.HasPrefix(tag, "W/"))
			assert.True(t, strings.HasSuffix(tag, `"`))
		})
	}
}
