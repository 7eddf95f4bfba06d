package server

import (
	"log/slog"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/json"
	"github.com/tdewolff/minify/v2/svg"

	"github.com/dx-www/dxserve/internal/mimetypes"
)

// statusRecorder captures the status code and body size for request logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		level := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(r.Context(), level, "request",
			"id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration", time.Since(start),
		)
	})
}

// cacheHeaders marks fingerprinted assets immutable and keeps pages fresh
// while developing.
func cacheHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filename := path.Base(r.URL.Path)
		switch {
		case isHashedAsset(filename):
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		case strings.HasSuffix(r.URL.Path, "/") || strings.HasSuffix(filename, ".html"):
			w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
			w.Header().Set("Pragma", "no-cache")
			w.Header().Set("Expires", "0")
		default:
			w.Header().Set("Cache-Control", "public, max-age=60")
		}
		next.ServeHTTP(w, r)
	})
}

func newMinifier() *minify.M {
	m := minify.New()
	m.AddFunc("text/html", html.Minify)
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("image/svg+xml", svg.Minify)
	m.AddFuncRegexp(regexp.MustCompile("^(application|text)/(x-)?(java|ecma)script$"), js.Minify)
	m.AddFuncRegexp(regexp.MustCompile("[/+]json$"), json.Minify)
	return m
}

// minifyResponses rewrites minifiable bodies. Byte ranges of the source do
// not line up with the minified output, so those requests are served whole.
func minifyResponses(next http.Handler) http.Handler {
	m := newMinifier()
	h := m.Middleware(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" && mayMinify(m, r.URL.Path) {
			r = r.Clone(r.Context())
			r.Header.Del("Range")
			r.Header.Del("If-Range")
		}
		h.ServeHTTP(w, r)
	})
}

// mayMinify reports whether the response for urlPath could reach a
// minifier. Unknown extensions are sniffed by the file handler, so they count.
func mayMinify(m *minify.M, urlPath string) bool {
	if strings.HasSuffix(urlPath, "/") {
		return true
	}
	typ, ok := mimetypes.ByExtension(urlPath)
	if !ok {
		return true
	}
	_, _, fn := m.Match(typ)
	return fn != nil
}

// gzipETagSuffix marks the entity tag of a compressed representation. The
// wrapper turns it into -zstd for zstd responses.
const gzipETagSuffix = "-gzip"

// etagSuffixes maps each content coding to the suffix its ETags carry.
var etagSuffixes = map[string]string{
	"gzip": gzipETagSuffix,
	"zstd": "-zstd",
}

// newCompressor compresses responses and suffixes their ETag so encoded and
// identity representations never share a tag.
func newCompressor() (func(http.Handler) http.Handler, error) {
	wrap, err := gzhttp.NewWrapper(gzhttp.SuffixETag(gzipETagSuffix))
	if err != nil {
		return nil, err
	}
	return func(next http.Handler) http.Handler {
		return wrap(unsuffixETags(next))
	}, nil
}

// unsuffixETags strips coding suffixes from If-None-Match so the file
// handler can compare it against the digest of the file. A suffix is only
// stripped when the client still accepts that coding.
func unsuffixETags(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inm := r.Header.Get("If-None-Match")
		if inm == "" {
			next.ServeHTTP(w, r)
			return
		}

		accept := r.Header.Get("Accept-Encoding")
		stripped := inm
		for coding, suffix := range etagSuffixes {
			if strings.Contains(accept, coding) {
				stripped = strings.ReplaceAll(stripped, suffix+`"`, `"`)
			}
		}
		if stripped != inm {
			r = r.Clone(r.Context())
			r.Header.Set("If-None-Match", stripped)
		}
		next.ServeHTTP(w, r)
	})
}
