package etag

import (
	"log/slog"
	"net/http"
	"path"
	"strings"
)

const indexPage = "index.html"

// Middleware sets an ETag header on responses for regular files so that
// http.FileServer can answer If-None-Match with 304. weak marks the tag as
// weak for handler chains that rewrite the body.
func Middleware(c *Cache, weak bool, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		name := path.Clean("/" + r.URL.Path)
		if strings.HasSuffix(r.URL.Path, "/") {
			name = path.Join(name, indexPage)
		}

		digest, err := c.Digest(name)
		if err != nil {
			// Missing files and directories fall through to the file handler.
			logger.Debug("no digest", "path", name, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		tag := `"` + digest + `"`
		if weak {
			tag = "W/" + tag
		}
		w.Header().Set("ETag", tag)
		next.ServeHTTP(w, r)
	})
}
