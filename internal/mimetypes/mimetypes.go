// Package mimetypes extends the process-wide extension -> content type table
// used by the file handler.
package mimetypes

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// sniffLen is how many leading bytes content detection looks at.
const sniffLen = 512

// dirType is what the file handler sends for directory listings.
const dirType = "text/html; charset=utf-8"

// Fallback is reported for extensions the table does not know.
const Fallback = "application/octet-stream"

// Defaults are registered on every startup. Browsers refuse to compile
// streamed WebAssembly served with any other type.
var Defaults = map[string]string{
	".wasm": "application/wasm",
}

// Merge returns Defaults overlaid with extra. Keys are lower-cased.
func Merge(extra map[string]string) map[string]string {
	out := make(map[string]string, len(Defaults)+len(extra))
	for ext, typ := range Defaults {
		out[ext] = typ
	}
	for ext, typ := range extra {
		out[strings.ToLower(ext)] = typ
	}
	return out
}

// Register adds every entry of table to the mime package.
// It must run before the server starts accepting connections.
func Register(table map[string]string) error {
	exts := make([]string, 0, len(table))
	for ext := range table {
		exts = append(exts, ext)
	}
	sort.Strings(exts)

	for _, ext := range exts {
		typ := table[ext]
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return fmt.Errorf("mime extension %q must start with a dot", ext)
		}
		if _, _, err := mime.ParseMediaType(typ); err != nil {
			return fmt.Errorf("mime type for %s: %w", ext, err)
		}
		if err := mime.AddExtensionType(ext, typ); err != nil {
			return fmt.Errorf("register %s: %w", ext, err)
		}
	}
	return nil
}

// ByExtension reports the registered type for name's extension and whether
// there is one.
func ByExtension(name string) (string, bool) {
	typ := mime.TypeByExtension(filepath.Ext(name))
	return typ, typ != ""
}

// TypeByExtension reports the content type registered for name's
// extension, or Fallback.
func TypeByExtension(name string) string {
	if typ, ok := ByExtension(name); ok {
		return typ
	}
	return Fallback
}

// Detect reports the content type the file handler sends for name on fsys.
// Unknown extensions are resolved from the first bytes of the file, the same
// way http.ServeContent does. Missing files report Fallback.
func Detect(fsys afero.Fs, name string) (string, error) {
	info, err := fsys.Stat(name)
	if errors.Is(err, fs.ErrNotExist) {
		return TypeByExtension(name), nil
	}
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return dirType, nil
	}
	if typ, ok := ByExtension(name); ok {
		return typ, nil
	}

	f, err := fsys.Open(name)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return http.DetectContentType(buf[:n]), nil
}
