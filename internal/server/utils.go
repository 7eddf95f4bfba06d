package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolveRoot turns the configured document root into an absolute path and
// checks that it is a directory.
func resolveRoot(root string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid document root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return "", fmt.Errorf("document root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("document root %s is not a directory", absRoot)
	}
	return absRoot, nil
}

// requestName maps an absolute filesystem path below baseDir to the slash
// separated name the file handler opens for it ("/pkg/app.wasm").
// Paths that escape baseDir are rejected.
func requestName(baseDir, fullPath string) (string, error) {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("invalid base directory: %w", err)
	}
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	relPath, err := filepath.Rel(absBase, absPath)
	if err != nil {
		return "", fmt.Errorf("path validation error: %w", err)
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside %s", fullPath, baseDir)
	}
	if relPath == "." {
		return "/", nil
	}
	return "/" + filepath.ToSlash(relPath), nil
}

// isHashedAsset checks if filename contains a content hash (e.g., layout.a1b2c3d4.css)
func isHashedAsset(filename string) bool {
	parts := strings.Split(filename, ".")
	if len(parts) < 3 {
		return false
	}
	hashPart := parts[len(parts)-2]
	if len(hashPart) < 8 || len(hashPart) > 12 {
		return false
	}
	for _, c := range hashPart {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
