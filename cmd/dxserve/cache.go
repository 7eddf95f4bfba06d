package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"
	bolt "go.etcd.io/bbolt"

	"github.com/dx-www/dxserve/internal/config"
	"github.com/dx-www/dxserve/internal/etag"
)

// storePath resolves the digest store from --cache or cache.path.
func storePath(cmd *cli.Command) (string, error) {
	if cmd.IsSet("cache") {
		return cmd.String("cache"), nil
	}
	cfg, err := config.Load(cmd.String("config"), cmd.String("env"))
	if err != nil {
		return "", err
	}
	if cfg.Cache.Path == "" {
		return "", errors.New("no digest store configured (set --cache or cache.path)")
	}
	return cfg.Cache.Path, nil
}

// statsRoot resolves the document root stored digests are looked up under,
// the same way the server scopes them.
func statsRoot(cmd *cli.Command) (string, error) {
	root := cmd.String("root")
	if !cmd.IsSet("root") {
		cfg, err := config.Load(cmd.String("config"), cmd.String("env"))
		if err != nil {
			return "", err
		}
		root = cfg.Root
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid document root: %w", err)
	}
	return abs, nil
}

// openStore opens an existing digest store. ok is false when none exists yet.
func openStore(cmd *cli.Command) (db *bolt.DB, path string, ok bool, err error) {
	path, err = storePath(cmd)
	if err != nil {
		return nil, "", false, err
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, path, false, nil
	}
	db, err = etag.OpenStore(path)
	if err != nil {
		return nil, path, false, err
	}
	return db, path, true, nil
}

func cacheStatsAction(ctx context.Context, cmd *cli.Command) error {
	out := cmd.Root().Writer
	db, path, ok, err := openStore(cmd)
	if err != nil {
		return err
	}
	if !ok {
		_, _ = fmt.Fprintf(out, "No digest store at %s\n", path)
		return nil
	}
	defer func() { _ = db.Close() }()

	n, err := etag.CountStore(db)
	if err != nil {
		return fmt.Errorf("failed to read digest store: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(out, "📊 Digest Store")
	_, _ = fmt.Fprintln(out, "════════════════════════════════════════")
	_, _ = fmt.Fprintf(out, "Path:       %s\n", path)
	_, _ = fmt.Fprintf(out, "Digests:    %d\n", n)
	_, _ = fmt.Fprintf(out, "File Size:  %.2f KB\n", float64(info.Size())/1024)
	_, _ = fmt.Fprintf(out, "Modified:   %s\n", info.ModTime().Format(time.RFC3339))

	names := cmd.Args().Slice()
	if len(names) == 0 {
		return nil
	}
	root, err := statsRoot(cmd)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Root:       %s\n", root)
	for _, name := range names {
		entry, err := etag.LookupStore(db, etag.StoreKey(root, name))
		if err != nil {
			return err
		}
		if entry == nil {
			_, _ = fmt.Fprintf(out, "%s: not cached\n", name)
			continue
		}
		_, _ = fmt.Fprintf(out, "%s: %s (%d bytes, %s)\n", name, entry.Digest, entry.Size,
			time.Unix(0, entry.ModTime).Format(time.RFC3339))
	}
	return nil
}

func cacheClearAction(ctx context.Context, cmd *cli.Command) error {
	out := cmd.Root().Writer
	db, path, ok, err := openStore(cmd)
	if err != nil {
		return err
	}
	if !ok {
		_, _ = fmt.Fprintf(out, "No digest store at %s\n", path)
		return nil
	}
	defer func() { _ = db.Close() }()

	_, _ = fmt.Fprintln(out, "🗑️  Clearing digest store...")
	if err := etag.ClearStore(db); err != nil {
		return fmt.Errorf("failed to clear digest store: %w", err)
	}
	_, _ = fmt.Fprintln(out, "✅ Cache cleared")
	return nil
}
