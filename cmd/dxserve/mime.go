package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"

	"github.com/dx-www/dxserve/internal/config"
	"github.com/dx-www/dxserve/internal/mimetypes"
)

func mimeAction(ctx context.Context, cmd *cli.Command) error {
	files := cmd.Args().Slice()
	if len(files) == 0 {
		return errors.New("usage: dxserve mime FILE...")
	}

	cfg, err := config.Load(cmd.String("config"), cmd.String("env"))
	if err != nil {
		return err
	}
	if err := mimetypes.Register(mimetypes.Merge(cfg.MIME)); err != nil {
		return err
	}

	fs := afero.NewOsFs()
	out := cmd.Root().Writer
	for _, f := range files {
		typ, err := mimetypes.Detect(fs, f)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "%s\t%s\n", f, typ)
	}
	return nil
}
