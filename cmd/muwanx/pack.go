package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"muwanx.dev/internal/bundle"
	"muwanx.dev/internal/config"
	"muwanx.dev/internal/mjcf"
)

func runPack(_ config.Env, logger *slog.Logger, args []string) error {
	fs := newFlagSet("pack")
	out := fs.StringP("out", "o", "", "archive to write (default: <model>.mjz next to the scene)")
	tree := fs.String("tree", "", "write a flat directory instead of an archive")
	missing := fs.String("missing", config.MissingWarn, "missing asset handling: warn or silent")
	collisions := fs.String("collisions", config.CollisionsLastWins, "asset key collisions: last_wins or reject")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected one scene file, got %d arguments", fs.NArg())
	}
	if *out != "" && *tree != "" {
		return fmt.Errorf("--out and --tree are mutually exclusive")
	}

	opts := bundle.CollectOptions{Logger: logger}
	switch strings.ToLower(*missing) {
	case config.MissingWarn:
		opts.Missing = bundle.MissingWarn
	case config.MissingSilent:
	default:
		return fmt.Errorf("--missing must be warn or silent")
	}
	switch strings.ToLower(*collisions) {
	case config.CollisionsLastWins:
	case config.CollisionsReject:
		opts.Collisions = bundle.CollisionReject
	default:
		return fmt.Errorf("--collisions must be last_wins or reject")
	}

	d, err := mjcf.LoadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	assets, err := bundle.Collect(d, opts)
	if err != nil {
		return err
	}

	if *tree != "" {
		if err := os.MkdirAll(*tree, 0o755); err != nil {
			return err
		}
		if err := bundle.WriteTree(*tree, d, assets); err != nil {
			return err
		}
		logger.Info("wrote scene tree", "dir", *tree, "assets", len(assets))
		return nil
	}

	target := *out
	if target == "" {
		target = filepath.Join(filepath.Dir(fs.Arg(0)), d.ModelName()+".mjz")
	}
	if err := bundle.WriteArchiveFile(target, d, assets); err != nil {
		return err
	}
	logger.Info("wrote scene archive", "path", target, "assets", len(assets))
	return nil
}
