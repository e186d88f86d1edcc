package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"muwanx.dev/internal/builder"
	"muwanx.dev/internal/config"
)

func runBuild(env config.Env, logger *slog.Logger, args []string) error {
	fs := newFlagSet("build")
	file := fs.StringP("file", "f", "muwanx.yaml", "build file")
	out := fs.StringP("out", "o", "", "output directory (default: output_dir from the build file)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	ctx, cancel := signalContext()
	defer cancel()

	app, err := buildOnce(ctx, env, logger, *file, *out)
	if err != nil {
		return err
	}
	fmt.Println(app.OutputDir)
	return nil
}

// buildOnce loads the build file and writes the app. out overrides the
// file's output_dir when set.
func buildOnce(ctx context.Context, env config.Env, logger *slog.Logger, file, out string) (*builder.App, error) {
	cfg, err := config.Load(file)
	if err != nil {
		return nil, err
	}
	dir := cfg.OutputDir
	if out != "" {
		if dir, err = filepath.Abs(out); err != nil {
			return nil, err
		}
	}

	s, err := openSinks(env, logger)
	if err != nil {
		return nil, err
	}
	defer s.Close(logger)

	b, err := cfg.NewBuilder(s.services(logger))
	if err != nil {
		return nil, err
	}
	return b.Build(ctx, dir)
}
