package main

import (
	"fmt"
	"log/slog"

	"muwanx.dev/internal/config"
	"muwanx.dev/internal/persistence/r2s3"
)

func runPublish(env config.Env, logger *slog.Logger, args []string) error {
	fs := newFlagSet("publish")
	dir := fs.StringP("dir", "d", "dist", "built app directory")
	prefix := fs.String("prefix", "", "object key prefix (default: MUWANX_PUBLISH_PREFIX)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := r2s3.New(env.R2())
	if err != nil {
		return fmt.Errorf("MUWANX_R2_*: %w", err)
	}
	opts := env.Publish(logger)
	if fs.Changed("prefix") {
		opts.Prefix = *prefix
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, err := r2s3.NewPublisher(client, opts).PublishDir(ctx, *dir)
	if err != nil {
		return err
	}
	logger.Info("published", "dir", *dir, "bucket", env.R2Bucket, "prefix", opts.Prefix, "files", st.Files, "bytes", st.Bytes, "retries", st.Retries)
	return nil
}
