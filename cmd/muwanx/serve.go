package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"muwanx.dev/internal/config"
	"muwanx.dev/internal/transport/preview"
)

func runServe(env config.Env, logger *slog.Logger, args []string) error {
	fs := newFlagSet("serve")
	file := fs.StringP("file", "f", "muwanx.yaml", "build file")
	out := fs.StringP("out", "o", "", "output directory (default: output_dir from the build file)")
	addr := fs.String("addr", ":8000", "http listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	app, err := buildOnce(ctx, env, logger, *file, *out)
	if err != nil {
		return err
	}
	root := app.OutputDir
	pv := preview.NewServer(root, logger)
	pv.Notify(app.BuildID, nil)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
			}
			logger.Info("rebuilding", "file", *file)
			next, err := buildOnce(ctx, env, logger, *file, root)
			if err != nil {
				logger.Error("rebuild failed", "err", err)
				pv.Notify("", err)
				continue
			}
			pv.Notify(next.BuildID, nil)
		}
	}()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           pv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info("serving", "addr", *addr, "dir", root, "config", filepath.Join(root, "assets", "config.json"))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}
