package r2s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Uploader puts one local file under an object key.
type Uploader interface {
	PutFile(ctx context.Context, objectKey, localPath string) error
}

type PublishOptions struct {
	// Prefix is prepended to every object key.
	Prefix   string
	Workers  int
	Attempts int
	Backoff  time.Duration
	Logger   *slog.Logger
}

type PublishStats struct {
	Files   int
	Bytes   int64
	Retries int
}

// Publisher mirrors a built output tree into a bucket.
type Publisher struct {
	up       Uploader
	prefix   string
	workers  int
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

func NewPublisher(up Uploader, opts PublishOptions) *Publisher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 4
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Publisher{
		up:       up,
		prefix:   strings.Trim(strings.ReplaceAll(opts.Prefix, "\\", "/"), "/"),
		workers:  opts.Workers,
		attempts: opts.Attempts,
		backoff:  opts.Backoff,
		logger:   opts.Logger,
	}
}

type publishFile struct {
	local string
	key   string
	size  int64
}

// rootConfig is uploaded after everything else so a client never reads a
// config.json that points at objects not yet published.
const rootConfig = "assets/config.json"

// PublishDir uploads every regular file under dir. The first failed upload
// cancels the rest.
func (p *Publisher) PublishDir(ctx context.Context, dir string) (PublishStats, error) {
	var st PublishStats
	var files []publishFile
	var last *publishFile
	err := filepath.WalkDir(dir, func(local string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := p.relKey(dir, local)
		if err != nil {
			return err
		}
		f := publishFile{local: local, key: p.objectKey(rel), size: info.Size()}
		if rel == rootConfig {
			last = &f
			return nil
		}
		files = append(files, f)
		return nil
	})
	if err != nil {
		return st, fmt.Errorf("scan %s: %w", dir, err)
	}

	var (
		done    atomic.Int64
		bytes   atomic.Int64
		retries atomic.Int64
	)
	upload := func(ctx context.Context, f publishFile) error {
		n, err := p.uploadWithRetry(ctx, f)
		retries.Add(int64(n))
		if err != nil {
			p.logger.Error("upload failed", "key", f.key, "local", f.local, "err", err)
			return fmt.Errorf("upload %s: %w", f.key, err)
		}
		done.Add(1)
		bytes.Add(f.size)
		p.logger.Debug("uploaded", "key", f.key, "bytes", f.size)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, f := range files {
		f := f
		g.Go(func() error { return upload(gctx, f) })
	}
	err = g.Wait()
	if err == nil && last != nil {
		err = upload(ctx, *last)
	}

	st.Files = int(done.Load())
	st.Bytes = bytes.Load()
	st.Retries = int(retries.Load())
	if err != nil {
		return st, err
	}
	p.logger.Info("published", "dir", dir, "prefix", p.prefix, "files", st.Files, "bytes", st.Bytes, "retries", st.Retries)
	return st, nil
}

// uploadWithRetry returns the number of retries it made.
func (p *Publisher) uploadWithRetry(ctx context.Context, f publishFile) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		err := p.up.PutFile(ctx, f.key, f.local)
		if err == nil {
			return attempt - 1, nil
		}
		lastErr = err
		var se *StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return attempt - 1, err
		}
		if attempt == p.attempts {
			break
		}
		p.logger.Warn("upload retry", "key", f.key, "attempt", attempt, "err", err)
		t := time.NewTimer(time.Duration(attempt*attempt) * p.backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return attempt - 1, ctx.Err()
		case <-t.C:
		}
	}
	return p.attempts - 1, lastErr
}

func (p *Publisher) relKey(base, local string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(local)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absBase, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside %s", absLocal, absBase)
	}
	return rel, nil
}

func (p *Publisher) objectKey(rel string) string {
	if p.prefix == "" {
		return rel
	}
	return path.Join(p.prefix, rel)
}
