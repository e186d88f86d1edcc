package bundle

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrAssetCollision is returned under CollisionReject when two different
// source files map to the same container key.
var ErrAssetCollision = errors.New("asset key collision")

// Assets maps canonical keys to file contents.
type Assets map[string][]byte

// MissingPolicy decides what happens to a reference that does not resolve to
// a regular file. Missing files are never fatal.
type MissingPolicy int

const (
	MissingSilent MissingPolicy = iota
	MissingWarn
)

// CollisionPolicy decides what happens when two distinct references
// canonicalize to the same key.
type CollisionPolicy int

const (
	// CollisionLastWins keeps the last file read for the key.
	CollisionLastWins CollisionPolicy = iota
	// CollisionReject fails when the colliding files differ in content.
	CollisionReject
)

type CollectOptions struct {
	Missing    MissingPolicy
	Collisions CollisionPolicy
	Logger     *slog.Logger
	// OnMissing, if set, is called for every skipped reference regardless
	// of Missing.
	OnMissing func(ref Reference, path string)
}

// CollectAssets is Collect with default options.
func CollectAssets(s Scene) (Assets, error) {
	return Collect(s, CollectOptions{})
}

// Collect reads every asset s references from disk. Each reference is resolved
// against the base directory and its kind's directory hint; the bytes are
// stored under the same canonical key the rewriter writes into the XML.
// Missing files are skipped, any other read error aborts the collection.
func Collect(s Scene, opts CollectOptions) (Assets, error) {
	logger := opts.Logger
	if logger == nil {
		logger = discardLogger
	}
	base := s.BaseDir()
	hints := s.Hints()

	assets := Assets{}
	sources := map[string]string{}
	for _, ref := range s.References() {
		rel := JoinHint(hints.For(ref.Kind), ref.File)
		if rel == "" {
			continue
		}
		key := Canonicalize(rel)
		if key == "" {
			continue
		}
		full := filepath.FromSlash(rel)
		if !isAbs(rel) {
			full = filepath.Join(base, full)
		}

		st, err := os.Stat(full)
		if err != nil || !st.Mode().IsRegular() {
			if opts.Missing == MissingWarn {
				logger.Warn("referenced asset not found", "kind", ref.Kind.String(), "name", ref.Name, "ref", rel, "path", full)
			}
			if opts.OnMissing != nil {
				opts.OnMissing(ref, full)
			}
			continue
		}
		b, err := os.ReadFile(full)
		if err != nil {
			return nil, fmt.Errorf("read %s asset %q: %w", ref.Kind, full, err)
		}

		if prev, ok := sources[key]; ok && prev != full {
			if opts.Collisions == CollisionReject && Digest(assets[key]) != Digest(b) {
				return nil, fmt.Errorf("%w: %q from %s and %s", ErrAssetCollision, key, prev, full)
			}
			logger.Debug("asset key collision, keeping last", "key", key, "previous", prev, "path", full)
		}
		sources[key] = full
		assets[key] = b
	}
	return assets, nil
}
