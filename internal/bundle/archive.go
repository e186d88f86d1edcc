package bundle

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// ErrUnsafeEntry reports a container entry name that is absolute or
// traverses upward. It signals a canonicalizer defect, not bad input.
var ErrUnsafeEntry = errors.New("unsafe container entry name")

// DescriptionExt is the extension of the description entry.
const DescriptionExt = ".xml"

// entryTime is stamped on every entry so identical inputs give identical bytes.
var entryTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// DescriptionEntry returns the container entry name of the rewritten description.
func DescriptionEntry(s Scene) string {
	return s.ModelName() + DescriptionExt
}

// PackageAsArchive collects the assets of s, rewrites its references and
// writes the container to w.
func PackageAsArchive(w io.Writer, s Scene, opts CollectOptions) error {
	assets, err := Collect(s, opts)
	if err != nil {
		return err
	}
	return WriteArchive(w, s, assets)
}

// PackageAsArchiveFile is PackageAsArchive writing to a file, creating parent
// directories as needed.
func PackageAsArchiveFile(path string, s Scene, opts CollectOptions) error {
	assets, err := Collect(s, opts)
	if err != nil {
		return err
	}
	return WriteArchiveFile(path, s, assets)
}

// WriteArchiveFile writes the container for s and assets to path.
func WriteArchiveFile(path string, s Scene, assets Assets) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create archive %s: %w", path, err)
	}
	defer f.Close()

	bw := bufio.NewWriterSize(f, 256*1024)
	if err := WriteArchive(bw, s, assets); err != nil {
		return fmt.Errorf("write archive %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write archive %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close archive %s: %w", path, err)
	}
	return nil
}

// WriteArchive writes a DEFLATE-compressed zip holding the rewritten
// description followed by the assets in key order.
func WriteArchive(w io.Writer, s Scene, assets Assets) error {
	xml, err := Rewrite(s)
	if err != nil {
		return err
	}
	return writeEntries(w, DescriptionEntry(s), xml, assets)
}

func writeEntries(w io.Writer, descName string, desc []byte, assets Assets) error {
	keys := make([]string, 0, len(assets))
	for k := range assets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if !safeEntryName(descName) {
		return fmt.Errorf("%w: %q", ErrUnsafeEntry, descName)
	}
	for _, k := range keys {
		if !safeEntryName(k) {
			return fmt.Errorf("%w: %q", ErrUnsafeEntry, k)
		}
	}

	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	if err := writeEntry(zw, descName, desc); err != nil {
		return err
	}
	for _, k := range keys {
		if k == descName {
			// The description entry wins; an asset cannot shadow it.
			continue
		}
		if err := writeEntry(zw, k, assets[k]); err != nil {
			return err
		}
	}
	return zw.Close()
}

func writeEntry(zw *zip.Writer, name string, b []byte) error {
	fh := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: entryTime,
	}
	fh.SetMode(0o644)
	ew, err := zw.CreateHeader(fh)
	if err != nil {
		return fmt.Errorf("create entry %s: %w", name, err)
	}
	if _, err := ew.Write(b); err != nil {
		return fmt.Errorf("write entry %s: %w", name, err)
	}
	return nil
}
