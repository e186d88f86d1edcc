package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// PackageAsTree is the flat export counterpart of PackageAsArchiveFile: the
// rewritten description and every asset are written as plain files under dir.
func PackageAsTree(dir string, s Scene, opts CollectOptions) (Assets, error) {
	assets, err := Collect(s, opts)
	if err != nil {
		return nil, err
	}
	if err := WriteTree(dir, s, assets); err != nil {
		return nil, err
	}
	return assets, nil
}

// WriteTree writes the rewritten description to dir/<model>.xml and each
// asset to dir/<key>. Entry names obey the same rules as archive entries.
func WriteTree(dir string, s Scene, assets Assets) error {
	desc, err := Rewrite(s)
	if err != nil {
		return err
	}
	descName := DescriptionEntry(s)
	if !safeEntryName(descName) {
		return fmt.Errorf("%w: %q", ErrUnsafeEntry, descName)
	}

	keys := make([]string, 0, len(assets))
	for k := range assets {
		if !safeEntryName(k) {
			return fmt.Errorf("%w: %q", ErrUnsafeEntry, k)
		}
		if k != descName {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	if err := writeTreeFile(dir, descName, desc); err != nil {
		return err
	}
	for _, k := range keys {
		if err := writeTreeFile(dir, k, assets[k]); err != nil {
			return err
		}
	}
	return nil
}

func writeTreeFile(dir, name string, b []byte) error {
	p := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", name, err)
	}
	if err := os.WriteFile(p, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}
