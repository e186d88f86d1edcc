// Package journal records what each build did as compressed JSON lines.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
)

type Kind string

const (
	KindBuildStarted  Kind = "build_started"
	KindScenePackaged Kind = "scene_packaged"
	KindAssetSkipped  Kind = "asset_skipped"
	KindPolicyWritten Kind = "policy_written"
	KindBuildFinished Kind = "build_finished"
)

type Entry struct {
	Time    string `json:"time"`
	Kind    Kind   `json:"kind"`
	BuildID string `json:"build_id"`
	Project string `json:"project,omitempty"`
	Scene   string `json:"scene,omitempty"`
	Policy  string `json:"policy,omitempty"`
	Path    string `json:"path,omitempty"`
	Ref     string `json:"ref,omitempty"`
	Assets  int    `json:"assets,omitempty"`
	Bytes   int64  `json:"bytes,omitempty"`
}

// Journal is safe for concurrent use. A nil *Journal discards entries.
type Journal struct{ w *Writer }

// Open returns a journal writing build-*.jsonl.zst files under dir.
func Open(dir string) *Journal {
	return &Journal{w: NewWriter(dir, "build")}
}

func (j *Journal) Record(e Entry) error {
	if j == nil {
		return nil
	}
	if e.Time == "" {
		e.Time = j.w.now().UTC().Format(time.RFC3339Nano)
	}
	return j.w.Write(e)
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.w.Close()
}

// ReadFile decodes every entry of one journal file.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []Entry
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
