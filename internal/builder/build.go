package builder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"muwanx.dev/internal/bundle"
	"muwanx.dev/internal/manifest"
	"muwanx.dev/internal/persistence/indexdb"
	"muwanx.dev/internal/persistence/journal"
)

// App is the result of a build.
type App struct {
	OutputDir string
	BuildID   string
	Config    manifest.Config
}

// ConfigPath is the location of the written config.json.
func (a *App) ConfigPath() string {
	return filepath.Join(a.OutputDir, "assets", "config.json")
}

// staticFiles are copied from the output root into every project directory
// so direct navigation to a project route works.
var staticFiles = []string{"index.html", "manifest.json", "logo.svg"}

// templateIgnore lists base-name patterns never copied from the template.
var templateIgnore = []string{".nodeenv", "__pycache__", "node_modules", "*.pyc", "*.md"}

type buildState struct {
	id  string
	out string

	mu      sync.Mutex
	configs map[*PolicyConfig]bool
	scenes  int
	pols    int
}

func (st *buildState) policyWritten(p *PolicyConfig, hasConfig bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.pols++
	if hasConfig {
		st.configs[p] = true
	}
}

// Build writes the application to outputDir, replacing anything already
// there. Scenes are packaged concurrently; the first failure cancels the
// rest and is returned.
func (b *Builder) Build(ctx context.Context, outputDir string) (*App, error) {
	if len(b.projects) == 0 {
		return nil, ErrEmptyBuild
	}
	if err := b.checkIDs(); err != nil {
		return nil, err
	}
	out, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, err
	}
	if out == filepath.Dir(out) {
		return nil, fmt.Errorf("refusing to build into %s", out)
	}

	st := &buildState{id: uuid.NewString(), out: out, configs: map[*PolicyConfig]bool{}}
	started := time.Now().UTC()
	b.recordBuild(st, started, time.Time{})
	b.event(journal.Entry{Kind: journal.KindBuildStarted, BuildID: st.id, Path: out})

	if err := os.RemoveAll(out); err != nil {
		return nil, fmt.Errorf("clear output dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(out, "assets"), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if err := b.copyTemplate(out); err != nil {
		return nil, err
	}

	for _, p := range b.projects {
		dir := filepath.Join(out, p.Dir())
		if err := os.MkdirAll(filepath.Join(dir, "assets"), 0o755); err != nil {
			return nil, fmt.Errorf("create project dir: %w", err)
		}
		for _, name := range staticFiles {
			src := filepath.Join(out, name)
			if _, err := os.Stat(src); err != nil {
				continue
			}
			if err := copyFile(src, filepath.Join(dir, name)); err != nil {
				return nil, err
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)
	for _, p := range b.projects {
		for _, s := range p.Scenes {
			p, s := p, s
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := b.writeScene(st, p, s); err != nil {
					return fmt.Errorf("scene %q: %w", s.Name, err)
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cfg := b.manifest(st)
	data, err := manifest.EncodeConfig(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(out, "assets", "config.json"), data, 0o644); err != nil {
		return nil, fmt.Errorf("write config.json: %w", err)
	}

	b.recordBuild(st, started, time.Now().UTC())
	b.event(journal.Entry{Kind: journal.KindBuildFinished, BuildID: st.id, Path: out})
	b.log.Info("saved app", "dir", out, "build", st.id, "scenes", st.scenes, "policies", st.pols)
	return &App{OutputDir: out, BuildID: st.id, Config: cfg}, nil
}

func (b *Builder) checkIDs() error {
	dirs := map[string]string{}
	for _, p := range b.projects {
		if prev, ok := dirs[p.Dir()]; ok {
			return fmt.Errorf("%w: projects %q and %q both use directory %q", ErrDuplicateID, prev, p.Name, p.Dir())
		}
		dirs[p.Dir()] = p.Name
		scenes := map[string]string{}
		for _, s := range p.Scenes {
			if prev, ok := scenes[s.ID()]; ok {
				return fmt.Errorf("%w: scenes %q and %q in project %q", ErrDuplicateID, prev, s.Name, p.Name)
			}
			scenes[s.ID()] = s.Name
			pols := map[string]string{}
			for _, pol := range s.Policies {
				if prev, ok := pols[pol.ID()]; ok {
					return fmt.Errorf("%w: policies %q and %q in scene %q", ErrDuplicateID, prev, pol.Name, s.Name)
				}
				pols[pol.ID()] = pol.Name
			}
		}
	}
	return nil
}

func (b *Builder) writeScene(st *buildState, p *ProjectConfig, s *SceneConfig) error {
	dir := filepath.Join(st.out, p.Dir(), "assets", s.ID())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := s.Filename(b.cfg.SceneFormat)
	target := filepath.Join(dir, name)
	format := "mjb"

	var assets bundle.Assets
	if s.Description == nil {
		if err := os.WriteFile(target, s.Compiled, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", target, err)
		}
	} else {
		format = b.cfg.SceneFormat.String()
		opts := b.cfg.Collect
		userMissing := opts.OnMissing
		opts.OnMissing = func(ref bundle.Reference, path string) {
			b.event(journal.Entry{Kind: journal.KindAssetSkipped, BuildID: st.id, Project: p.Dir(), Scene: s.ID(), Ref: ref.File, Path: path})
			if userMissing != nil {
				userMissing(ref, path)
			}
		}
		var err error
		assets, err = bundle.Collect(s.Description, opts)
		if err != nil {
			return err
		}
		if b.cfg.SceneFormat == FormatTree {
			err = bundle.WriteTree(dir, s.Description, assets)
		} else {
			err = bundle.WriteArchiveFile(target, s.Description, assets)
		}
		if err != nil {
			return err
		}
	}

	var size int64
	if fi, err := os.Stat(target); err == nil {
		size = fi.Size()
	}
	rel := filepath.ToSlash(filepath.Join(p.Dir(), "assets", s.ID(), name))
	if b.cfg.Index != nil {
		b.cfg.Index.RecordScene(indexdb.Scene{
			BuildID: st.id, Project: p.Dir(), SceneID: s.ID(), Name: s.Name,
			Format: format, Path: rel, Assets: len(assets), Bytes: size,
		})
		for key, data := range assets {
			b.cfg.Index.RecordAsset(indexdb.Asset{
				BuildID: st.id, Project: p.Dir(), SceneID: s.ID(),
				Key: key, Size: int64(len(data)), Digest: bundle.Digest(data),
			})
		}
	}
	b.event(journal.Entry{Kind: journal.KindScenePackaged, BuildID: st.id, Project: p.Dir(), Scene: s.ID(), Path: rel, Assets: len(assets), Bytes: size})
	b.log.Debug("scene packaged", "project", p.Dir(), "scene", s.ID(), "format", format, "assets", len(assets), "bytes", size)

	st.mu.Lock()
	st.scenes++
	st.mu.Unlock()

	for _, pol := range s.Policies {
		if err := b.writePolicy(st, p, s, dir, pol); err != nil {
			return fmt.Errorf("policy %q: %w", pol.Name, err)
		}
	}
	return nil
}

func (b *Builder) writePolicy(st *buildState, p *ProjectConfig, s *SceneConfig, dir string, pol *PolicyConfig) error {
	onnxName := pol.ID() + ".onnx"
	if err := os.WriteFile(filepath.Join(dir, onnxName), pol.Model, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", onnxName, err)
	}
	target := filepath.Join(dir, pol.ID()+".json")

	wrote := false
	switch {
	case pol.ConfigPath != "":
		src, err := resolveUserPath(pol.ConfigPath)
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(src)
		if err != nil {
			b.log.Warn("policy config path not found", "policy", pol.Name, "path", src)
			break
		}
		doc, err := mergePolicyConfig(raw, onnxName, pol.Commands)
		if err != nil {
			b.log.Warn("policy config is not a JSON object, copying verbatim", "policy", pol.Name, "path", src, "err", err)
			doc = raw
		} else if err := manifest.Validate(manifest.PolicySchema, doc); err != nil {
			b.log.Warn("policy config does not match schema", "policy", pol.Name, "err", err)
		}
		if err := os.WriteFile(target, doc, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", target, err)
		}
		wrote = true
	case len(pol.Commands) > 0:
		doc, err := manifest.Encode(map[string]any{
			"onnx":     map[string]any{"path": onnxName},
			"commands": pol.Commands,
		})
		if err != nil {
			return err
		}
		if err := manifest.Validate(manifest.PolicySchema, doc); err != nil {
			return err
		}
		if err := os.WriteFile(target, doc, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", target, err)
		}
		wrote = true
	}

	st.policyWritten(pol, wrote)
	b.event(journal.Entry{Kind: journal.KindPolicyWritten, BuildID: st.id, Project: p.Dir(), Scene: s.ID(), Policy: pol.ID(), Bytes: int64(len(pol.Model))})
	return nil
}

// mergePolicyConfig points the document's onnx.path at the written model and
// replaces its commands when the policy defines any.
func mergePolicyConfig(raw []byte, onnxName string, cmds map[string]CommandGroup) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("document is null")
	}
	switch o := doc["onnx"].(type) {
	case nil:
		if _, ok := doc["onnx"]; !ok {
			doc["onnx"] = map[string]any{"path": onnxName}
		}
	case map[string]any:
		o["path"] = onnxName
	}
	if len(cmds) > 0 {
		doc["commands"] = cmds
	}
	return manifest.Encode(doc)
}

func (b *Builder) manifest(st *buildState) manifest.Config {
	c := manifest.Config{Version: manifest.Version, BasePath: b.cfg.BasePath}
	for _, p := range b.projects {
		mp := manifest.Project{Name: p.Name, Scenes: []manifest.Scene{}}
		if p.ID != "" {
			id := p.ID
			mp.ID = &id
		}
		for _, s := range p.Scenes {
			ms := manifest.Scene{
				Name:     s.Name,
				Path:     s.ID() + "/" + s.Filename(b.cfg.SceneFormat),
				Policies: []manifest.Policy{},
			}
			if len(s.Metadata) > 0 {
				ms.Metadata = s.Metadata
			}
			for _, pol := range s.Policies {
				mpol := manifest.Policy{Name: pol.Name, Source: pol.SourcePath}
				if st.configs[pol] {
					mpol.Config = s.ID() + "/" + pol.ID() + ".json"
				}
				if len(pol.Metadata) > 0 {
					mpol.Metadata = pol.Metadata
				}
				ms.Policies = append(ms.Policies, mpol)
			}
			mp.Scenes = append(mp.Scenes, ms)
		}
		c.Projects = append(c.Projects, mp)
	}
	return c
}

func (b *Builder) copyTemplate(out string) error {
	src := b.cfg.TemplateDir
	if src == "" {
		return nil
	}
	if fi, err := os.Stat(src); err != nil || !fi.IsDir() {
		b.log.Warn("template directory not found", "path", src)
		return nil
	}
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != src && ignoredTemplateName(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		dst := filepath.Join(out, rel)
		if d.IsDir() {
			return os.MkdirAll(dst, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(p, dst)
	})
}

func ignoredTemplateName(name string) bool {
	for _, pat := range templateIgnore {
		if ok, _ := filepath.Match(pat, name); ok {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

// resolveUserPath expands a leading ~ and makes p absolute against the
// working directory.
func resolveUserPath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return filepath.Abs(p)
}

func (b *Builder) recordBuild(st *buildState, started, finished time.Time) {
	if b.cfg.Index == nil {
		return
	}
	row := indexdb.Build{ID: st.id, OutputDir: st.out, StartedAt: started, FinishedAt: finished}
	if !finished.IsZero() {
		row.Projects = len(b.projects)
		st.mu.Lock()
		row.Scenes, row.Policies = st.scenes, st.pols
		st.mu.Unlock()
	}
	b.cfg.Index.RecordBuild(row)
}

func (b *Builder) event(e journal.Entry) {
	if b.cfg.Journal == nil {
		return
	}
	if err := b.cfg.Journal.Record(e); err != nil {
		b.log.Warn("journal write failed", "kind", e.Kind, "err", err)
	}
}
