// Package builder assembles projects, scenes and policies into a static web
// app directory the browser runtime serves.
package builder

import (
	"errors"
	"io"
	"log/slog"
	"runtime"

	"muwanx.dev/internal/bundle"
	"muwanx.dev/internal/naming"
	"muwanx.dev/internal/persistence/indexdb"
	"muwanx.dev/internal/persistence/journal"
)

var (
	ErrEmptyBuild        = errors.New("cannot build an empty application: add at least one project")
	ErrInvalidScene      = errors.New("invalid scene")
	ErrInvalidPolicyName = errors.New("invalid policy name")
	ErrDuplicateID       = errors.New("duplicate id")
)

// SceneFormat selects how description scenes are written.
type SceneFormat int

const (
	// FormatArchive writes scene.mjz, a zip of the rewritten description and
	// its assets.
	FormatArchive SceneFormat = iota
	// FormatTree writes the rewritten description and assets as plain files.
	FormatTree
)

func (f SceneFormat) String() string {
	if f == FormatTree {
		return "tree"
	}
	return "mjz"
}

// Index receives a row per build, scene and asset. *indexdb.SQLiteIndex
// implements it.
type Index interface {
	RecordBuild(indexdb.Build)
	RecordScene(indexdb.Scene)
	RecordAsset(indexdb.Asset)
}

// Journal receives build events. *journal.Journal implements it.
type Journal interface {
	Record(journal.Entry) error
}

type Config struct {
	// BasePath is the URL path the app is deployed under, e.g. "/muwanx/".
	BasePath string
	// TemplateDir holds the prebuilt web client copied into the output root.
	TemplateDir string
	SceneFormat SceneFormat
	// Workers bounds how many scenes are packaged at once.
	Workers int
	Logger  *slog.Logger
	Index   Index
	Journal Journal
	Collect bundle.CollectOptions
}

type Builder struct {
	cfg      Config
	log      *slog.Logger
	projects []*ProjectConfig
}

func New(cfg Config) *Builder {
	if cfg.BasePath == "" {
		cfg.BasePath = "/"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Collect.Logger == nil {
		cfg.Collect.Logger = logger
	}
	return &Builder{cfg: cfg, log: logger}
}

// AddProject appends a project. An explicit id is kept as given; otherwise
// the first project becomes the main route and later ones derive their id
// from the name.
func (b *Builder) AddProject(name, id string) *ProjectHandle {
	switch {
	case id != "":
	case len(b.projects) == 0:
	default:
		id = naming.ToCanonicalID(name)
	}
	p := &ProjectConfig{Name: name, ID: id}
	b.projects = append(b.projects, p)
	return &ProjectHandle{cfg: p}
}

// Projects returns a copy of the project list.
func (b *Builder) Projects() []ProjectConfig {
	out := make([]ProjectConfig, 0, len(b.projects))
	for _, p := range b.projects {
		cp := *p
		cp.Scenes = append([]*SceneConfig(nil), p.Scenes...)
		out = append(out, cp)
	}
	return out
}
