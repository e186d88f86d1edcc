package builder

import (
	"fmt"
	"strings"

	"muwanx.dev/internal/bundle"
	"muwanx.dev/internal/naming"
)

// MainProjectDir is the output directory of the project without an id.
const MainProjectDir = "main"

// ProjectConfig is a named group of scenes. ID is empty for the main route.
type ProjectConfig struct {
	Name   string
	ID     string
	Scenes []*SceneConfig
}

// Dir is the project's directory under the output root.
func (p *ProjectConfig) Dir() string {
	if p.ID == "" {
		return MainProjectDir
	}
	return p.ID
}

type ProjectHandle struct {
	cfg *ProjectConfig
}

func (h *ProjectHandle) Name() string { return h.cfg.Name }
func (h *ProjectHandle) ID() string   { return h.cfg.ID }

// SceneOptions carries the scene source. Exactly one of Description and
// Compiled must be set: a description is packaged with its assets, a compiled
// model is written as an opaque binary.
type SceneOptions struct {
	Description bundle.Scene
	Compiled    []byte
	Metadata    map[string]any
}

type SceneConfig struct {
	Name        string
	Description bundle.Scene
	Compiled    []byte
	Metadata    map[string]any
	Policies    []*PolicyConfig
}

// ID is the scene's directory name inside its project.
func (s *SceneConfig) ID() string { return naming.ToCanonicalID(s.Name) }

// Filename is the scene file written into the scene directory.
func (s *SceneConfig) Filename(format SceneFormat) string {
	switch {
	case s.Description == nil:
		return "scene.mjb"
	case format == FormatTree:
		return bundle.DescriptionEntry(s.Description)
	default:
		return "scene.mjz"
	}
}

// AddScene appends a scene to the project.
func (h *ProjectHandle) AddScene(name string, opts SceneOptions) (*SceneHandle, error) {
	hasDesc := opts.Description != nil
	hasCompiled := opts.Compiled != nil
	if hasDesc && hasCompiled {
		return nil, fmt.Errorf("%w: provide either a description or a compiled model, not both", ErrInvalidScene)
	}
	if !hasDesc && !hasCompiled {
		return nil, fmt.Errorf("%w: a description or a compiled model is required", ErrInvalidScene)
	}
	if !validPathSegment(naming.ToCanonicalID(name)) {
		return nil, fmt.Errorf("%w: name %q does not give a usable directory", ErrInvalidScene, name)
	}
	md := map[string]any{}
	for k, v := range opts.Metadata {
		md[k] = v
	}
	sc := &SceneConfig{
		Name:        name,
		Description: opts.Description,
		Compiled:    opts.Compiled,
		Metadata:    md,
	}
	h.cfg.Scenes = append(h.cfg.Scenes, sc)
	return &SceneHandle{cfg: sc}, nil
}

type SceneHandle struct {
	cfg *SceneConfig
}

func (h *SceneHandle) Name() string { return h.cfg.Name }

func (h *SceneHandle) SetMetadata(key string, value any) *SceneHandle {
	h.cfg.Metadata[key] = value
	return h
}

// PolicyOptions are the optional parts of a policy. SourcePath is published
// as-is in config.json; ConfigPath names a JSON file merged into the written
// policy config.
type PolicyOptions struct {
	Metadata   map[string]any
	SourcePath string
	ConfigPath string
}

type PolicyConfig struct {
	Name       string
	Model      []byte
	Metadata   map[string]any
	SourcePath string
	ConfigPath string
	Commands   map[string]CommandGroup
}

func (p *PolicyConfig) ID() string { return naming.ToCanonicalID(p.Name) }

// HasConfig reports whether a <policy>.json document is written.
func (p *PolicyConfig) HasConfig() bool {
	return p.ConfigPath != "" || len(p.Commands) > 0
}

// AddPolicy attaches an ONNX model to the scene. The name becomes a file name
// and may not contain path separators.
func (h *SceneHandle) AddPolicy(model []byte, name string, opts PolicyOptions) (*PolicyHandle, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name must be non-empty", ErrInvalidPolicyName)
	}
	if strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("%w: %q contains a path separator", ErrInvalidPolicyName, name)
	}
	if !validPathSegment(naming.ToCanonicalID(name)) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPolicyName, name)
	}
	md := map[string]any{}
	for k, v := range opts.Metadata {
		md[k] = v
	}
	p := &PolicyConfig{
		Name:       name,
		Model:      model,
		Metadata:   md,
		SourcePath: opts.SourcePath,
		ConfigPath: opts.ConfigPath,
		Commands:   map[string]CommandGroup{},
	}
	h.cfg.Policies = append(h.cfg.Policies, p)
	return &PolicyHandle{cfg: p}, nil
}

type PolicyHandle struct {
	cfg *PolicyConfig
}

func (h *PolicyHandle) Name() string  { return h.cfg.Name }
func (h *PolicyHandle) Model() []byte { return h.cfg.Model }

// AddCommand registers a command group, replacing any group of the same name.
func (h *PolicyHandle) AddCommand(name string, inputs ...Input) *PolicyHandle {
	h.cfg.Commands[name] = CommandGroup{Name: name, Inputs: append([]Input(nil), inputs...)}
	return h
}

// AddVelocityCommand registers the "velocity" group. Start from
// DefaultVelocityCommand to keep the standard ranges.
func (h *PolicyHandle) AddVelocityCommand(v VelocityCommand) *PolicyHandle {
	g := v.Group()
	h.cfg.Commands[g.Name] = g
	return h
}

func (h *PolicyHandle) SetMetadata(key string, value any) *PolicyHandle {
	h.cfg.Metadata[key] = value
	return h
}

func validPathSegment(s string) bool {
	switch s {
	case "", ".", "..":
		return false
	}
	return !strings.ContainsAny(s, `/\`)
}
