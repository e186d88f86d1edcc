// Package config loads the muwanx.yaml build file and the MUWANX_*
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	FormatArchive = "mjz"
	FormatTree    = "tree"

	MissingWarn   = "warn"
	MissingSilent = "silent"

	CollisionsLastWins = "last_wins"
	CollisionsReject   = "reject"

	InputSlider = "slider"
	InputButton = "button"
)

// Config is a muwanx.yaml build file. Relative paths are resolved against the
// directory holding the file.
type Config struct {
	BasePath    string        `yaml:"base_path"`
	OutputDir   string        `yaml:"output_dir"`
	TemplateDir string        `yaml:"template_dir"`
	SceneFormat string        `yaml:"scene_format"`
	Workers     int           `yaml:"workers"`
	Missing     string        `yaml:"missing"`
	Collisions  string        `yaml:"collisions"`
	Projects    []ProjectSpec `yaml:"projects"`

	dir string
}

type ProjectSpec struct {
	Name   string      `yaml:"name"`
	ID     string      `yaml:"id"`
	Scenes []SceneSpec `yaml:"scenes"`
}

// SceneSpec names exactly one of File (an MJCF description) or Compiled (a
// binary .mjb model).
type SceneSpec struct {
	Name     string         `yaml:"name"`
	File     string         `yaml:"file"`
	Compiled string         `yaml:"compiled"`
	Metadata map[string]any `yaml:"metadata"`
	Policies []PolicySpec   `yaml:"policies"`
}

type PolicySpec struct {
	Name     string                 `yaml:"name"`
	ONNX     string                 `yaml:"onnx"`
	Config   string                 `yaml:"config"`
	Source   string                 `yaml:"source"`
	Metadata map[string]any         `yaml:"metadata"`
	Velocity *VelocitySpec          `yaml:"velocity"`
	Commands map[string][]InputSpec `yaml:"commands"`
}

type InputSpec struct {
	Type    string  `yaml:"type"`
	Name    string  `yaml:"name"`
	Label   string  `yaml:"label"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	Default float64 `yaml:"default"`
	Step    float64 `yaml:"step"`
}

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		return cfg, fmt.Errorf("muwanx.yaml: no build file given")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("muwanx.yaml: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return cfg, err
	}
	cfg.dir = filepath.Dir(abs)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("muwanx.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		BasePath:    "/",
		OutputDir:   "dist",
		SceneFormat: FormatArchive,
		Missing:     MissingWarn,
		Collisions:  CollisionsLastWins,
	}
}

// Dir is the directory relative paths were resolved against.
func (c Config) Dir() string { return c.dir }

func (c *Config) Normalize() {
	c.BasePath = strings.TrimSpace(c.BasePath)
	if c.BasePath == "" {
		c.BasePath = "/"
	}
	c.SceneFormat = lowerOr(c.SceneFormat, FormatArchive)
	c.Missing = lowerOr(c.Missing, MissingWarn)
	c.Collisions = lowerOr(c.Collisions, CollisionsLastWins)
	if c.Workers < 0 {
		c.Workers = 0
	}
	c.OutputDir = c.resolve(strings.TrimSpace(c.OutputDir))
	if c.OutputDir == "" {
		c.OutputDir = c.resolve("dist")
	}
	c.TemplateDir = c.resolve(strings.TrimSpace(c.TemplateDir))

	for i := range c.Projects {
		p := &c.Projects[i]
		p.Name = strings.TrimSpace(p.Name)
		p.ID = strings.TrimSpace(p.ID)
		for j := range p.Scenes {
			s := &p.Scenes[j]
			s.Name = strings.TrimSpace(s.Name)
			s.File = c.resolve(strings.TrimSpace(s.File))
			s.Compiled = c.resolve(strings.TrimSpace(s.Compiled))
			for k := range s.Policies {
				pol := &s.Policies[k]
				pol.Name = strings.TrimSpace(pol.Name)
				pol.ONNX = c.resolve(strings.TrimSpace(pol.ONNX))
				pol.Config = c.resolve(strings.TrimSpace(pol.Config))
				pol.Source = strings.TrimSpace(pol.Source)
				for name, inputs := range pol.Commands {
					for n := range inputs {
						inputs[n].Type = lowerOr(inputs[n].Type, InputSlider)
					}
					pol.Commands[name] = inputs
				}
			}
		}
	}
}

func (c Config) Validate() error {
	switch c.SceneFormat {
	case FormatArchive, FormatTree:
	default:
		return fmt.Errorf("scene_format must be %q or %q, got %q", FormatArchive, FormatTree, c.SceneFormat)
	}
	switch c.Missing {
	case MissingWarn, MissingSilent:
	default:
		return fmt.Errorf("missing must be %q or %q, got %q", MissingWarn, MissingSilent, c.Missing)
	}
	switch c.Collisions {
	case CollisionsLastWins, CollisionsReject:
	default:
		return fmt.Errorf("collisions must be %q or %q, got %q", CollisionsLastWins, CollisionsReject, c.Collisions)
	}
	if len(c.Projects) == 0 {
		return fmt.Errorf("projects must not be empty")
	}
	for i, p := range c.Projects {
		if p.Name == "" {
			return fmt.Errorf("projects[%d] name must not be empty", i)
		}
		for j, s := range p.Scenes {
			if s.Name == "" {
				return fmt.Errorf("project %s scenes[%d] name must not be empty", p.Name, j)
			}
			if (s.File == "") == (s.Compiled == "") {
				return fmt.Errorf("scene %s must set exactly one of file or compiled", s.Name)
			}
			for k, pol := range s.Policies {
				if pol.Name == "" {
					return fmt.Errorf("scene %s policies[%d] name must not be empty", s.Name, k)
				}
				if pol.ONNX == "" {
					return fmt.Errorf("policy %s onnx must not be empty", pol.Name)
				}
				for group, inputs := range pol.Commands {
					if err := validateInputs(inputs); err != nil {
						return fmt.Errorf("policy %s command %s: %w", pol.Name, group, err)
					}
				}
			}
		}
	}
	return nil
}

func validateInputs(inputs []InputSpec) error {
	if len(inputs) == 0 {
		return fmt.Errorf("inputs must not be empty")
	}
	seen := map[string]bool{}
	for i, in := range inputs {
		if in.Name == "" {
			return fmt.Errorf("inputs[%d] name must not be empty", i)
		}
		if seen[in.Name] {
			return fmt.Errorf("duplicate input name: %s", in.Name)
		}
		seen[in.Name] = true
		switch in.Type {
		case InputButton:
		case InputSlider:
			if in.Min > in.Max {
				return fmt.Errorf("slider %s min must be <= max", in.Name)
			}
			if in.Default < in.Min || in.Default > in.Max {
				return fmt.Errorf("slider %s default must be in [min, max]", in.Name)
			}
			if in.Step < 0 {
				return fmt.Errorf("slider %s step must be >= 0", in.Name)
			}
		default:
			return fmt.Errorf("inputs[%d] unknown type %q", i, in.Type)
		}
	}
	return nil
}

// resolve makes p absolute against the build file directory. Paths starting
// with ~ are left for the builder to expand.
func (c Config) resolve(p string) string {
	switch {
	case p == "":
		return ""
	case strings.HasPrefix(p, "~"):
		return p
	case filepath.IsAbs(p):
		return filepath.Clean(p)
	case c.dir == "":
		return filepath.Clean(p)
	}
	return filepath.Join(c.dir, p)
}

func lowerOr(s, def string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return def
	}
	return s
}
