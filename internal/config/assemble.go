package config

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"muwanx.dev/internal/builder"
	"muwanx.dev/internal/bundle"
	"muwanx.dev/internal/mjcf"
)

// VelocitySpec is the velocity command of a policy. Fields left out of the
// yaml keep the standard ranges; `velocity: true` takes them all.
type VelocitySpec struct {
	builder.VelocityCommand
}

func (v *VelocitySpec) UnmarshalYAML(n *yaml.Node) error {
	v.VelocityCommand = builder.DefaultVelocityCommand()
	if n.Kind == yaml.ScalarNode {
		var on bool
		if err := n.Decode(&on); err != nil {
			return fmt.Errorf("velocity: %w", err)
		}
		if !on {
			return fmt.Errorf("velocity: use a mapping or true")
		}
		return nil
	}
	return n.Decode(&v.VelocityCommand)
}

// Services are the optional sinks handed to the builder.
type Services struct {
	Logger  *slog.Logger
	Index   builder.Index
	Journal builder.Journal
}

// NewBuilder loads every scene and policy the config names and returns a
// builder ready to Build into c.OutputDir.
func (c Config) NewBuilder(svc Services) (*builder.Builder, error) {
	bc := builder.Config{
		BasePath:    c.BasePath,
		TemplateDir: c.TemplateDir,
		Workers:     c.Workers,
		Logger:      svc.Logger,
		Index:       svc.Index,
		Journal:     svc.Journal,
	}
	if c.SceneFormat == FormatTree {
		bc.SceneFormat = builder.FormatTree
	}
	if c.Missing == MissingWarn {
		bc.Collect.Missing = bundle.MissingWarn
	}
	if c.Collisions == CollisionsReject {
		bc.Collect.Collisions = bundle.CollisionReject
	}
	b := builder.New(bc)

	for _, p := range c.Projects {
		ph := b.AddProject(p.Name, p.ID)
		for _, s := range p.Scenes {
			opts := builder.SceneOptions{Metadata: s.Metadata}
			if s.File != "" {
				d, err := mjcf.LoadFile(s.File)
				if err != nil {
					return nil, fmt.Errorf("scene %s: %w", s.Name, err)
				}
				opts.Description = d
			} else {
				raw, err := os.ReadFile(s.Compiled)
				if err != nil {
					return nil, fmt.Errorf("scene %s: %w", s.Name, err)
				}
				opts.Compiled = raw
			}
			sh, err := ph.AddScene(s.Name, opts)
			if err != nil {
				return nil, err
			}
			for _, pol := range s.Policies {
				if err := addPolicy(sh, pol); err != nil {
					return nil, fmt.Errorf("scene %s: %w", s.Name, err)
				}
			}
		}
	}
	return b, nil
}

func addPolicy(sh *builder.SceneHandle, pol PolicySpec) error {
	model, err := os.ReadFile(pol.ONNX)
	if err != nil {
		return fmt.Errorf("policy %s: %w", pol.Name, err)
	}
	h, err := sh.AddPolicy(model, pol.Name, builder.PolicyOptions{
		Metadata:   pol.Metadata,
		SourcePath: pol.Source,
		ConfigPath: pol.Config,
	})
	if err != nil {
		return err
	}
	if pol.Velocity != nil {
		h.AddVelocityCommand(pol.Velocity.VelocityCommand)
	}
	groups := make([]string, 0, len(pol.Commands))
	for name := range pol.Commands {
		groups = append(groups, name)
	}
	sort.Strings(groups)
	for _, name := range groups {
		h.AddCommand(name, inputs(pol.Commands[name])...)
	}
	return nil
}

func inputs(specs []InputSpec) []builder.Input {
	out := make([]builder.Input, 0, len(specs))
	for _, in := range specs {
		label := in.Label
		if label == "" {
			label = in.Name
		}
		if in.Type == InputButton {
			out = append(out, builder.Button{Name: in.Name, Label: label})
			continue
		}
		out = append(out, builder.Slider{Name: in.Name, Label: label, Min: in.Min, Max: in.Max, Default: in.Default, Step: in.Step})
	}
	return out
}
