// Package manifest defines the JSON documents a build writes for the browser
// runtime: the root assets/config.json and the per-policy config files. Both
// are checked against embedded JSON schemas before they are written.
package manifest

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Version is stamped into every config.json.
const Version = "0.0.8"

const (
	ConfigSchema = "config.schema.json"
	PolicySchema = "policy.schema.json"
)

const schemaBaseURL = "https://muwanx.dev/schemas/"

//go:embed schemas/*.json
var schemaFS embed.FS

// Config is the root assets/config.json document.
type Config struct {
	Version  string    `json:"version"`
	BasePath string    `json:"base_path,omitempty"`
	Projects []Project `json:"projects"`
}

// Project.ID is null for the main route.
type Project struct {
	Name   string  `json:"name"`
	ID     *string `json:"id"`
	Scenes []Scene `json:"scenes"`
}

type Scene struct {
	Name     string         `json:"name"`
	Path     string         `json:"path"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Policies []Policy       `json:"policies"`
}

type Policy struct {
	Name     string         `json:"name"`
	Config   string         `json:"config,omitempty"`
	Source   string         `json:"source,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

var (
	schemaOnce sync.Once
	schemas    map[string]*jsonschema.Schema
	schemaErr  error
)

func compiled(name string) (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schemas = map[string]*jsonschema.Schema{}
		for _, n := range []string{ConfigSchema, PolicySchema} {
			b, err := schemaFS.ReadFile("schemas/" + n)
			if err != nil {
				schemaErr = err
				return
			}
			s, err := jsonschema.CompileString(schemaBaseURL+n, string(b))
			if err != nil {
				schemaErr = fmt.Errorf("compile %s: %w", n, err)
				return
			}
			schemas[n] = s
		}
	})
	if schemaErr != nil {
		return nil, schemaErr
	}
	s, ok := schemas[name]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q", name)
	}
	return s, nil
}

// Validate checks the JSON document b against the named embedded schema.
func Validate(schema string, b []byte) error {
	s, err := compiled(schema)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("%s: %w", schema, err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%s: %w", schema, err)
	}
	return nil
}

// Encode renders v as indented JSON with a trailing newline.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeConfig encodes and validates c. Nil lists are written as [].
func EncodeConfig(c Config) ([]byte, error) {
	c.normalize()
	b, err := Encode(c)
	if err != nil {
		return nil, err
	}
	if err := Validate(ConfigSchema, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (c *Config) normalize() {
	if c.Projects == nil {
		c.Projects = []Project{}
	}
	for i := range c.Projects {
		p := &c.Projects[i]
		if p.Scenes == nil {
			p.Scenes = []Scene{}
		}
		for j := range p.Scenes {
			if p.Scenes[j].Policies == nil {
				p.Scenes[j].Policies = []Policy{}
			}
		}
	}
}

// ReadConfig loads a config.json written by a previous build.
func ReadConfig(path string) (Config, error) {
	var c Config
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := Validate(ConfigSchema, b); err != nil {
		return c, err
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}
