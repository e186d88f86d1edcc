// Package mjcf adapts MJCF scene files to the bundle.Scene view. It parses
// the markup into an order-preserving tree, inlines <include> files and
// exposes the compiler directory hints and asset declarations.
package mjcf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/beevik/etree"

	"muwanx.dev/internal/bundle"
)

// DefaultModelName is used when the root element carries no model attribute.
const DefaultModelName = "MuJoCo Model"

type Description struct {
	doc     *etree.Document
	baseDir string
}

// Asset is a mesh, heightfield or skin declaration.
type Asset struct {
	Name string
	File string
}

// Texture is a texture declaration with its optional cube-map faces, ordered
// as bundle.CubeFaceAttrs.
type Texture struct {
	Name      string
	File      string
	CubeFiles [6]string
}

var _ bundle.Scene = (*Description)(nil)

// LoadFile reads the MJCF file at path. Relative asset references resolve
// against the file's directory.
func LoadFile(path string) (*Description, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	d, err := parse(raw, filepath.Dir(abs), abs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(abs), err)
	}
	return d, nil
}

// Parse reads MJCF markup whose relative references resolve against baseDir.
func Parse(raw []byte, baseDir string) (*Description, error) {
	return parse(raw, baseDir, "")
}

func parse(raw []byte, baseDir, self string) (*Description, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("parse mjcf: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "mujoco" {
		return nil, fmt.Errorf("parse mjcf: root element must be <mujoco>")
	}
	seen := map[string]bool{}
	if self != "" {
		seen[self] = true
	}
	if err := expandIncludes(root, baseDir, seen); err != nil {
		return nil, err
	}
	return &Description{doc: doc, baseDir: baseDir}, nil
}

// expandIncludes replaces every <include file="..."/> under el with the
// children of the included file's root. Include paths are relative to the
// main model directory, and a file may be included only once.
func expandIncludes(el *etree.Element, baseDir string, seen map[string]bool) error {
	for _, child := range el.ChildElements() {
		if child.Tag != "include" {
			if err := expandIncludes(child, baseDir, seen); err != nil {
				return err
			}
			continue
		}
		file := child.SelectAttrValue("file", "")
		if strings.TrimSpace(file) == "" {
			return fmt.Errorf("include without file attribute")
		}
		p := filepath.FromSlash(file)
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		if seen[p] {
			return fmt.Errorf("include %q: file included more than once", file)
		}
		seen[p] = true

		raw, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("include %q: %w", file, err)
		}
		inc := etree.NewDocument()
		if err := inc.ReadFromBytes(raw); err != nil {
			return fmt.Errorf("include %q: %w", file, err)
		}
		incRoot := inc.Root()
		if incRoot == nil {
			return fmt.Errorf("include %q: no root element", file)
		}
		if err := expandIncludes(incRoot, baseDir, seen); err != nil {
			return err
		}

		at := child.Index()
		el.RemoveChildAt(at)
		toks := append([]etree.Token(nil), incRoot.Child...)
		for i, tok := range toks {
			el.InsertChildAt(at+i, tok)
		}
	}
	return nil
}

func (d *Description) root() *etree.Element { return d.doc.Root() }

func (d *Description) BaseDir() string { return d.baseDir }

func (d *Description) ModelName() string {
	name := d.root().SelectAttrValue("model", "")
	if strings.TrimSpace(name) == "" {
		return DefaultModelName
	}
	return name
}

// compilerAttr returns the value of the last <compiler> element setting key.
func (d *Description) compilerAttr(key string) string {
	v := ""
	for _, el := range elements(d.root(), "compiler") {
		if a := el.SelectAttr(key); a != nil {
			v = a.Value
		}
	}
	return v
}

// MeshDir is the mesh directory hint; meshdir takes precedence over assetdir.
func (d *Description) MeshDir() string {
	if v := d.compilerAttr("meshdir"); v != "" {
		return v
	}
	return d.compilerAttr("assetdir")
}

// TextureDir is the texture directory hint; texturedir takes precedence over assetdir.
func (d *Description) TextureDir() string {
	if v := d.compilerAttr("texturedir"); v != "" {
		return v
	}
	return d.compilerAttr("assetdir")
}

func (d *Description) Hints() bundle.Hints {
	return bundle.Hints{MeshDir: d.MeshDir(), TextureDir: d.TextureDir()}
}

func (d *Description) Meshes() []Asset       { return d.assets("mesh") }
func (d *Description) HeightFields() []Asset { return d.assets("hfield") }
func (d *Description) Skins() []Asset        { return d.assets("skin") }

func (d *Description) assets(tag string) []Asset {
	var out []Asset
	for _, el := range elements(d.root(), tag) {
		out = append(out, Asset{
			Name: el.SelectAttrValue("name", ""),
			File: el.SelectAttrValue("file", ""),
		})
	}
	return out
}

func (d *Description) Textures() []Texture {
	var out []Texture
	for _, el := range elements(d.root(), "texture") {
		t := Texture{
			Name: el.SelectAttrValue("name", ""),
			File: el.SelectAttrValue("file", ""),
		}
		for i, a := range bundle.CubeFaceAttrs {
			t.CubeFiles[i] = el.SelectAttrValue(a, "")
		}
		out = append(out, t)
	}
	return out
}

// References lists every populated file attribute of the asset declarations.
func (d *Description) References() []bundle.Reference {
	var refs []bundle.Reference
	add := func(k bundle.Kind, name, attr, file string) {
		if file != "" {
			refs = append(refs, bundle.Reference{Kind: k, Name: name, Attr: attr, File: file})
		}
	}
	for _, m := range d.Meshes() {
		add(bundle.KindMesh, m.Name, "file", m.File)
	}
	for _, t := range d.Textures() {
		add(bundle.KindTexture, t.Name, "file", t.File)
		for i, f := range t.CubeFiles {
			add(bundle.KindTexture, t.Name, bundle.CubeFaceAttrs[i], f)
		}
	}
	for _, h := range d.HeightFields() {
		add(bundle.KindHeightField, h.Name, "file", h.File)
	}
	for _, s := range d.Skins() {
		add(bundle.KindSkin, s.Name, "file", s.File)
	}
	return refs
}

// XML serializes the description, includes already inlined.
func (d *Description) XML() ([]byte, error) {
	return d.doc.WriteToBytes()
}

// JointCoordinates counts the generalized position coordinates declared
// under <worldbody>: 7 per free joint, 4 per ball joint, 1 per hinge or slide.
// Joint types inherited through default classes are counted as hinges.
func (d *Description) JointCoordinates() int {
	n := 0
	for _, wb := range elements(d.root(), "worldbody") {
		n += 7 * len(elements(wb, "freejoint"))
		for _, j := range elements(wb, "joint") {
			switch j.SelectAttrValue("type", "hinge") {
			case "free":
				n += 7
			case "ball":
				n += 4
			default:
				n++
			}
		}
	}
	return n
}

func elements(root *etree.Element, tag string) []*etree.Element {
	var out []*etree.Element
	var walk func(el *etree.Element)
	walk = func(el *etree.Element) {
		if el.Tag == tag {
			out = append(out, el)
		}
		for _, c := range el.ChildElements() {
			walk(c)
		}
	}
	walk(root)
	return out
}
