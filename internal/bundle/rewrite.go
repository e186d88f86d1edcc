package bundle

import (
	"fmt"

	"github.com/beevik/etree"
)

// compilerHintAttrs are removed from every <compiler> element: after the
// rewrite every reference is relative to the container root.
var compilerHintAttrs = []string{"meshdir", "texturedir", "assetdir"}

// Rewrite serializes s and rewrites its file references with s.Hints().
func Rewrite(s Scene) ([]byte, error) {
	raw, err := s.XML()
	if err != nil {
		return nil, fmt.Errorf("serialize %s: %w", s.ModelName(), err)
	}
	return RewriteXML(raw, s.Hints())
}

// RewriteXML returns a copy of the scene XML in which every asset file
// reference is replaced by its canonical key and the compiler directory hints
// are dropped. Element and attribute order is preserved, so the same input
// always yields the same bytes.
func RewriteXML(raw []byte, h Hints) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("parse scene xml: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("parse scene xml: no root element")
	}

	for _, el := range findAll(root, "compiler") {
		for _, a := range compilerHintAttrs {
			el.RemoveAttr(a)
		}
	}

	for _, el := range findAll(root, "mesh") {
		rewriteAttr(el, "file", h.MeshDir)
	}
	for _, el := range findAll(root, "texture") {
		rewriteAttr(el, "file", h.TextureDir)
		for _, a := range CubeFaceAttrs {
			rewriteAttr(el, a, h.TextureDir)
		}
	}
	for _, el := range findAll(root, "hfield") {
		rewriteAttr(el, "file", "")
	}
	for _, el := range findAll(root, "skin") {
		rewriteAttr(el, "file", "")
	}

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("write scene xml: %w", err)
	}
	return out, nil
}

// findAll returns root and its descendants named tag, in document order.
func findAll(root *etree.Element, tag string) []*etree.Element {
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

func rewriteAttr(el *etree.Element, key, hint string) {
	a := el.SelectAttr(key)
	if a == nil || a.Value == "" {
		return
	}
	a.Value = Canonicalize(JoinHint(hint, a.Value))
}
