package bundle

import (
	"bytes"
	"strings"
	"testing"

	"github.com/beevik/etree"
)

func parseRewritten(t *testing.T, in string, h Hints) *etree.Element {
	t.Helper()
	out, err := RewriteXML([]byte(in), h)
	if err != nil {
		t.Fatalf("RewriteXML: %v", err)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(out); err != nil {
		t.Fatalf("parse rewritten: %v", err)
	}
	return doc.Root()
}

func TestRewriteXML_RemovesCompilerHints(t *testing.T) {
	root := parseRewritten(t,
		`<mujoco><compiler meshdir="../" texturedir="../" assetdir="x" angle="radian"/></mujoco>`,
		Hints{MeshDir: "../", TextureDir: "../"})
	c := root.SelectElement("compiler")
	if c == nil {
		t.Fatalf("compiler element dropped")
	}
	for _, a := range []string{"meshdir", "texturedir", "assetdir"} {
		if c.SelectAttr(a) != nil {
			t.Fatalf("compiler still has %s", a)
		}
	}
	if got := c.SelectAttrValue("angle", ""); got != "radian" {
		t.Fatalf("angle=%q want radian", got)
	}
}

func TestRewriteXML_References(t *testing.T) {
	cases := []struct {
		name  string
		xml   string
		hints Hints
		tag   string
		attr  string
		want  string
	}{
		{
			name:  "mesh with dotdot hint",
			xml:   `<mujoco><compiler meshdir="../"/><asset><mesh name="m1" file="../myo_sim/meshes/foo.stl"/></asset></mujoco>`,
			hints: Hints{MeshDir: "../"},
			tag:   "mesh", attr: "file", want: "myo_sim/meshes/foo.stl",
		},
		{
			name:  "texture with dotdot hint",
			xml:   `<mujoco><compiler texturedir="../"/><asset><texture name="t1" file="../scene/tex.png"/></asset></mujoco>`,
			hints: Hints{TextureDir: "../"},
			tag:   "texture", attr: "file", want: "scene/tex.png",
		},
		{
			name:  "plain hint is prefixed",
			xml:   `<mujoco><compiler meshdir="assets"/><asset><mesh name="m1" file="robot.stl"/></asset></mujoco>`,
			hints: Hints{MeshDir: "assets"},
			tag:   "mesh", attr: "file", want: "assets/robot.stl",
		},
		{
			name: "hfield has no hint",
			xml:  `<mujoco><asset><hfield name="h1" file="../terrain.png"/></asset></mujoco>`,
			tag:  "hfield", attr: "file", want: "terrain.png",
		},
		{
			name:  "skin ignores mesh hint",
			xml:   `<mujoco><deformable><skin name="s" file="../skins/body.skn"/></deformable></mujoco>`,
			hints: Hints{MeshDir: "meshes"},
			tag:   "skin", attr: "file", want: "skins/body.skn",
		},
		{
			name: "empty hint leaves clean file",
			xml:  `<mujoco><asset><mesh name="m1" file="meshes/foo.stl"/></asset></mujoco>`,
			tag:  "mesh", attr: "file", want: "meshes/foo.stl",
		},
		{
			name:  "absolute texture becomes basename",
			xml:   `<mujoco><compiler texturedir=".."/><asset><texture type="skybox" name="sky" file="/Users/alice/.venv/lib/site-packages/pkg/scene/skybox.png"/></asset></mujoco>`,
			hints: Hints{TextureDir: ".."},
			tag:   "texture", attr: "file", want: "skybox.png",
		},
		{
			name:  "absolute mesh becomes basename",
			xml:   `<mujoco><compiler meshdir=".."/><asset><mesh name="robot" file="/home/user/.venv/lib/site-packages/pkg/meshes/robot.stl"/></asset></mujoco>`,
			hints: Hints{MeshDir: ".."},
			tag:   "mesh", attr: "file", want: "robot.stl",
		},
		{
			name:  "cube face joined independently",
			xml:   `<mujoco><asset><texture name="c" type="cube" fileup="../sky/up.png" filedown="dn.png"/></asset></mujoco>`,
			hints: Hints{TextureDir: "tex"},
			tag:   "texture", attr: "fileup", want: "sky/up.png",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root := parseRewritten(t, tc.xml, tc.hints)
			el := root.FindElement("//" + tc.tag)
			if el == nil {
				t.Fatalf("no <%s> in output", tc.tag)
			}
			if got := el.SelectAttrValue(tc.attr, ""); got != tc.want {
				t.Fatalf("%s=%q want %q", tc.attr, got, tc.want)
			}
		})
	}
}

func TestRewriteXML_CubeFacesAndMissingAttrs(t *testing.T) {
	root := parseRewritten(t,
		`<mujoco><asset><texture name="c" type="cube" fileright="r.png" fileleft="../l.png" fileup="/abs/u.png" filedown="" /><mesh name="nofile"/></asset></mujoco>`,
		Hints{TextureDir: "tex"})
	tex := root.FindElement("//texture")
	want := map[string]string{
		"fileright": "tex/r.png",
		"fileleft":  "l.png",
		"fileup":    "u.png",
		"filedown":  "",
	}
	for attr, v := range want {
		if got := tex.SelectAttrValue(attr, "?"); got != v {
			t.Fatalf("%s=%q want %q", attr, got, v)
		}
	}
	if tex.SelectAttr("file") != nil || tex.SelectAttr("filefront") != nil {
		t.Fatalf("rewrite added attributes that were absent")
	}
	if m := root.FindElement("//mesh"); m == nil || m.SelectAttr("file") != nil {
		t.Fatalf("mesh without file should stay untouched")
	}
}

func TestRewriteXML_PreservesOrderAndIsDeterministic(t *testing.T) {
	in := `<mujoco model="m">
  <compiler angle="radian" meshdir="../" autolimits="true"/>
  <asset>
    <mesh name="b" file="../b.stl" scale="1 1 1"/>
    <mesh name="a" file="../a.stl"/>
  </asset>
</mujoco>`
	first, err := RewriteXML([]byte(in), Hints{MeshDir: "../"})
	if err != nil {
		t.Fatalf("RewriteXML: %v", err)
	}
	second, err := RewriteXML([]byte(in), Hints{MeshDir: "../"})
	if err != nil {
		t.Fatalf("RewriteXML: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("rewrite not deterministic")
	}
	out := string(first)
	if !strings.Contains(out, `<compiler angle="radian" autolimits="true"/>`) {
		t.Fatalf("compiler attrs reordered or lost:\n%s", out)
	}
	if strings.Index(out, `name="b"`) > strings.Index(out, `name="a"`) {
		t.Fatalf("element order changed:\n%s", out)
	}
	if !strings.Contains(out, `<mesh name="b" file="b.stl" scale="1 1 1"/>`) {
		t.Fatalf("mesh attrs reordered:\n%s", out)
	}
}

func TestRewriteXML_NoTraversalLeft(t *testing.T) {
	in := `<mujoco><compiler meshdir="../../" texturedir="/opt/tex"/><asset>
<mesh file="../../../m.stl"/><mesh file="C:/x/y.obj"/>
<texture file="a/../../b.png" fileback="../../c.png"/>
<hfield file="/data/h.png"/></asset><deformable><skin file="../../s.skn"/></deformable></mujoco>`
	root := parseRewritten(t, in, Hints{MeshDir: "../../", TextureDir: "/opt/tex"})
	for _, tag := range []string{"mesh", "texture", "hfield", "skin"} {
		for _, el := range root.FindElements("//" + tag) {
			for _, a := range el.Attr {
				if a.Key != "file" && !strings.HasPrefix(a.Key, "file") {
					continue
				}
				if strings.HasPrefix(a.Value, "/") || hasDrive(a.Value) {
					t.Fatalf("<%s %s=%q> is absolute", tag, a.Key, a.Value)
				}
				for _, seg := range strings.Split(a.Value, "/") {
					if seg == ".." {
						t.Fatalf("<%s %s=%q> traverses upward", tag, a.Key, a.Value)
					}
				}
			}
		}
	}
}

func TestRewriteXML_BadInput(t *testing.T) {
	if _, err := RewriteXML([]byte("not xml <"), Hints{}); err == nil {
		t.Fatalf("expected parse error")
	}
}
