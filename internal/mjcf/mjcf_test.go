package mjcf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"muwanx.dev/internal/bundle"
)

func write(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestParse_Basics(t *testing.T) {
	d, err := Parse([]byte(`<mujoco model="arm">
  <compiler meshdir="meshes" texturedir="tex"/>
  <asset>
    <mesh name="upper" file="upper.stl"/>
    <mesh name="procedural"/>
    <texture name="grid" type="2d" builtin="checker"/>
    <texture name="sky" type="cube" fileup="up.png" fileback="back.png"/>
    <hfield name="h" file="h.png"/>
  </asset>
  <deformable><skin name="s" file="s.skn"/></deformable>
</mujoco>`), "/base")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if d.ModelName() != "arm" || d.BaseDir() != "/base" {
		t.Fatalf("name=%q base=%q", d.ModelName(), d.BaseDir())
	}
	if h := d.Hints(); h.MeshDir != "meshes" || h.TextureDir != "tex" {
		t.Fatalf("hints=%+v", h)
	}
	if n := len(d.Meshes()); n != 2 {
		t.Fatalf("meshes=%d", n)
	}

	want := []bundle.Reference{
		{Kind: bundle.KindMesh, Name: "upper", Attr: "file", File: "upper.stl"},
		{Kind: bundle.KindTexture, Name: "sky", Attr: "fileup", File: "up.png"},
		{Kind: bundle.KindTexture, Name: "sky", Attr: "fileback", File: "back.png"},
		{Kind: bundle.KindHeightField, Name: "h", Attr: "file", File: "h.png"},
		{Kind: bundle.KindSkin, Name: "s", Attr: "file", File: "s.skn"},
	}
	if diff := cmp.Diff(want, d.References()); diff != "" {
		t.Fatalf("references (-want +got):\n%s", diff)
	}
}

func TestParse_DefaultsAndErrors(t *testing.T) {
	d, err := Parse([]byte(`<mujoco/>`), ".")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if d.ModelName() != DefaultModelName {
		t.Fatalf("name=%q", d.ModelName())
	}
	if len(d.References()) != 0 {
		t.Fatalf("unexpected references")
	}
	if _, err := Parse([]byte(`<robot/>`), "."); err == nil {
		t.Fatalf("expected error for non-mujoco root")
	}
	if _, err := Parse([]byte(`<mujoco model=>`), "."); err == nil {
		t.Fatalf("expected error for malformed markup")
	}
}

func TestHints_AssetDirFallback(t *testing.T) {
	d, err := Parse([]byte(`<mujoco><compiler assetdir="assets"/><compiler texturedir="textures"/></mujoco>`), ".")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if h := d.Hints(); h.MeshDir != "assets" || h.TextureDir != "textures" {
		t.Fatalf("hints=%+v", h)
	}
}

func TestLoadFile_Includes(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "parts", "assets.xml"), `<mujocoinclude>
  <asset><mesh name="m" file="m.stl"/></asset>
  <include file="parts/body.xml"/>
</mujocoinclude>`)
	write(t, filepath.Join(dir, "parts", "body.xml"), `<mujocoinclude>
  <worldbody><body><freejoint/><body><joint type="ball"/><joint/></body></body></worldbody>
</mujocoinclude>`)
	write(t, filepath.Join(dir, "scene.xml"), `<mujoco model="inc">
  <compiler meshdir="meshes"/>
  <include file="parts/assets.xml"/>
</mujoco>`)

	d, err := LoadFile(filepath.Join(dir, "scene.xml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	refs := d.References()
	if len(refs) != 1 || refs[0].File != "m.stl" {
		t.Fatalf("refs=%+v", refs)
	}
	if n := d.JointCoordinates(); n != 7+4+1 {
		t.Fatalf("joint coordinates=%d", n)
	}
	xml, err := d.XML()
	if err != nil {
		t.Fatalf("XML: %v", err)
	}
	if strings.Contains(string(xml), "include") {
		t.Fatalf("include survived:\n%s", xml)
	}
	if !strings.Contains(string(xml), `<compiler meshdir="meshes"/>`) {
		t.Fatalf("compiler lost:\n%s", xml)
	}
}

func TestLoadFile_IncludeErrors(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "a.xml"), `<mujocoinclude><asset/></mujocoinclude>`)
	write(t, filepath.Join(dir, "twice.xml"), `<mujoco><include file="a.xml"/><include file="a.xml"/></mujoco>`)
	write(t, filepath.Join(dir, "nofile.xml"), `<mujoco><include/></mujoco>`)
	write(t, filepath.Join(dir, "missing.xml"), `<mujoco><include file="nope.xml"/></mujoco>`)
	write(t, filepath.Join(dir, "self.xml"), `<mujoco><include file="self.xml"/></mujoco>`)

	for _, name := range []string{"twice.xml", "nofile.xml", "missing.xml", "self.xml"} {
		if _, err := LoadFile(filepath.Join(dir, name)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := LoadFile(filepath.Join(dir, "absent.xml")); err == nil {
		t.Fatalf("expected error for absent file")
	}
}

func TestJointCoordinates(t *testing.T) {
	d, err := Parse([]byte(`<mujoco>
  <default><joint type="slide"/></default>
  <worldbody>
    <body><joint type="free"/></body>
    <body><joint type="slide"/><joint type="hinge"/><joint type="ball"/></body>
  </worldbody>
</mujoco>`), ".")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if n := d.JointCoordinates(); n != 7+1+1+4 {
		t.Fatalf("joint coordinates=%d", n)
	}
}
