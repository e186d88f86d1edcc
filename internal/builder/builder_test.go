package builder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zip"

	"muwanx.dev/internal/bundle"
	"muwanx.dev/internal/manifest"
	"muwanx.dev/internal/mjcf"
	"muwanx.dev/internal/persistence/indexdb"
	"muwanx.dev/internal/persistence/journal"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readJSON(t *testing.T, path string) map[string]any {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var v map[string]any
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return v
}

func handDescription(t *testing.T) *mjcf.Description {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "data", "myo_sim", "meshes", "clavicle.stl"), "solid")
	model := filepath.Join(root, "data", "models", "hand", "hand.xml")
	writeFile(t, model, `<mujoco model="hand">
  <compiler meshdir="../"/>
  <asset>
    <mesh name="clavicle" file="../myo_sim/meshes/clavicle.stl"/>
    <mesh name="gone" file="gone.stl"/>
  </asset>
  <worldbody><body><joint/><geom type="mesh" mesh="clavicle"/></body></worldbody>
</mujoco>`)
	d, err := mjcf.LoadFile(model)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	return d
}

func TestAddProject_IDRules(t *testing.T) {
	b := New(Config{})
	first := b.AddProject("Main Demo", "")
	second := b.AddProject("My Robots", "")
	explicit := b.AddProject("Other", "custom-id")

	if first.ID() != "" {
		t.Fatalf("first project id=%q want main route", first.ID())
	}
	if second.ID() != "my_robots" {
		t.Fatalf("second project id=%q", second.ID())
	}
	if explicit.ID() != "custom-id" {
		t.Fatalf("explicit id=%q", explicit.ID())
	}

	b2 := New(Config{})
	if h := b2.AddProject("Named", "named"); h.ID() != "named" {
		t.Fatalf("explicit first id=%q", h.ID())
	}
	if h := b2.AddProject("Second One", ""); h.ID() != "second_one" {
		t.Fatalf("id=%q", h.ID())
	}

	ps := b.Projects()
	if len(ps) != 3 || ps[0].Dir() != MainProjectDir || ps[2].Dir() != "custom-id" {
		t.Fatalf("projects=%+v", ps)
	}
	ps[0].Name = "changed"
	if b.Projects()[0].Name != "Main Demo" {
		t.Fatalf("Projects must return a copy")
	}
}

func TestAddScene_Validation(t *testing.T) {
	p := New(Config{}).AddProject("p", "")
	d := handDescription(t)

	if _, err := p.AddScene("s", SceneOptions{}); !errors.Is(err, ErrInvalidScene) {
		t.Fatalf("neither: %v", err)
	}
	if _, err := p.AddScene("s", SceneOptions{Description: d, Compiled: []byte("x")}); !errors.Is(err, ErrInvalidScene) {
		t.Fatalf("both: %v", err)
	}
	for _, name := range []string{"", "..", "a/b"} {
		if _, err := p.AddScene(name, SceneOptions{Compiled: []byte("x")}); !errors.Is(err, ErrInvalidScene) {
			t.Fatalf("name %q: %v", name, err)
		}
	}
	s, err := p.AddScene("Hand Scene", SceneOptions{Description: d, Metadata: map[string]any{"a": 1}})
	if err != nil {
		t.Fatalf("AddScene: %v", err)
	}
	s.SetMetadata("b", 2)
	if s.Name() != "Hand Scene" {
		t.Fatalf("name=%q", s.Name())
	}
}

func TestAddPolicy_NameValidation(t *testing.T) {
	p := New(Config{}).AddProject("p", "")
	s, err := p.AddScene("s", SceneOptions{Compiled: []byte("mjb")})
	if err != nil {
		t.Fatalf("AddScene: %v", err)
	}
	for _, name := range []string{"", "   ", "a/b", `a\b`, ".."} {
		if _, err := s.AddPolicy([]byte("onnx"), name, PolicyOptions{}); !errors.Is(err, ErrInvalidPolicyName) {
			t.Fatalf("name %q: %v", name, err)
		}
	}
	h, err := s.AddPolicy([]byte("onnx"), "Walk Fast", PolicyOptions{})
	if err != nil {
		t.Fatalf("AddPolicy: %v", err)
	}
	if h.Name() != "Walk Fast" || string(h.Model()) != "onnx" {
		t.Fatalf("handle mismatch")
	}
}

func TestBuild_Empty(t *testing.T) {
	_, err := New(Config{}).Build(context.Background(), t.TempDir())
	if !errors.Is(err, ErrEmptyBuild) {
		t.Fatalf("want ErrEmptyBuild, got %v", err)
	}
}

func TestBuild_DuplicateIDs(t *testing.T) {
	b := New(Config{})
	b.AddProject("A", "x")
	b.AddProject("B", "x")
	if _, err := b.Build(context.Background(), t.TempDir()); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("projects: %v", err)
	}

	b = New(Config{})
	p := b.AddProject("A", "")
	if _, err := p.AddScene("Go 2", SceneOptions{Compiled: []byte("a")}); err != nil {
		t.Fatalf("AddScene: %v", err)
	}
	if _, err := p.AddScene("go-2", SceneOptions{Compiled: []byte("b")}); err != nil {
		t.Fatalf("AddScene: %v", err)
	}
	if _, err := b.Build(context.Background(), t.TempDir()); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("scenes: %v", err)
	}
}

type recordingJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (j *recordingJournal) Record(e journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *recordingJournal) kinds() map[journal.Kind]int {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := map[journal.Kind]int{}
	for _, e := range j.entries {
		out[e.Kind]++
	}
	return out
}

func TestBuild_Layout(t *testing.T) {
	tmpl := t.TempDir()
	writeFile(t, filepath.Join(tmpl, "index.html"), "<html></html>")
	writeFile(t, filepath.Join(tmpl, "logo.svg"), "<svg/>")
	writeFile(t, filepath.Join(tmpl, "assets", "index.js"), "js")
	writeFile(t, filepath.Join(tmpl, "README.md"), "readme")
	writeFile(t, filepath.Join(tmpl, "node_modules", "x", "y.js"), "dep")

	cfgDir := t.TempDir()
	writeFile(t, filepath.Join(cfgDir, "walk.json"), `{"onnx":{"path":"old.onnx","meta":{"in_keys":["obs"]}},"obs_config":{"policy":[]},"scale":123456789012}`)
	writeFile(t, filepath.Join(cfgDir, "broken.json"), `not json`)

	var logs bytes.Buffer
	jr := &recordingJournal{}
	out := filepath.Join(t.TempDir(), "dist")
	writeFile(t, filepath.Join(out, "stale.txt"), "old build")

	b := New(Config{
		BasePath:    "/demo/",
		TemplateDir: tmpl,
		Workers:     2,
		Logger:      slog.New(slog.NewTextHandler(&logs, nil)),
		Journal:     jr,
		Collect:     bundle.CollectOptions{Missing: bundle.MissingWarn},
	})
	demo := b.AddProject("Demo", "")
	hand, err := demo.AddScene("Hand", SceneOptions{Description: handDescription(t)})
	if err != nil {
		t.Fatalf("AddScene: %v", err)
	}
	hand.SetMetadata("camera", "front")
	walk, err := hand.AddPolicy([]byte("onnx-walk"), "Walk", PolicyOptions{ConfigPath: filepath.Join(cfgDir, "walk.json"), SourcePath: "https://example.com/walk.onnx"})
	if err != nil {
		t.Fatalf("AddPolicy: %v", err)
	}
	walk.AddVelocityCommand(DefaultVelocityCommand())
	if _, err := hand.AddPolicy([]byte("onnx-broken"), "Broken", PolicyOptions{ConfigPath: filepath.Join(cfgDir, "broken.json")}); err != nil {
		t.Fatalf("AddPolicy: %v", err)
	}
	if _, err := hand.AddPolicy([]byte("onnx-missing"), "Missing Config", PolicyOptions{ConfigPath: filepath.Join(cfgDir, "nope.json")}); err != nil {
		t.Fatalf("AddPolicy: %v", err)
	}

	other := b.AddProject("Robot Zoo", "")
	go2, err := other.AddScene("Go2", SceneOptions{Compiled: []byte("mjb-bytes")})
	if err != nil {
		t.Fatalf("AddScene: %v", err)
	}
	btn, err := go2.AddPolicy([]byte("onnx-go2"), "Reset Me", PolicyOptions{})
	if err != nil {
		t.Fatalf("AddPolicy: %v", err)
	}
	btn.AddCommand("control", Button{Name: "reset", Label: "Reset"})
	if _, err := go2.AddPolicy([]byte("onnx-plain"), "Plain", PolicyOptions{Metadata: map[string]any{"k": "v"}}); err != nil {
		t.Fatalf("AddPolicy: %v", err)
	}

	app, err := b.Build(context.Background(), out)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if app.OutputDir != out || app.BuildID == "" {
		t.Fatalf("app=%+v", app)
	}

	var files []string
	_ = filepath.WalkDir(out, func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			rel, _ := filepath.Rel(out, p)
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	sort.Strings(files)
	want := []string{
		"assets/config.json",
		"assets/index.js",
		"index.html",
		"logo.svg",
		"main/assets/hand/broken.json",
		"main/assets/hand/broken.onnx",
		"main/assets/hand/missing_config.onnx",
		"main/assets/hand/scene.mjz",
		"main/assets/hand/walk.json",
		"main/assets/hand/walk.onnx",
		"main/index.html",
		"main/logo.svg",
		"robot_zoo/assets/go2/plain.onnx",
		"robot_zoo/assets/go2/reset_me.json",
		"robot_zoo/assets/go2/reset_me.onnx",
		"robot_zoo/assets/go2/scene.mjb",
		"robot_zoo/index.html",
		"robot_zoo/logo.svg",
	}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Fatalf("output files (-want +got):\n%s", diff)
	}

	cfg, err := manifest.ReadConfig(app.ConfigPath())
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	if cfg.Version != manifest.Version || cfg.BasePath != "/demo/" {
		t.Fatalf("config header: %+v", cfg)
	}
	if cfg.Projects[0].ID != nil || cfg.Projects[1].ID == nil || *cfg.Projects[1].ID != "robot_zoo" {
		t.Fatalf("project ids: %+v", cfg.Projects)
	}
	hs := cfg.Projects[0].Scenes[0]
	if hs.Path != "hand/scene.mjz" || hs.Metadata["camera"] != "front" {
		t.Fatalf("hand scene: %+v", hs)
	}
	wantPolicies := []manifest.Policy{
		{Name: "Walk", Config: "hand/walk.json", Source: "https://example.com/walk.onnx"},
		{Name: "Broken", Config: "hand/broken.json"},
		{Name: "Missing Config"},
	}
	if diff := cmp.Diff(wantPolicies, hs.Policies); diff != "" {
		t.Fatalf("hand policies (-want +got):\n%s", diff)
	}
	gs := cfg.Projects[1].Scenes[0]
	if gs.Path != "go2/scene.mjb" || gs.Policies[0].Config != "go2/reset_me.json" || gs.Policies[1].Config != "" || gs.Policies[1].Metadata["k"] != "v" {
		t.Fatalf("go2 scene: %+v", gs)
	}

	walkDoc := readJSON(t, filepath.Join(out, "main", "assets", "hand", "walk.json"))
	onnx := walkDoc["onnx"].(map[string]any)
	if onnx["path"] != "walk.onnx" || onnx["meta"] == nil {
		t.Fatalf("onnx section: %+v", onnx)
	}
	if _, ok := walkDoc["commands"].(map[string]any)["velocity"]; !ok || walkDoc["obs_config"] == nil {
		t.Fatalf("walk doc: %+v", walkDoc)
	}
	raw, _ := os.ReadFile(filepath.Join(out, "main", "assets", "hand", "walk.json"))
	if !strings.Contains(string(raw), "123456789012") {
		t.Fatalf("large integer lost precision:\n%s", raw)
	}
	if got, _ := os.ReadFile(filepath.Join(out, "main", "assets", "hand", "broken.json")); string(got) != "not json" {
		t.Fatalf("broken config not copied verbatim: %q", got)
	}
	resetDoc := readJSON(t, filepath.Join(out, "robot_zoo", "assets", "go2", "reset_me.json"))
	if resetDoc["onnx"].(map[string]any)["path"] != "reset_me.onnx" {
		t.Fatalf("generated doc: %+v", resetDoc)
	}
	if got, _ := os.ReadFile(filepath.Join(out, "robot_zoo", "assets", "go2", "scene.mjb")); string(got) != "mjb-bytes" {
		t.Fatalf("compiled scene bytes: %q", got)
	}

	zb, err := os.ReadFile(filepath.Join(out, "main", "assets", "hand", "scene.mjz"))
	if err != nil {
		t.Fatalf("read mjz: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(zb), int64(len(zb)))
	if err != nil {
		t.Fatalf("zip: %v", err)
	}
	var entries []string
	for _, f := range zr.File {
		entries = append(entries, f.Name)
	}
	if diff := cmp.Diff([]string{"hand.xml", "myo_sim/meshes/clavicle.stl"}, entries); diff != "" {
		t.Fatalf("mjz entries (-want +got):\n%s", diff)
	}

	if !strings.Contains(logs.String(), "policy config path not found") {
		t.Fatalf("missing config not logged:\n%s", logs.String())
	}
	if !strings.Contains(logs.String(), "referenced asset not found") {
		t.Fatalf("missing asset not logged:\n%s", logs.String())
	}
	kinds := jr.kinds()
	if kinds[journal.KindBuildStarted] != 1 || kinds[journal.KindBuildFinished] != 1 ||
		kinds[journal.KindScenePackaged] != 2 || kinds[journal.KindPolicyWritten] != 5 ||
		kinds[journal.KindAssetSkipped] != 1 {
		t.Fatalf("journal kinds: %v", kinds)
	}
}

func TestBuild_TreeFormatWithIndex(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.db")
	idx, err := indexdb.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer idx.Close()

	b := New(Config{SceneFormat: FormatTree, Index: idx})
	p := b.AddProject("Demo", "demo")
	if _, err := p.AddScene("Hand", SceneOptions{Description: handDescription(t)}); err != nil {
		t.Fatalf("AddScene: %v", err)
	}
	out := filepath.Join(t.TempDir(), "site")
	app, err := b.Build(context.Background(), out)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if got := app.Config.Projects[0].Scenes[0].Path; got != "hand/hand.xml" {
		t.Fatalf("scene path=%q", got)
	}
	sceneDir := filepath.Join(out, "demo", "assets", "hand")
	if _, err := os.Stat(filepath.Join(sceneDir, "myo_sim", "meshes", "clavicle.stl")); err != nil {
		t.Fatalf("tree asset missing: %v", err)
	}
	if _, err := mjcf.LoadFile(filepath.Join(sceneDir, "hand.xml")); err != nil {
		t.Fatalf("reload tree description: %v", err)
	}

	rows, err := idx.AssetsByDigest(context.Background(), digestOf(t, filepath.Join(sceneDir, "myo_sim", "meshes", "clavicle.stl")))
	if err != nil {
		t.Fatalf("AssetsByDigest: %v", err)
	}
	if len(rows) != 1 || rows[0].BuildID != app.BuildID || rows[0].Key != "myo_sim/meshes/clavicle.stl" || rows[0].Project != "demo" {
		t.Fatalf("index rows=%+v", rows)
	}
}

func digestOf(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return bundle.Digest(b)
}

func TestMergePolicyConfig(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"adds onnx", `{"a":1}`, `{"a":1,"onnx":{"path":"p.onnx"}}`},
		{"overwrites path", `{"onnx":{"path":"x.onnx","k":true}}`, `{"onnx":{"k":true,"path":"p.onnx"}}`},
		{"non-object onnx untouched", `{"onnx":"raw"}`, `{"onnx":"raw"}`},
		{"null onnx untouched", `{"onnx":null}`, `{"onnx":null}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := mergePolicyConfig([]byte(tc.in), "p.onnx", nil)
			if err != nil {
				t.Fatalf("merge: %v", err)
			}
			var got, want any
			_ = json.Unmarshal(b, &got)
			_ = json.Unmarshal([]byte(tc.want), &want)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("(-want +got):\n%s", diff)
			}
		})
	}
	for _, bad := range []string{`[]`, `null`, `nope`} {
		if _, err := mergePolicyConfig([]byte(bad), "p.onnx", nil); err == nil {
			t.Fatalf("%s: expected error", bad)
		}
	}
}
