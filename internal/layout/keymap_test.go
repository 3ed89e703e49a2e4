package layout

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"keymapd/internal/keycode"
	"keymapd/internal/matrix"
)

const testKeymapTOML = `
name = "testpad"

[matrix]
rows = 2
cols = 3

[[layers]]
name = "base"
keys = [
  ["A", "B", "LT(1,SPC)"],
  ["LSFT", "MT(LCTL,ESC)", "MO(1)"],
]

[[layers]]
name = "fn"
keys = [
  ["1", "2", "_____"],
  ["MUTE", "MACRO(hello)", "TG(1)"],
]

[[macros]]
name = "hello"
steps = ["text:hi", "wait:10", "tap:ENTER"]
`

func testFile() *File {
	return &File{
		Name:   "testpad",
		Matrix: MatrixSpec{Rows: 2, Cols: 3},
		Layers: []LayerSpec{
			{Name: "base", Keys: [][]string{
				{"A", "B", "LT(1,SPC)"},
				{"LSFT", "MT(LCTL,ESC)", "MO(1)"},
			}},
			{Name: "fn", Keys: [][]string{
				{"1", "2", "_____"},
				{"MUTE", "MACRO(hello)", "TG(1)"},
			}},
		},
		Macros: []MacroSpec{
			{Name: "hello", Steps: []string{"text:hi", "wait:10", "tap:ENTER"}},
		},
	}
}

func TestCompile(t *testing.T) {
	km, err := Compile(testFile())
	if err != nil {
		t.Fatal(err)
	}
	if km.Name != "testpad" || km.Rows != 2 || km.Cols != 3 {
		t.Errorf("header = %q %dx%d", km.Name, km.Rows, km.Cols)
	}
	if len(km.Layers) != 2 {
		t.Fatalf("layer count = %d", len(km.Layers))
	}
	if got := km.ActionAt(0, 0, 0); got != Key(keycode.KeyA) {
		t.Errorf("base[0][0] = %+v", got)
	}
	if got := km.ActionAt(0, 0, 2); got != (Action{Kind: ActionLayerTap, Layer: 1, Code: keycode.KeySpace}) {
		t.Errorf("base[0][2] = %+v", got)
	}
	if got := km.ActionAt(1, 0, 2); got != Transparent {
		t.Errorf("fn[0][2] = %+v", got)
	}
	if got := km.ActionAt(1, 1, 1); got != (Action{Kind: ActionMacro, Macro: 0}) {
		t.Errorf("fn[1][1] = %+v", got)
	}
	// text:hi expands to two taps, then wait, then enter.
	if len(km.Macros) != 1 || len(km.Macros[0].Steps) != 4 {
		t.Fatalf("macro steps = %+v", km.Macros)
	}
	if s := km.Macros[0].Steps[0]; s.Op != MacroTap || s.Code != keycode.KeyH {
		t.Errorf("step 0 = %+v", s)
	}
	if s := km.Macros[0].Steps[2]; s.Op != MacroWait || s.WaitMS != 10 {
		t.Errorf("step 2 = %+v", s)
	}
	// Out-of-range reads are None, never a panic.
	if got := km.ActionAt(5, 0, 0); got != None {
		t.Errorf("bad layer = %+v", got)
	}
	if got := km.ActionAt(0, 2, 0); got != None {
		t.Errorf("bad row = %+v", got)
	}
}

func TestCompileRejectsBadKeymaps(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*File)
		want   error
	}{
		{"no layers", func(f *File) { f.Layers = nil }, ErrNoLayers},
		{"oversize matrix", func(f *File) { f.Matrix.Rows = matrix.MaxRows + 1 }, matrix.ErrDimensions},
		{"ragged rows", func(f *File) { f.Layers[0].Keys = f.Layers[0].Keys[:1] }, ErrGridShape},
		{"ragged cols", func(f *File) { f.Layers[0].Keys[1] = []string{"A"} }, ErrGridShape},
		{"unknown key", func(f *File) { f.Layers[0].Keys[0][0] = "BOGUS" }, ErrUnknownKey},
		{"layer out of range", func(f *File) { f.Layers[0].Keys[0][0] = "MO(9)" }, ErrLayerRange},
		{"momentary base", func(f *File) { f.Layers[0].Keys[0][0] = "MO(0)" }, ErrBaseLayerRef},
		{"toggle base", func(f *File) { f.Layers[0].Keys[0][0] = "TG(0)" }, ErrBaseLayerRef},
		{"oneshot base", func(f *File) { f.Layers[0].Keys[0][0] = "OSL(0)" }, ErrBaseLayerRef},
		{"layer-tap base", func(f *File) { f.Layers[0].Keys[0][0] = "LT(0,SPC)" }, ErrBaseLayerRef},
		{"undefined macro", func(f *File) { f.Layers[0].Keys[0][0] = "MACRO(nope)" }, ErrUnknownMacro},
		{"macro index range", func(f *File) { f.Layers[0].Keys[0][0] = "MACRO(5)" }, ErrUnknownMacro},
		{"bad macro step", func(f *File) { f.Macros[0].Steps = []string{"zap:A"} }, ErrBadExpr},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := testFile()
			tc.mutate(f)
			if _, err := Compile(f); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestCompileAllowsDefaultBase(t *testing.T) {
	// DF(0) re-selects the shipped base layer; unlike MO/TG/OSL/LT it never
	// deactivates it.
	f := testFile()
	f.Layers[1].Keys[0][0] = "DF(0)"
	if _, err := Compile(f); err != nil {
		t.Fatalf("DF(0) rejected: %v", err)
	}
}

func TestCompileDuplicateNames(t *testing.T) {
	f := testFile()
	f.Layers[1].Name = "base"
	if _, err := Compile(f); err == nil {
		t.Error("duplicate layer name accepted")
	}

	f = testFile()
	f.Macros = append(f.Macros, MacroSpec{Name: "hello", Steps: []string{"tap:A"}})
	if _, err := Compile(f); err == nil {
		t.Error("duplicate macro name accepted")
	}
}

func TestSetAction(t *testing.T) {
	km, err := Compile(testFile())
	if err != nil {
		t.Fatal(err)
	}
	if err := km.SetAction(0, 0, 0, Key(keycode.KeyZ)); err != nil {
		t.Fatal(err)
	}
	if got := km.ActionAt(0, 0, 0); got != Key(keycode.KeyZ) {
		t.Errorf("after SetAction = %+v", got)
	}
	if err := km.SetAction(0, 0, 0, Action{Kind: ActionToggleLayer, Layer: 0}); !errors.Is(err, ErrBaseLayerRef) {
		t.Errorf("TG(0) err = %v", err)
	}
	if err := km.SetAction(9, 0, 0, None); !errors.Is(err, ErrLayerRange) {
		t.Errorf("bad layer err = %v", err)
	}
	if err := km.SetAction(0, 5, 5, None); err == nil {
		t.Error("out-of-matrix position accepted")
	}
}

func TestFingerprint(t *testing.T) {
	a, err := Compile(testFile())
	if err != nil {
		t.Fatal(err)
	}
	b, err := Compile(testFile())
	if err != nil {
		t.Fatal(err)
	}
	if a.Fingerprint() == "" {
		t.Fatal("empty fingerprint")
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("identical keymaps produced different fingerprints")
	}

	f := testFile()
	f.Layers[0].Keys[0][0] = "B"
	c, err := Compile(f)
	if err != nil {
		t.Fatal(err)
	}
	if c.Fingerprint() == a.Fingerprint() {
		t.Error("changed keymap kept the same fingerprint")
	}

	// SetAction does not refresh the fingerprint: overrides stay keyed by
	// the keymap they were applied to.
	fp := a.Fingerprint()
	if err := a.SetAction(0, 0, 0, Key(keycode.KeyQ)); err != nil {
		t.Fatal(err)
	}
	if a.Fingerprint() != fp {
		t.Error("SetAction changed the fingerprint")
	}
}

func TestClone(t *testing.T) {
	km, err := Compile(testFile())
	if err != nil {
		t.Fatal(err)
	}
	cl := km.Clone()
	if err := cl.SetAction(0, 0, 0, Key(keycode.KeyQ)); err != nil {
		t.Fatal(err)
	}
	if got := km.ActionAt(0, 0, 0); got != Key(keycode.KeyA) {
		t.Errorf("clone mutation leaked into original: %+v", got)
	}
}

func TestLayerAndMacroIndex(t *testing.T) {
	km, err := Compile(testFile())
	if err != nil {
		t.Fatal(err)
	}
	if i, ok := km.LayerIndex("fn"); !ok || i != 1 {
		t.Errorf("LayerIndex(fn) = %d, %v", i, ok)
	}
	if _, ok := km.LayerIndex("nope"); ok {
		t.Error("LayerIndex(nope) resolved")
	}
	if i, ok := km.MacroIndex("hello"); !ok || i != 0 {
		t.Errorf("MacroIndex(hello) = %d, %v", i, ok)
	}
}

func TestLoadByExtension(t *testing.T) {
	dir := t.TempDir()

	tomlPath := filepath.Join(dir, "keymap.toml")
	if err := os.WriteFile(tomlPath, []byte(testKeymapTOML), 0o644); err != nil {
		t.Fatal(err)
	}
	km, err := Load(tomlPath)
	if err != nil {
		t.Fatal(err)
	}
	if km.Name != "testpad" {
		t.Errorf("toml name = %q", km.Name)
	}

	yamlPath := filepath.Join(dir, "keymap.yaml")
	yamlData := `
name: testpad
matrix:
  rows: 1
  cols: 2
layers:
  - name: base
    keys:
      - ["A", "B"]
`
	if err := os.WriteFile(yamlPath, []byte(yamlData), 0o644); err != nil {
		t.Fatal(err)
	}
	km, err = Load(yamlPath)
	if err != nil {
		t.Fatal(err)
	}
	if got := km.ActionAt(0, 0, 1); got != Key(keycode.KeyB) {
		t.Errorf("yaml base[0][1] = %+v", got)
	}

	badPath := filepath.Join(dir, "keymap.ini")
	if err := os.WriteFile(badPath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(badPath); err == nil {
		t.Error("unsupported extension accepted")
	}

	if _, err := Load(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("missing file did not error")
	}
}
