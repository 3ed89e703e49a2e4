package layout

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"keymapd/internal/keycode"
)

func TestParseJSONFixture(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "keymap-v1.json"))
	if err != nil {
		t.Fatal(err)
	}
	km, err := ParseJSON(data)
	if err != nil {
		t.Fatal(err)
	}
	if km.Name != "import-pad" || km.Rows != 2 || km.Cols != 2 {
		t.Errorf("header = %q %dx%d", km.Name, km.Rows, km.Cols)
	}
	// Flat row-major layers fold into the grid.
	if got := km.ActionAt(0, 0, 1); got != Key(keycode.KeyQ) {
		t.Errorf("[0][1] = %+v", got)
	}
	if got := km.ActionAt(0, 1, 0); got != (Action{Kind: ActionLayerTap, Layer: 1, Code: keycode.KeySpace}) {
		t.Errorf("[1][0] = %+v", got)
	}
	if got := km.ActionAt(1, 1, 1); got != (Action{Kind: ActionToggleLayer, Layer: 1}) {
		t.Errorf("layer1 [1][1] = %+v", got)
	}
	if len(km.Macros) != 1 || km.Macros[0].Name != "sig" {
		t.Errorf("macros = %+v", km.Macros)
	}
}

func TestParseJSONSchemaRejections(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"not json", `{`},
		{"missing matrix", `{"layers": [["KC_A"]]}`},
		{"missing layers", `{"matrix": {"rows": 1, "cols": 1}}`},
		{"zero rows", `{"matrix": {"rows": 0, "cols": 1}, "layers": [["KC_A"]]}`},
		{"rows too large", `{"matrix": {"rows": 99, "cols": 1}, "layers": [["KC_A"]]}`},
		{"layer not strings", `{"matrix": {"rows": 1, "cols": 1}, "layers": [[4]]}`},
		{"unknown property", `{"matrix": {"rows": 1, "cols": 1}, "layers": [["KC_A"]], "encoders": []}`},
		{"macro missing steps", `{"matrix": {"rows": 1, "cols": 1}, "layers": [["KC_A"]], "macros": [{"name": "m"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseJSON([]byte(tc.doc)); err == nil {
				t.Error("invalid document accepted")
			}
		})
	}
}

func TestParseJSONFlatLengthMismatch(t *testing.T) {
	doc := `{"matrix": {"rows": 2, "cols": 2}, "layers": [["KC_A", "KC_B", "KC_C"]]}`
	_, err := ParseJSON([]byte(doc))
	if !errors.Is(err, ErrGridShape) {
		t.Errorf("err = %v, want ErrGridShape", err)
	}
}

func TestParseJSONCompileErrorsStillApply(t *testing.T) {
	// The schema checks shape only; key expressions and layer references
	// are still compile-time errors.
	doc := `{"matrix": {"rows": 1, "cols": 1}, "layers": [["MO(0)"]]}`
	if _, err := ParseJSON([]byte(doc)); !errors.Is(err, ErrBaseLayerRef) {
		t.Errorf("err = %v, want ErrBaseLayerRef", err)
	}
	doc = `{"matrix": {"rows": 1, "cols": 1}, "layers": [["KC_BOGUS"]]}`
	if _, err := ParseJSON([]byte(doc)); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("err = %v, want ErrUnknownKey", err)
	}
}
