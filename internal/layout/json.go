package layout

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/keymap-v1.schema.json
var keymapSchemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func importSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("keymap-v1.schema.json", bytes.NewReader(keymapSchemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("keymap-v1.schema.json")
	})
	return schema, schemaErr
}

// viaFile is the JSON import form: Via-style flat layers, each a row-major
// array of rows*cols key expressions.
type viaFile struct {
	Name   string      `json:"name"`
	Matrix MatrixSpec  `json:"matrix"`
	Layers [][]string  `json:"layers"`
	Macros []MacroSpec `json:"macros"`
}

// ParseJSON compiles a keymap from its JSON import form. The document is
// validated against the embedded keymap schema before decoding, so shape
// errors surface with schema paths instead of compile errors.
func ParseJSON(data []byte) (*Keymap, error) {
	s, err := importSchema()
	if err != nil {
		return nil, fmt.Errorf("compile keymap schema: %w", err)
	}
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("parse keymap json: %w", err)
	}
	if err := s.Validate(instance); err != nil {
		return nil, fmt.Errorf("keymap json: %w", err)
	}

	var vf viaFile
	if err := json.Unmarshal(data, &vf); err != nil {
		return nil, fmt.Errorf("parse keymap json: %w", err)
	}

	f := File{Name: vf.Name, Matrix: vf.Matrix, Macros: vf.Macros}
	want := vf.Matrix.Rows * vf.Matrix.Cols
	for li, flat := range vf.Layers {
		if len(flat) != want {
			return nil, fmt.Errorf("%w: layers[%d] has %d keys, want %d (%dx%d)",
				ErrGridShape, li, len(flat), want, vf.Matrix.Rows, vf.Matrix.Cols)
		}
		keys := make([][]string, vf.Matrix.Rows)
		for r := 0; r < vf.Matrix.Rows; r++ {
			keys[r] = flat[r*vf.Matrix.Cols : (r+1)*vf.Matrix.Cols]
		}
		f.Layers = append(f.Layers, LayerSpec{Name: fmt.Sprintf("layer%d", li), Keys: keys})
	}
	return Compile(&f)
}
