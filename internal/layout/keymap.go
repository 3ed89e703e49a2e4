package layout

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"keymapd/internal/matrix"
)

// Keymap capacity limits. Layer grids are fixed arrays, so these bound the
// memory of a compiled keymap, not of every keymap file.
const (
	MaxLayers     = 16
	MaxMacros     = 32
	MaxMacroSteps = 64
)

// File is the raw decoded form of a keymap file, shared by the TOML and
// YAML encodings. JSON uses the Via-style flat form in json.go.
type File struct {
	Name   string      `toml:"name" yaml:"name"`
	Matrix MatrixSpec  `toml:"matrix" yaml:"matrix"`
	Layers []LayerSpec `toml:"layers" yaml:"layers"`
	Macros []MacroSpec `toml:"macros" yaml:"macros"`
}

type MatrixSpec struct {
	Rows int `toml:"rows" yaml:"rows" json:"rows"`
	Cols int `toml:"cols" yaml:"cols" json:"cols"`
}

type LayerSpec struct {
	Name string     `toml:"name" yaml:"name"`
	Keys [][]string `toml:"keys" yaml:"keys"`
}

type MacroSpec struct {
	Name  string   `toml:"name" yaml:"name" json:"name"`
	Steps []string `toml:"steps" yaml:"steps" json:"steps"`
}

// Layer is a compiled layer: one action per matrix position. The grid is a
// fixed array so the engine reads it without indirection; positions outside
// the keymap's dimensions hold None.
type Layer struct {
	Name string
	keys [matrix.MaxRows][matrix.MaxCols]Action
}

// At returns the action at a position. Out-of-range positions are None.
func (l *Layer) At(row, col int) Action {
	if row < 0 || row >= matrix.MaxRows || col < 0 || col >= matrix.MaxCols {
		return None
	}
	return l.keys[row][col]
}

// Keymap is a compiled, validated keymap. It is immutable except through
// SetAction, which the engine serializes.
type Keymap struct {
	Name   string
	Rows   int
	Cols   int
	Layers []Layer
	Macros []Macro

	fp string
}

// Load reads and compiles a keymap file, dispatching on the extension:
// .toml, .yaml/.yml, or .json (Via-style import).
func Load(path string) (*Keymap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keymap: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return ParseTOML(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".json":
		return ParseJSON(data)
	default:
		return nil, fmt.Errorf("layout: unsupported keymap format %q", filepath.Ext(path))
	}
}

// ParseTOML compiles a keymap from its TOML encoding.
func ParseTOML(data []byte) (*Keymap, error) {
	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse keymap toml: %w", err)
	}
	return Compile(&f)
}

// ParseYAML compiles a keymap from its YAML encoding.
func ParseYAML(data []byte) (*Keymap, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse keymap yaml: %w", err)
	}
	return Compile(&f)
}

// Compile validates a raw keymap file and builds the fixed-grid form. All
// boot validation happens here: dimension bounds, grid shape, unknown keys,
// layer references out of range, and any action that would deactivate the
// base layer.
func Compile(f *File) (*Keymap, error) {
	rows, cols := f.Matrix.Rows, f.Matrix.Cols
	if rows < 1 || rows > matrix.MaxRows || cols < 1 || cols > matrix.MaxCols {
		return nil, fmt.Errorf("%w: %dx%d (max %dx%d)", matrix.ErrDimensions, rows, cols, matrix.MaxRows, matrix.MaxCols)
	}
	if len(f.Layers) == 0 {
		return nil, ErrNoLayers
	}
	if len(f.Layers) > MaxLayers {
		return nil, fmt.Errorf("layout: %d layers exceeds the maximum of %d", len(f.Layers), MaxLayers)
	}
	if len(f.Macros) > MaxMacros {
		return nil, fmt.Errorf("layout: %d macros exceeds the maximum of %d", len(f.Macros), MaxMacros)
	}

	km := &Keymap{
		Name: f.Name,
		Rows: rows,
		Cols: cols,
	}

	seenMacros := make(map[string]bool, len(f.Macros))
	for i, spec := range f.Macros {
		if spec.Name == "" {
			return nil, fmt.Errorf("layout: macros[%d] has no name", i)
		}
		if seenMacros[spec.Name] {
			return nil, fmt.Errorf("layout: duplicate macro name %q", spec.Name)
		}
		seenMacros[spec.Name] = true
		m, err := compileMacro(spec)
		if err != nil {
			return nil, fmt.Errorf("macros[%d] (%q): %w", i, spec.Name, err)
		}
		km.Macros = append(km.Macros, m)
	}

	resolve := func(name string) (int, bool) {
		return km.MacroIndex(name)
	}

	km.Layers = make([]Layer, len(f.Layers))
	seenLayers := make(map[string]bool, len(f.Layers))
	for li, spec := range f.Layers {
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("layer%d", li)
		}
		if seenLayers[name] {
			return nil, fmt.Errorf("layout: duplicate layer name %q", name)
		}
		seenLayers[name] = true
		km.Layers[li].Name = name

		if len(spec.Keys) != rows {
			return nil, fmt.Errorf("%w: layers[%d] (%q) has %d rows, want %d", ErrGridShape, li, name, len(spec.Keys), rows)
		}
		for r, rowKeys := range spec.Keys {
			if len(rowKeys) != cols {
				return nil, fmt.Errorf("%w: layers[%d] (%q) row %d has %d keys, want %d", ErrGridShape, li, name, r, len(rowKeys), cols)
			}
			for c, expr := range rowKeys {
				a, err := ParseExprWith(expr, resolve)
				if err != nil {
					return nil, fmt.Errorf("layers[%d] (%q) keys[%d][%d]: %w", li, name, r, c, err)
				}
				if err := validateAction(a, len(f.Layers), len(km.Macros)); err != nil {
					return nil, fmt.Errorf("layers[%d] (%q) keys[%d][%d] (%s): %w", li, name, r, c, expr, err)
				}
				km.Layers[li].keys[r][c] = a
			}
		}
	}

	km.fp = km.fingerprint()
	return km, nil
}

// validateAction checks the semantic constraints a single action must meet
// within a keymap: referenced layers exist, the base layer is never the
// target of a deactivating reference, and macro indices are in range.
func validateAction(a Action, layerCount, macroCount int) error {
	switch a.Kind {
	case ActionMomentaryLayer, ActionToggleLayer, ActionOneShotLayer, ActionLayerTap:
		if int(a.Layer) >= layerCount {
			return fmt.Errorf("%w: layer %d of %d", ErrLayerRange, a.Layer, layerCount)
		}
		if a.Layer == 0 {
			// The base layer is pinned; activating it momentarily or
			// toggling it would pop it on release.
			return ErrBaseLayerRef
		}
	case ActionDefaultLayer:
		if int(a.Layer) >= layerCount {
			return fmt.Errorf("%w: layer %d of %d", ErrLayerRange, a.Layer, layerCount)
		}
	case ActionMacro:
		if int(a.Macro) >= macroCount {
			return fmt.Errorf("%w: index %d of %d", ErrUnknownMacro, a.Macro, macroCount)
		}
	}
	return nil
}

// ActionAt returns the action at (layer, row, col). Out-of-range
// coordinates return None.
func (k *Keymap) ActionAt(layer, row, col int) Action {
	if layer < 0 || layer >= len(k.Layers) {
		return None
	}
	if row < 0 || row >= k.Rows || col < 0 || col >= k.Cols {
		return None
	}
	return k.Layers[layer].keys[row][col]
}

// SetAction rebinds one position. The action is validated against the
// keymap the same way Compile validates it. The fingerprint is not
// refreshed: runtime overrides are keyed by the fingerprint of the keymap
// they were applied to.
func (k *Keymap) SetAction(layer, row, col int, a Action) error {
	if layer < 0 || layer >= len(k.Layers) {
		return fmt.Errorf("%w: layer %d of %d", ErrLayerRange, layer, len(k.Layers))
	}
	if row < 0 || row >= k.Rows || col < 0 || col >= k.Cols {
		return fmt.Errorf("layout: position r%dc%d outside %dx%d matrix", row, col, k.Rows, k.Cols)
	}
	if err := validateAction(a, len(k.Layers), len(k.Macros)); err != nil {
		return err
	}
	k.Layers[layer].keys[row][col] = a
	return nil
}

// LayerIndex resolves a layer name.
func (k *Keymap) LayerIndex(name string) (int, bool) {
	for i := range k.Layers {
		if k.Layers[i].Name == name {
			return i, true
		}
	}
	return 0, false
}

// MacroIndex resolves a macro name.
func (k *Keymap) MacroIndex(name string) (int, bool) {
	for i := range k.Macros {
		if k.Macros[i].Name == name {
			return i, true
		}
	}
	return 0, false
}

// Fingerprint is a stable digest of the compiled keymap, computed at
// compile time. Stored keymap overrides are keyed by it so a changed keymap
// file invalidates them.
func (k *Keymap) Fingerprint() string {
	return k.fp
}

// Clone returns an independent copy. Layer grids are arrays, so the copy
// shares nothing with the original.
func (k *Keymap) Clone() *Keymap {
	c := *k
	c.Layers = make([]Layer, len(k.Layers))
	copy(c.Layers, k.Layers)
	c.Macros = make([]Macro, len(k.Macros))
	for i, m := range k.Macros {
		c.Macros[i] = Macro{Name: m.Name, Steps: append([]MacroStep(nil), m.Steps...)}
	}
	return &c
}

func (k *Keymap) fingerprint() string {
	h := sha256.New()
	var buf [8]byte

	writeStr := func(s string) {
		binary.BigEndian.PutUint32(buf[:4], uint32(len(s)))
		h.Write(buf[:4])
		h.Write([]byte(s))
	}

	writeStr(k.Name)
	binary.BigEndian.PutUint32(buf[:4], uint32(k.Rows))
	binary.BigEndian.PutUint32(buf[4:8], uint32(k.Cols))
	h.Write(buf[:8])

	for i := range k.Layers {
		l := &k.Layers[i]
		writeStr(l.Name)
		for r := 0; r < k.Rows; r++ {
			for c := 0; c < k.Cols; c++ {
				a := l.keys[r][c]
				buf[0] = byte(a.Kind)
				buf[1] = byte(a.Code)
				buf[2] = byte(a.Mods)
				buf[3] = a.Layer
				binary.BigEndian.PutUint16(buf[4:6], uint16(a.Consumer))
				buf[6] = a.Macro
				h.Write(buf[:7])
			}
		}
	}
	for _, m := range k.Macros {
		writeStr(m.Name)
		for _, s := range m.Steps {
			buf[0] = byte(s.Op)
			buf[1] = byte(s.Code)
			buf[2] = byte(s.Mods)
			binary.BigEndian.PutUint16(buf[3:5], s.WaitMS)
			h.Write(buf[:5])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
