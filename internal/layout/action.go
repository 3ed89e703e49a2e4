// Package layout models keymaps: the action bound to every key position on
// every layer, plus macros. Keymaps load from TOML, YAML, or Via-style JSON,
// are validated before use, and compile into fixed-size layer grids the
// engine can read without allocation.
package layout

import (
	"errors"
	"fmt"

	"keymapd/internal/keycode"
)

// ActionKind discriminates the Action variant.
type ActionKind uint8

const (
	// ActionNone does nothing and stops layer fall-through.
	ActionNone ActionKind = iota
	// ActionTransparent defers to the next lower active layer.
	ActionTransparent
	// ActionKey emits a keyboard usage, optionally with held modifiers.
	ActionKey
	// ActionConsumer emits a consumer-page usage.
	ActionConsumer
	// ActionMomentaryLayer holds a layer active while the key is down.
	ActionMomentaryLayer
	// ActionToggleLayer flips a layer on key press.
	ActionToggleLayer
	// ActionDefaultLayer replaces the base layer.
	ActionDefaultLayer
	// ActionOneShotLayer arms a layer for exactly the next resolved key.
	ActionOneShotLayer
	// ActionLayerTap is a dual-role key: hold for a momentary layer, tap
	// for a keyboard usage.
	ActionLayerTap
	// ActionModTap is a dual-role key: hold for modifiers, tap for a
	// keyboard usage.
	ActionModTap
	// ActionMacro plays a macro from the keymap's macro table.
	ActionMacro
)

var kindNames = map[ActionKind]string{
	ActionNone:           "none",
	ActionTransparent:    "transparent",
	ActionKey:            "key",
	ActionConsumer:       "consumer",
	ActionMomentaryLayer: "momentary-layer",
	ActionToggleLayer:    "toggle-layer",
	ActionDefaultLayer:   "default-layer",
	ActionOneShotLayer:   "oneshot-layer",
	ActionLayerTap:       "layer-tap",
	ActionModTap:         "mod-tap",
	ActionMacro:          "macro",
}

func (k ActionKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Action is what a key position does on one layer. It is a tagged variant:
// Kind selects which of the remaining fields are meaningful. Actions are
// plain values, comparable and copied freely.
type Action struct {
	Kind     ActionKind
	Code     keycode.Code      // ActionKey; tap key of LayerTap and ModTap
	Mods     keycode.Modifiers // held mods of ActionKey; hold mods of ModTap
	Layer    uint8             // layer-referencing kinds
	Consumer keycode.Consumer  // ActionConsumer
	Macro    uint8             // ActionMacro: index into the macro table
}

// Common actions.
var (
	None        = Action{Kind: ActionNone}
	Transparent = Action{Kind: ActionTransparent}
)

// Key returns a plain key action.
func Key(c keycode.Code) Action {
	return Action{Kind: ActionKey, Code: c}
}

// String renders the action in keymap expression form, the inverse of
// ParseExpr.
func (a Action) String() string {
	switch a.Kind {
	case ActionNone:
		return "NO"
	case ActionTransparent:
		return "TRNS"
	case ActionKey:
		name := a.Code.Name()
		if name == "" {
			name = fmt.Sprintf("0x%02X", uint8(a.Code))
		}
		if a.Mods != 0 {
			return fmt.Sprintf("%s(%s)", a.Mods, name)
		}
		return name
	case ActionConsumer:
		if name := a.Consumer.Name(); name != "" {
			return name
		}
		return fmt.Sprintf("CONSUMER(0x%03X)", uint16(a.Consumer))
	case ActionMomentaryLayer:
		return fmt.Sprintf("MO(%d)", a.Layer)
	case ActionToggleLayer:
		return fmt.Sprintf("TG(%d)", a.Layer)
	case ActionDefaultLayer:
		return fmt.Sprintf("DF(%d)", a.Layer)
	case ActionOneShotLayer:
		return fmt.Sprintf("OSL(%d)", a.Layer)
	case ActionLayerTap:
		return fmt.Sprintf("LT(%d,%s)", a.Layer, a.Code.Name())
	case ActionModTap:
		return fmt.Sprintf("MT(%s,%s)", a.Mods, a.Code.Name())
	case ActionMacro:
		return fmt.Sprintf("MACRO(%d)", a.Macro)
	}
	return kindNames[a.Kind]
}

// IsDual reports whether the action is a dual-role (tap/hold) key.
func (a Action) IsDual() bool {
	return a.Kind == ActionLayerTap || a.Kind == ActionModTap
}

var (
	ErrBadExpr      = errors.New("layout: malformed key expression")
	ErrUnknownKey   = errors.New("layout: unknown key")
	ErrNoLayers     = errors.New("layout: keymap has no layers")
	ErrGridShape    = errors.New("layout: layer grid does not match matrix dimensions")
	ErrLayerRange   = errors.New("layout: layer reference out of range")
	ErrBaseLayerRef = errors.New("layout: action would deactivate the base layer")
	ErrUnknownMacro = errors.New("layout: unknown macro")
)
