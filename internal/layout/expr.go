package layout

import (
	"fmt"
	"strconv"
	"strings"

	"keymapd/internal/keycode"
)

// MacroResolver resolves a macro name to its index in the keymap's macro
// table. ParseExprWith uses it for MACRO(name) expressions.
type MacroResolver func(name string) (idx int, ok bool)

// ParseExpr parses a single key expression as written in a keymap grid:
// a key name ("A", "LSFT", "MUTE"), a layer function ("MO(1)", "TG(2)",
// "DF(1)", "OSL(3)"), a dual-role key ("LT(1,SPC)", "MT(LCTL|LSFT,ESC)"),
// a modified key ("LSFT(1)"), a macro ("MACRO(2)"), "NO"/"XXXXX" for a
// blocked key, or "TRNS"/"_____" for transparency. Macro references must be
// numeric; use ParseExprWith to resolve names.
func ParseExpr(s string) (Action, error) {
	return ParseExprWith(s, nil)
}

// ParseExprWith is ParseExpr with a macro name resolver for MACRO(name)
// expressions.
func ParseExprWith(s string, macros MacroResolver) (Action, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Action{}, fmt.Errorf("%w: empty expression", ErrBadExpr)
	}
	upper := strings.ToUpper(s)
	if isRun(upper, '_', 1) || upper == "TRNS" {
		return Transparent, nil
	}
	if isRun(upper, 'X', 2) || upper == "NO" || upper == "NONE" {
		return None, nil
	}
	if open := strings.IndexByte(s, '('); open >= 0 {
		if !strings.HasSuffix(s, ")") {
			return Action{}, fmt.Errorf("%w: %q", ErrBadExpr, s)
		}
		op := strings.ToUpper(strings.TrimSpace(s[:open]))
		args := s[open+1 : len(s)-1]
		return parseFunc(op, args, s, macros)
	}
	if strings.HasPrefix(upper, "0X") {
		v, err := strconv.ParseUint(s, 0, 8)
		if err != nil {
			return Action{}, fmt.Errorf("%w: %q", ErrBadExpr, s)
		}
		return Key(keycode.Code(v)), nil
	}
	if c, ok := keycode.Lookup(s); ok {
		return Key(c), nil
	}
	if c, ok := keycode.LookupConsumer(s); ok {
		return Action{Kind: ActionConsumer, Consumer: c}, nil
	}
	return Action{}, fmt.Errorf("%w: %q", ErrUnknownKey, s)
}

func parseFunc(op, args, full string, macros MacroResolver) (Action, error) {
	switch op {
	case "MO", "TG", "DF", "OSL":
		layer, err := parseLayerArg(args, full)
		if err != nil {
			return Action{}, err
		}
		kind := map[string]ActionKind{
			"MO":  ActionMomentaryLayer,
			"TG":  ActionToggleLayer,
			"DF":  ActionDefaultLayer,
			"OSL": ActionOneShotLayer,
		}[op]
		return Action{Kind: kind, Layer: layer}, nil

	case "LT":
		parts := strings.Split(args, ",")
		if len(parts) != 2 {
			return Action{}, fmt.Errorf("%w: %q wants LT(layer,key)", ErrBadExpr, full)
		}
		layer, err := parseLayerArg(parts[0], full)
		if err != nil {
			return Action{}, err
		}
		code, ok := keycode.Lookup(parts[1])
		if !ok {
			return Action{}, fmt.Errorf("%w: %q in %q", ErrUnknownKey, strings.TrimSpace(parts[1]), full)
		}
		return Action{Kind: ActionLayerTap, Layer: layer, Code: code}, nil

	case "MT":
		parts := strings.Split(args, ",")
		if len(parts) != 2 {
			return Action{}, fmt.Errorf("%w: %q wants MT(mods,key)", ErrBadExpr, full)
		}
		mods, ok := parseModList(parts[0])
		if !ok {
			return Action{}, fmt.Errorf("%w: %q is not a modifier list in %q", ErrBadExpr, strings.TrimSpace(parts[0]), full)
		}
		code, ok := keycode.Lookup(parts[1])
		if !ok {
			return Action{}, fmt.Errorf("%w: %q in %q", ErrUnknownKey, strings.TrimSpace(parts[1]), full)
		}
		return Action{Kind: ActionModTap, Mods: mods, Code: code}, nil

	case "MACRO", "M":
		arg := strings.TrimSpace(args)
		if idx, err := strconv.Atoi(arg); err == nil {
			if idx < 0 || idx >= MaxMacros {
				return Action{}, fmt.Errorf("%w: macro index %d in %q", ErrBadExpr, idx, full)
			}
			return Action{Kind: ActionMacro, Macro: uint8(idx)}, nil
		}
		if macros != nil {
			if idx, ok := macros(arg); ok {
				return Action{Kind: ActionMacro, Macro: uint8(idx)}, nil
			}
		}
		return Action{}, fmt.Errorf("%w: %q", ErrUnknownMacro, arg)

	case "CONSUMER":
		v, err := strconv.ParseUint(strings.TrimSpace(args), 0, 16)
		if err != nil {
			return Action{}, fmt.Errorf("%w: %q", ErrBadExpr, full)
		}
		return Action{Kind: ActionConsumer, Consumer: keycode.Consumer(v)}, nil
	}

	// Anything else must be a modifier wrap, e.g. LSFT(1) or LCTL|LALT(DEL).
	if mods, ok := parseModList(op); ok {
		code, found := keycode.Lookup(args)
		if !found {
			return Action{}, fmt.Errorf("%w: %q in %q", ErrUnknownKey, strings.TrimSpace(args), full)
		}
		return Action{Kind: ActionKey, Code: code, Mods: mods}, nil
	}
	return Action{}, fmt.Errorf("%w: unknown operator %q", ErrBadExpr, op)
}

func parseLayerArg(s, full string) (uint8, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 || n >= MaxLayers {
		return 0, fmt.Errorf("%w: layer %q in %q", ErrBadExpr, strings.TrimSpace(s), full)
	}
	return uint8(n), nil
}

// parseModList parses "LSFT", "LCTL|LSFT", "LALT+LGUI". Every element must
// be a modifier usage.
func parseModList(s string) (keycode.Modifiers, bool) {
	s = strings.ReplaceAll(s, "+", "|")
	var mods keycode.Modifiers
	for _, part := range strings.Split(s, "|") {
		name := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(part)), "MOD_")
		c, ok := keycode.Lookup(name)
		if !ok || !c.IsModifier() {
			return 0, false
		}
		mods |= c.Modifier()
	}
	return mods, mods != 0
}

func isRun(s string, ch byte, min int) bool {
	if len(s) < min {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] != ch {
			return false
		}
	}
	return true
}
