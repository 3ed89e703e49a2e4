package layout

import (
	"fmt"
	"strconv"
	"strings"

	"keymapd/internal/keycode"
)

// MacroOp is one kind of macro step.
type MacroOp uint8

const (
	// MacroTap presses Code (with Mods) for one report cycle, then
	// releases it.
	MacroTap MacroOp = iota
	// MacroPress holds Code down until a matching MacroRelease.
	MacroPress
	// MacroRelease releases a held Code.
	MacroRelease
	// MacroWait pauses playback for WaitMS milliseconds.
	MacroWait
)

// MacroStep is one compiled step of a macro. Text steps are expanded into
// tap steps at compile time so playback never parses.
type MacroStep struct {
	Op     MacroOp
	Code   keycode.Code
	Mods   keycode.Modifiers
	WaitMS uint16
}

// Macro is a named, compiled step sequence.
type Macro struct {
	Name  string
	Steps []MacroStep
}

// compileMacro parses the step strings of a macro spec. Steps use the form
// "op:arg": tap:KEY, press:KEY, release:KEY, wait:MS, text:STRING. Text
// expands into one shift-aware tap per rune.
func compileMacro(spec MacroSpec) (Macro, error) {
	m := Macro{Name: spec.Name}
	for i, raw := range spec.Steps {
		op, arg, ok := strings.Cut(raw, ":")
		if !ok {
			return Macro{}, fmt.Errorf("steps[%d]: %w: %q wants op:arg", i, ErrBadExpr, raw)
		}
		op = strings.ToLower(strings.TrimSpace(op))
		switch op {
		case "tap", "press", "release":
			code, found := keycode.Lookup(arg)
			if !found {
				return Macro{}, fmt.Errorf("steps[%d]: %w: %q", i, ErrUnknownKey, strings.TrimSpace(arg))
			}
			kind := map[string]MacroOp{"tap": MacroTap, "press": MacroPress, "release": MacroRelease}[op]
			m.Steps = append(m.Steps, MacroStep{Op: kind, Code: code})
		case "wait":
			ms, err := strconv.Atoi(strings.TrimSpace(arg))
			if err != nil || ms < 0 || ms > 65535 {
				return Macro{}, fmt.Errorf("steps[%d]: %w: wait %q", i, ErrBadExpr, strings.TrimSpace(arg))
			}
			m.Steps = append(m.Steps, MacroStep{Op: MacroWait, WaitMS: uint16(ms)})
		case "text":
			// The argument is taken verbatim, including leading spaces.
			for _, r := range arg {
				code, mods, found := keycode.ForRune(r)
				if !found {
					return Macro{}, fmt.Errorf("steps[%d]: %w: rune %q has no key", i, ErrUnknownKey, r)
				}
				m.Steps = append(m.Steps, MacroStep{Op: MacroTap, Code: code, Mods: mods})
			}
		default:
			return Macro{}, fmt.Errorf("steps[%d]: %w: unknown op %q", i, ErrBadExpr, op)
		}
	}
	if len(m.Steps) > MaxMacroSteps {
		return Macro{}, fmt.Errorf("layout: macro %q compiles to %d steps, maximum is %d", spec.Name, len(m.Steps), MaxMacroSteps)
	}
	return m, nil
}
