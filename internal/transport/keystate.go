package transport

import (
	"keymapd/internal/engine"
	"keymapd/internal/keycode"
)

// keyTransition is one synthesized key edge.
type keyTransition struct {
	usage   keycode.Code
	pressed bool
}

// keyState tracks which usages the backend has written as pressed, so each
// report turns into the minimal set of key edges. Modifiers are tracked as
// a mask; they never appear in a report's key slots.
type keyState struct {
	mods keycode.Modifiers
	held [256]bool
}

// transitions appends the edges that move the device from the tracked state
// to the report and updates the tracked state. Releases come first and
// presses last, with modifier edges between them, so a modifier is always
// down before the key it modifies and lifts after it. Passing a zero
// Report releases everything.
func (s *keyState) transitions(r engine.Report, out []keyTransition) []keyTransition {
	var target [256]bool
	if r.Keys[0] == keycode.CodeErrRollOver {
		// Rolled over: the boot slots carry no usable state, the bitmap
		// does. Usages past the bitmap range cannot be represented while
		// rolled over, so their last known state stands.
		for c := 0; c < engine.NKROBitmapLen*8; c++ {
			target[c] = r.Bitmap[c>>3]&(1<<(c&7)) != 0
		}
		copy(target[engine.NKROBitmapLen*8:], s.held[engine.NKROBitmapLen*8:])
	} else {
		for _, k := range r.Keys {
			if k != keycode.CodeNone {
				target[k] = true
			}
		}
	}

	for c := 1; c < 256; c++ {
		if s.held[c] && !target[c] {
			out = append(out, keyTransition{usage: keycode.Code(c), pressed: false})
		}
	}
	for b := 0; b < 8; b++ {
		bit := keycode.Modifiers(1) << b
		if s.mods&bit != 0 && r.Mods&bit == 0 {
			out = append(out, keyTransition{usage: keycode.KeyLeftCtrl + keycode.Code(b), pressed: false})
		}
	}
	for b := 0; b < 8; b++ {
		bit := keycode.Modifiers(1) << b
		if s.mods&bit == 0 && r.Mods&bit != 0 {
			out = append(out, keyTransition{usage: keycode.KeyLeftCtrl + keycode.Code(b), pressed: true})
		}
	}
	for c := 1; c < 256; c++ {
		if !s.held[c] && target[c] {
			out = append(out, keyTransition{usage: keycode.Code(c), pressed: true})
		}
	}

	s.held = target
	s.mods = r.Mods
	return out
}
