package engine

import (
	"fmt"

	"keymapd/internal/keycode"
)

// BootKeys is the number of key slots in a boot-protocol keyboard report.
const BootKeys = 6

// NKROBitmapLen is the size of the NKRO key bitmap: usages 0x00-0x77, one bit
// each.
const NKROBitmapLen = 15

// Report is one keyboard input report. The boot form carries the first six
// held keys in press order; the NKRO form carries a bitmap. Both forms are
// filled on every build so a Report compares with == regardless of which
// form the transport writes.
type Report struct {
	Mods   keycode.Modifiers
	Keys   [BootKeys]keycode.Code
	Bitmap [NKROBitmapLen]byte
	NKRO   bool
}

// BootBytes encodes the 8-byte boot report: modifiers, reserved, six key
// slots.
func (r *Report) BootBytes() [8]byte {
	var b [8]byte
	b[0] = byte(r.Mods)
	for i, k := range r.Keys {
		b[2+i] = byte(k)
	}
	return b
}

// NKROBytes encodes the 16-byte NKRO report: modifiers followed by the key
// bitmap.
func (r *Report) NKROBytes() [1 + NKROBitmapLen]byte {
	var b [1 + NKROBitmapLen]byte
	b[0] = byte(r.Mods)
	copy(b[1:], r.Bitmap[:])
	return b
}

func (r Report) String() string {
	if r.Keys[0] == keycode.CodeErrRollOver {
		return fmt.Sprintf("[%s rollover]", r.Mods)
	}
	s := "["
	if r.Mods != 0 {
		s += r.Mods.String()
	}
	for _, k := range r.Keys {
		if k == keycode.CodeNone {
			break
		}
		if len(s) > 1 {
			s += " "
		}
		name := k.Name()
		if name == "" {
			name = fmt.Sprintf("0x%02X", uint8(k))
		}
		s += name
	}
	return s + "]"
}

// ConsumerReport is one consumer-page report: the single active usage, or
// zero when released.
type ConsumerReport struct {
	Usage keycode.Consumer
}

// heldKeys tracks the usages currently registered by key state machines and
// macro playback. Modifier bits and key usages are reference counted: the
// same usage can be held from more than one source (two positions bound to
// the same key, a mod-tap hold plus a plain modifier) and must stay in the
// report until every source releases it. Insertion order is kept so boot
// report slots are stable.
type heldKeys struct {
	order  [maxHeld]keycode.Code
	counts [maxHeld]uint8
	n      int
	mods   [8]uint8
}

// maxHeld bounds simultaneously held non-modifier usages.
const maxHeld = 32

// press registers a usage and modifier mask. Modifier usages count into the
// mask, not the key list.
func (h *heldKeys) press(code keycode.Code, mods keycode.Modifiers) {
	h.pressMods(mods)
	if code == keycode.CodeNone {
		return
	}
	if code.IsModifier() {
		h.pressMods(code.Modifier())
		return
	}
	for i := 0; i < h.n; i++ {
		if h.order[i] == code {
			h.counts[i]++
			return
		}
	}
	if h.n == maxHeld {
		return
	}
	h.order[h.n] = code
	h.counts[h.n] = 1
	h.n++
}

// release unregisters a usage and modifier mask previously passed to press.
func (h *heldKeys) release(code keycode.Code, mods keycode.Modifiers) {
	h.releaseMods(mods)
	if code == keycode.CodeNone {
		return
	}
	if code.IsModifier() {
		h.releaseMods(code.Modifier())
		return
	}
	for i := 0; i < h.n; i++ {
		if h.order[i] != code {
			continue
		}
		h.counts[i]--
		if h.counts[i] == 0 {
			copy(h.order[i:h.n-1], h.order[i+1:h.n])
			copy(h.counts[i:h.n-1], h.counts[i+1:h.n])
			h.n--
		}
		return
	}
}

func (h *heldKeys) pressMods(mods keycode.Modifiers) {
	for b := 0; b < 8; b++ {
		if mods&(keycode.Modifiers(1)<<b) != 0 && h.mods[b] < 255 {
			h.mods[b]++
		}
	}
}

func (h *heldKeys) releaseMods(mods keycode.Modifiers) {
	for b := 0; b < 8; b++ {
		if mods&(keycode.Modifiers(1)<<b) != 0 && h.mods[b] > 0 {
			h.mods[b]--
		}
	}
}

func (h *heldKeys) modifierMask() keycode.Modifiers {
	var m keycode.Modifiers
	for b := 0; b < 8; b++ {
		if h.mods[b] > 0 {
			m |= keycode.Modifiers(1) << b
		}
	}
	return m
}

// buildReport fills a Report from the held state. With more than six keys
// held, every boot slot carries ErrRollOver; the NKRO bitmap is exact
// either way.
func (h *heldKeys) buildReport(nkro bool) Report {
	r := Report{Mods: h.modifierMask(), NKRO: nkro}
	if h.n > BootKeys {
		for i := range r.Keys {
			r.Keys[i] = keycode.CodeErrRollOver
		}
	} else {
		for i := 0; i < h.n; i++ {
			r.Keys[i] = h.order[i]
		}
	}
	for i := 0; i < h.n; i++ {
		c := h.order[i]
		if int(c) < NKROBitmapLen*8 {
			r.Bitmap[c>>3] |= 1 << (c & 7)
		}
	}
	return r
}
