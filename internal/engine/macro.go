package engine

import (
	"keymapd/internal/keycode"
	"keymapd/internal/layout"
)

// macroPlayer steps through one macro at a time. Taps occupy two report
// cycles (press, then a release cycle of their own) so repeated characters
// stay visible to the host; press and release steps run back to back within
// a cycle so chords come out as one report.
type macroPlayer struct {
	active  bool
	idx     uint8
	step    int
	wait    uint64
	tapDown bool
	tapCode keycode.Code
	tapMods keycode.Modifiers
}

func (m *macroPlayer) start(idx uint8) {
	*m = macroPlayer{active: true, idx: idx}
}

func (m *macroPlayer) advance(c *Core) {
	if !m.active {
		return
	}
	if m.tapDown {
		c.held.release(m.tapCode, m.tapMods)
		m.tapDown = false
		return
	}
	if m.wait > 0 {
		m.wait--
		return
	}
	steps := c.km.Macros[m.idx].Steps
	for m.step < len(steps) {
		s := steps[m.step]
		m.step++
		switch s.Op {
		case layout.MacroTap:
			c.held.press(s.Code, s.Mods)
			m.tapDown = true
			m.tapCode = s.Code
			m.tapMods = s.Mods
			return
		case layout.MacroPress:
			c.held.press(s.Code, 0)
		case layout.MacroRelease:
			c.held.release(s.Code, 0)
		case layout.MacroWait:
			m.wait = c.p.ticksFromMS(uint64(s.WaitMS))
			return
		}
	}
	m.active = false
}
