package engine

import (
	"fmt"

	"keymapd/internal/keycode"
	"keymapd/internal/layout"
	"keymapd/internal/matrix"
)

// The methods in this file mutate or snapshot core state. They are safe
// only on the tick goroutine; Engine exposes them through its command
// channel.

// SwapKeymap replaces the live keymap and resets all runtime key state:
// every key releases, layers return to base, macros and one-shots clear.
// The next dispatch emits the empty report if anything was held.
func (c *Core) SwapKeymap(km *layout.Keymap) error {
	if km == nil || len(km.Layers) == 0 {
		return layout.ErrNoLayers
	}
	if c.scanner != nil {
		rows, cols := c.scanner.Dims()
		if rows != km.Rows || cols != km.Cols {
			return fmt.Errorf("engine: scanner matrix %dx%d does not match keymap %dx%d", rows, cols, km.Rows, km.Cols)
		}
	}
	c.km = km
	c.resetRuntime()
	c.events = append(c.events, Event{Kind: EventKeymapSwapped, Name: km.Name, Tick: c.tick})
	return nil
}

func (c *Core) resetRuntime() {
	c.keys = [matrix.MaxRows * matrix.MaxCols]keyState{}
	c.held = heldKeys{}
	c.oneshot = oneshotState{}
	c.macro = macroPlayer{}
	c.decisionIdx = -1
	c.pendingN = 0
	c.consumer = keycode.ConsumerNone
	c.layers.init(0)
}

// SetAction rebinds one key position on the live keymap.
func (c *Core) SetAction(layer, row, col int, a layout.Action) error {
	return c.km.SetAction(layer, row, col, a)
}

// ActivateLayer pushes a layer onto the stack. Activating the current base
// is a no-op.
func (c *Core) ActivateLayer(layer int) error {
	if err := c.checkLayer(layer); err != nil {
		return err
	}
	c.activateLayer(uint8(layer), c.tick)
	return nil
}

// DeactivateLayer removes a layer from the stack. The base layer is
// refused.
func (c *Core) DeactivateLayer(layer int) error {
	if err := c.checkLayer(layer); err != nil {
		return err
	}
	if uint8(layer) == c.layers.base() {
		return ErrBaseLayer
	}
	c.deactivateLayer(uint8(layer), c.tick)
	return nil
}

// ToggleLayer flips a layer. The base layer is refused.
func (c *Core) ToggleLayer(layer int) error {
	if err := c.checkLayer(layer); err != nil {
		return err
	}
	if uint8(layer) == c.layers.base() {
		return ErrBaseLayer
	}
	c.toggleLayer(uint8(layer), c.tick)
	return nil
}

// SetDefaultLayer replaces the base layer.
func (c *Core) SetDefaultLayer(layer int) error {
	if err := c.checkLayer(layer); err != nil {
		return err
	}
	c.setDefaultLayer(uint8(layer), c.tick)
	return nil
}

func (c *Core) checkLayer(layer int) error {
	if layer < 0 || layer >= len(c.km.Layers) {
		return fmt.Errorf("%w: %d of %d", ErrLayerRange, layer, len(c.km.Layers))
	}
	return nil
}

// Snapshot captures the engine state for status queries.
func (c *Core) Snapshot() Status {
	st := Status{
		Keymap:      c.km.Name,
		Fingerprint: c.km.Fingerprint(),
		Tick:        c.tick,
		TickHz:      c.p.TickHz,
		NKRO:        c.p.NKRO,
		Counters:    c.counters,
	}
	for i := 0; i < c.layers.depth; i++ {
		st.ActiveLayers = append(st.ActiveLayers, c.layerName(int(c.layers.order[i])))
	}
	st.DefaultLayer = c.layerName(int(c.layers.base()))
	if c.oneshot.armed {
		st.OneShot = c.layerName(int(c.oneshot.layer))
	}
	return st
}

// TakeKeyStats appends the non-zero per-key counters to dst and resets
// them. The daemon flushes these to the stats store periodically.
func (c *Core) TakeKeyStats(dst []KeyStat) []KeyStat {
	for i := range c.stats {
		s := c.stats[i]
		if s.presses == 0 && s.taps == 0 && s.holds == 0 {
			continue
		}
		dst = append(dst, KeyStat{
			Row:     uint8(i / matrix.MaxCols),
			Col:     uint8(i % matrix.MaxCols),
			Presses: s.presses,
			Taps:    s.taps,
			Holds:   s.holds,
		})
		c.stats[i] = keyStat{}
	}
	return dst
}
