package engine

import (
	"fmt"

	"keymapd/internal/keycode"
	"keymapd/internal/layout"
	"keymapd/internal/matrix"
)

// keyPhase is the per-key state machine phase. Debounce is not a phase
// here: the scanner only delivers confirmed edges, so a key is Idle until
// its press confirms.
type keyPhase uint8

const (
	phaseIdle keyPhase = iota
	// phasePressed covers a confirmed press: terminal for plain keys,
	// undecided for dual-role keys until their deadline.
	phasePressed
	// phaseHeld is a dual-role key whose hold action is engaged.
	phaseHeld
	// phaseTapPending is a resolved tap: the tap usage is in this cycle's
	// report and will be released next cycle.
	phaseTapPending
)

type keyState struct {
	phase     keyPhase
	action    layout.Action
	pressTick uint64
	latchTick uint64
	deadline  uint64
	tapTick   uint64
	tapMods   keycode.Modifiers
}

type keyStat struct {
	presses uint32
	taps    uint32
	holds   uint32
}

type oneshotState struct {
	armed    bool
	layer    uint8
	deadline uint64
}

// pendingCap bounds events buffered during a permissive-hold decision
// window. Overflow is processed immediately instead of dropped.
const pendingCap = 16

// OutputKind tags an Output.
type OutputKind uint8

const (
	OutputKeyboard OutputKind = iota
	OutputConsumer
)

// Output is one report produced by a tick, in emission order.
type Output struct {
	Kind     OutputKind
	Tick     uint64
	Keyboard Report
	Consumer ConsumerReport
}

// Core is the synchronous keymap engine: layer stack, per-key tap/hold
// state machines, macro playback, and report building, advanced one tick at
// a time by Step. Core has no goroutines and no locks; Engine wraps it with
// the tick loop, and replay drives it directly. All per-key state lives in
// fixed arrays, and Step performs no allocation in steady state.
type Core struct {
	km      *layout.Keymap
	scanner *matrix.Scanner
	p       Params

	layers  layerStack
	keys    [matrix.MaxRows * matrix.MaxCols]keyState
	stats   [matrix.MaxRows * matrix.MaxCols]keyStat
	held    heldKeys
	oneshot oneshotState
	macro   macroPlayer

	// decisionIdx is the key owning the open permissive-hold decision
	// window, or -1. While open, other events buffer in pending.
	decisionIdx int
	pending     [pendingCap]matrix.KeyEvent
	pendingN    int

	tick         uint64
	consumer     keycode.Consumer
	lastConsumer keycode.Consumer
	lastReport   Report

	outputs  []Output
	events   []Event
	counters Counters
}

// NewCore builds an engine core. The scanner may be nil when all events are
// injected (device capture, replay); when present, its dimensions must
// match the keymap.
func NewCore(km *layout.Keymap, scanner *matrix.Scanner, p Params) (*Core, error) {
	if km == nil || len(km.Layers) == 0 {
		return nil, layout.ErrNoLayers
	}
	if scanner != nil {
		rows, cols := scanner.Dims()
		if rows != km.Rows || cols != km.Cols {
			return nil, fmt.Errorf("engine: scanner matrix %dx%d does not match keymap %dx%d", rows, cols, km.Rows, km.Cols)
		}
	}
	c := &Core{
		km:          km,
		scanner:     scanner,
		p:           p.withDefaults(),
		decisionIdx: -1,
		outputs:     make([]Output, 0, 4),
		events:      make([]Event, 0, 4),
	}
	c.lastReport = Report{NKRO: c.p.NKRO}
	c.layers.init(0)
	return c, nil
}

// Params returns the effective parameters after defaulting.
func (c *Core) Params() Params {
	return c.p
}

// Keymap returns the live keymap. Callers outside the tick goroutine must
// go through Engine commands.
func (c *Core) Keymap() *layout.Keymap {
	return c.km
}

// Step advances one tick: poll the scanner, run expiries, process confirmed
// and injected events, advance macro playback, then build reports. Outputs
// and Events are valid until the next Step.
func (c *Core) Step(tick uint64, injected []matrix.KeyEvent) error {
	c.tick = tick
	c.outputs = c.outputs[:0]
	c.events = c.events[:0]

	var scanned []matrix.KeyEvent
	if c.scanner != nil {
		evs, err := c.scanner.Poll(tick)
		if err != nil {
			return err
		}
		scanned = evs
		c.counters.ChatterSuppressed = c.scanner.Suppressed()
	}

	c.expire(tick)

	for _, ev := range scanned {
		c.handleEvent(ev)
	}
	for _, ev := range injected {
		// Injected events are stamped at drain time so deadlines count
		// from this tick.
		ev.Tick = tick
		c.handleEvent(ev)
	}

	c.macro.advance(c)
	c.dispatch(tick)
	c.counters.Ticks++
	return nil
}

// Outputs returns the reports produced by the last Step, in order.
func (c *Core) Outputs() []Output {
	return c.outputs
}

// Events returns the notifications produced by the last Step.
func (c *Core) Events() []Event {
	return c.events
}

func (c *Core) expire(tick uint64) {
	drain := false
	for i := range c.keys {
		ks := &c.keys[i]
		switch ks.phase {
		case phaseTapPending:
			if tick > ks.tapTick {
				c.held.release(ks.action.Code, ks.tapMods)
				ks.phase = phaseIdle
			}
		case phasePressed:
			if ks.action.IsDual() && tick >= ks.deadline {
				c.resolveHold(i, tick)
				if c.decisionIdx == i {
					c.decisionIdx = -1
					drain = true
				}
			}
		}
	}
	if drain {
		c.drainPending()
	}
	if c.oneshot.armed && tick >= c.oneshot.deadline {
		c.oneshot.armed = false
		c.counters.OneShotExpired++
	}
}

func (c *Core) handleEvent(ev matrix.KeyEvent) {
	if int(ev.Pos.Row) >= c.km.Rows || int(ev.Pos.Col) >= c.km.Cols {
		c.counters.SpuriousEvents++
		return
	}
	if c.decisionIdx >= 0 && ev.Pos.Index() != c.decisionIdx {
		c.bufferEvent(ev)
		return
	}
	c.processEvent(ev)
}

func (c *Core) processEvent(ev matrix.KeyEvent) {
	if ev.Pressed {
		c.processPress(ev)
	} else {
		c.processRelease(ev)
	}
}

// bufferEvent queues an event during a decision window. A complete
// press+release pair nested inside the window resolves the owner as held
// and replays the buffer against the updated layers.
func (c *Core) bufferEvent(ev matrix.KeyEvent) {
	if c.pendingN >= pendingCap {
		c.counters.PendingOverflow++
		c.processEvent(ev)
		return
	}
	c.pending[c.pendingN] = ev
	c.pendingN++

	if ev.Pressed {
		return
	}
	for i := 0; i < c.pendingN-1; i++ {
		if c.pending[i].Pressed && c.pending[i].Pos == ev.Pos {
			owner := c.decisionIdx
			c.decisionIdx = -1
			c.resolveHold(owner, ev.Tick)
			c.drainPending()
			return
		}
	}
}

func (c *Core) drainPending() {
	n := c.pendingN
	if n == 0 {
		return
	}
	var evs [pendingCap]matrix.KeyEvent
	copy(evs[:n], c.pending[:n])
	c.pendingN = 0
	for i := 0; i < n; i++ {
		c.handleEvent(evs[i])
	}
}

func (c *Core) processPress(ev matrix.KeyEvent) {
	idx := ev.Pos.Index()
	ks := &c.keys[idx]
	if ks.phase != phaseIdle {
		c.counters.SpuriousEvents++
		return
	}

	// hold-on-other-press: any undecided dual-role key resolves as held
	// before the new key is looked up, so the new key sees the hold layer
	// or modifiers.
	if c.p.HoldOnOtherPress {
		for i := range c.keys {
			other := &c.keys[i]
			if i != idx && other.phase == phasePressed && other.action.IsDual() {
				c.resolveHold(i, ev.Tick)
			}
		}
	}

	a := c.resolve(int(ev.Pos.Row), int(ev.Pos.Col))
	if c.oneshot.armed && a.Kind != layout.ActionOneShotLayer {
		c.oneshot.armed = false
	}

	ks.phase = phasePressed
	ks.action = a
	ks.pressTick = ev.Tick
	ks.latchTick = c.tick
	ks.deadline = 0
	c.counters.Presses++
	c.stats[idx].presses++

	switch a.Kind {
	case layout.ActionKey:
		c.held.press(a.Code, a.Mods)
	case layout.ActionConsumer:
		c.consumer = a.Consumer
	case layout.ActionMomentaryLayer:
		c.activateLayer(a.Layer, ev.Tick)
	case layout.ActionToggleLayer:
		c.toggleLayer(a.Layer, ev.Tick)
	case layout.ActionDefaultLayer:
		c.setDefaultLayer(a.Layer, ev.Tick)
	case layout.ActionOneShotLayer:
		c.oneshot = oneshotState{armed: true, layer: a.Layer, deadline: ev.Tick + c.p.OneShotTicks}
	case layout.ActionLayerTap, layout.ActionModTap:
		ks.deadline = ev.Tick + c.p.TapHoldTicks
		if c.p.PermissiveHold && !c.p.HoldOnOtherPress && c.decisionIdx < 0 {
			c.decisionIdx = idx
		}
	case layout.ActionMacro:
		c.startMacro(a.Macro)
	}
}

func (c *Core) processRelease(ev matrix.KeyEvent) {
	idx := ev.Pos.Index()
	ks := &c.keys[idx]
	if ks.phase == phaseIdle || ks.phase == phaseTapPending {
		c.counters.SpuriousEvents++
		return
	}
	c.counters.Releases++

	a := ks.action
	if a.IsDual() && ks.phase == phasePressed {
		wasOwner := c.decisionIdx == idx
		if wasOwner {
			c.decisionIdx = -1
		}
		if ev.Tick >= ks.deadline {
			// The expiry normally lands first; a release carrying the
			// deadline tick still resolves as hold.
			c.resolveHold(idx, ev.Tick)
			c.releaseHold(idx, ev.Tick)
		} else {
			c.resolveTap(idx)
		}
		if wasOwner {
			c.drainPending()
		}
		return
	}

	switch a.Kind {
	case layout.ActionKey:
		if ks.latchTick == c.tick {
			// The press landed earlier in this same tick, from a buffered
			// pair drained after a hold resolution or from two injected
			// events in one batch. Releasing now would erase the usage
			// before it ever reached a report, so hold it for this cycle
			// and release it on the next expiry pass.
			ks.phase = phaseTapPending
			ks.tapTick = c.tick
			ks.tapMods = a.Mods
			return
		}
		c.held.release(a.Code, a.Mods)
	case layout.ActionConsumer:
		if c.consumer == a.Consumer {
			c.consumer = keycode.ConsumerNone
		}
	case layout.ActionMomentaryLayer:
		c.deactivateLayer(a.Layer, ev.Tick)
	case layout.ActionLayerTap, layout.ActionModTap:
		c.releaseHold(idx, ev.Tick)
		return
	}
	ks.phase = phaseIdle
}

// resolveHold engages the hold side of an undecided dual-role key.
func (c *Core) resolveHold(idx int, tick uint64) {
	ks := &c.keys[idx]
	if ks.phase != phasePressed || !ks.action.IsDual() {
		return
	}
	switch ks.action.Kind {
	case layout.ActionLayerTap:
		c.activateLayer(ks.action.Layer, tick)
	case layout.ActionModTap:
		c.held.press(keycode.CodeNone, ks.action.Mods)
	}
	ks.phase = phaseHeld
	c.counters.Holds++
	c.stats[idx].holds++
}

// releaseHold disengages a resolved hold on key release.
func (c *Core) releaseHold(idx int, tick uint64) {
	ks := &c.keys[idx]
	if ks.phase != phaseHeld {
		return
	}
	switch ks.action.Kind {
	case layout.ActionLayerTap:
		c.deactivateLayer(ks.action.Layer, tick)
	case layout.ActionModTap:
		c.held.release(keycode.CodeNone, ks.action.Mods)
	}
	ks.phase = phaseIdle
}

// resolveTap registers the tap usage for exactly one report cycle. The
// release is scheduled against the processing tick, not the event stamp, so
// taps replayed from the pending buffer still get a full cycle.
func (c *Core) resolveTap(idx int) {
	ks := &c.keys[idx]
	c.held.press(ks.action.Code, 0)
	ks.phase = phaseTapPending
	ks.tapTick = c.tick
	ks.tapMods = 0
	c.counters.Taps++
	c.stats[idx].taps++
}

// resolve walks the active layers top-down, one-shot layer first, and
// returns the first non-transparent action. The base layer terminates the
// search: transparency there resolves to None.
func (c *Core) resolve(row, col int) layout.Action {
	if c.oneshot.armed {
		a := c.km.ActionAt(int(c.oneshot.layer), row, col)
		if a.Kind != layout.ActionTransparent {
			return a
		}
	}
	for i := c.layers.depth - 1; i >= 0; i-- {
		a := c.km.ActionAt(int(c.layers.order[i]), row, col)
		if a.Kind != layout.ActionTransparent {
			return a
		}
	}
	return layout.None
}

func (c *Core) startMacro(idx uint8) {
	if int(idx) >= len(c.km.Macros) {
		c.counters.SpuriousEvents++
		return
	}
	if c.macro.active {
		c.counters.MacrosDropped++
		return
	}
	c.macro.start(idx)
	c.counters.MacrosPlayed++
}

func (c *Core) dispatch(tick uint64) {
	r := c.held.buildReport(c.p.NKRO)
	if r != c.lastReport {
		c.outputs = append(c.outputs, Output{Kind: OutputKeyboard, Tick: tick, Keyboard: r})
		c.lastReport = r
		c.counters.ReportsQueued++
	}
	if c.consumer != c.lastConsumer {
		c.outputs = append(c.outputs, Output{Kind: OutputConsumer, Tick: tick, Consumer: ConsumerReport{Usage: c.consumer}})
		c.lastConsumer = c.consumer
		c.counters.ReportsQueued++
	}
}

func (c *Core) activateLayer(layer uint8, tick uint64) {
	if c.layers.activate(layer) {
		c.emitEvent(EventLayerActivated, layer, tick)
	}
}

func (c *Core) deactivateLayer(layer uint8, tick uint64) {
	if c.layers.deactivate(layer) {
		c.emitEvent(EventLayerDeactivated, layer, tick)
	}
}

func (c *Core) toggleLayer(layer uint8, tick uint64) {
	active, changed := c.layers.toggle(layer)
	if !changed {
		return
	}
	if active {
		c.emitEvent(EventLayerActivated, layer, tick)
	} else {
		c.emitEvent(EventLayerDeactivated, layer, tick)
	}
}

func (c *Core) setDefaultLayer(layer uint8, tick uint64) {
	if c.layers.setDefault(layer) {
		c.emitEvent(EventDefaultChanged, layer, tick)
	}
}

func (c *Core) emitEvent(kind EventKind, layer uint8, tick uint64) {
	c.events = append(c.events, Event{Kind: kind, Layer: layer, Name: c.layerName(int(layer)), Tick: tick})
}

func (c *Core) layerName(i int) string {
	if i >= 0 && i < len(c.km.Layers) {
		return c.km.Layers[i].Name
	}
	return fmt.Sprintf("layer%d", i)
}
