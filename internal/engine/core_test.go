package engine

import (
	"errors"
	"testing"

	"keymapd/internal/keycode"
	"keymapd/internal/layout"
	"keymapd/internal/matrix"
)

// The test keymap exercises every action kind: plain keys, a layer-tap and a
// mod-tap, momentary/toggle/one-shot layers, a macro, and consumer usages.
// Layer nav blocks r0c1 and overrides r0c0; everything else falls through.
const coreKeymapTOML = `
name = "core-test"

[matrix]
rows = 2
cols = 5

[[layers]]
name = "base"
keys = [
  ["A", "B", "C", "LT(1,SPC)", "MT(LSFT,F)"],
  ["MO(1)", "TG(2)", "OSL(3)", "MACRO(hi)", "MUTE"],
]

[[layers]]
name = "nav"
keys = [
  ["LEFT", "XXXX", "____", "____", "____"],
  ["____", "____", "____", "____", "VOLU"],
]

[[layers]]
name = "sym"
keys = [
  ["1", "2", "3", "4", "5"],
  ["____", "____", "____", "____", "____"],
]

[[layers]]
name = "fun"
keys = [
  ["F1", "F2", "____", "____", "____"],
  ["____", "____", "____", "____", "____"],
]

[[macros]]
name = "hi"
steps = ["text:hi"]

[[macros]]
name = "copy"
steps = ["press:LCTL", "tap:C", "release:LCTL"]

[[macros]]
name = "delayed"
steps = ["tap:A", "wait:3", "tap:B"]
`

func testKeymap(t *testing.T) *layout.Keymap {
	t.Helper()
	km, err := layout.ParseTOML([]byte(coreKeymapTOML))
	if err != nil {
		t.Fatalf("compile test keymap: %v", err)
	}
	return km
}

func newTestCore(t *testing.T, p Params) *Core {
	t.Helper()
	c, err := NewCore(testKeymap(t), nil, p)
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	return c
}

func press(row, col uint8, tick uint64) matrix.KeyEvent {
	return matrix.KeyEvent{Pos: matrix.Pos{Row: row, Col: col}, Pressed: true, Tick: tick}
}

func release(row, col uint8, tick uint64) matrix.KeyEvent {
	return matrix.KeyEvent{Pos: matrix.Pos{Row: row, Col: col}, Tick: tick}
}

func step(t *testing.T, c *Core, tick uint64, evs ...matrix.KeyEvent) []Output {
	t.Helper()
	if err := c.Step(tick, evs); err != nil {
		t.Fatalf("Step(%d): %v", tick, err)
	}
	out := make([]Output, len(c.Outputs()))
	copy(out, c.Outputs())
	return out
}

// keyboardReport asserts exactly one keyboard output and returns it.
func keyboardReport(t *testing.T, outs []Output) Report {
	t.Helper()
	var reports []Report
	for _, o := range outs {
		if o.Kind == OutputKeyboard {
			reports = append(reports, o.Keyboard)
		}
	}
	if len(reports) != 1 {
		t.Fatalf("got %d keyboard reports, want 1 (outputs: %v)", len(reports), outs)
	}
	return reports[0]
}

func wantReport(t *testing.T, outs []Output, mods keycode.Modifiers, codes ...keycode.Code) {
	t.Helper()
	r := keyboardReport(t, outs)
	if r.Mods != mods {
		t.Fatalf("report mods = %v, want %v", r.Mods, mods)
	}
	var want [BootKeys]keycode.Code
	copy(want[:], codes)
	if r.Keys != want {
		t.Fatalf("report keys = %v, want %v", r.Keys, want)
	}
}

func noKeyboardReport(t *testing.T, outs []Output) {
	t.Helper()
	for _, o := range outs {
		if o.Kind == OutputKeyboard {
			t.Fatalf("unexpected keyboard report %v", o.Keyboard)
		}
	}
}

func TestPlainKeyPressRelease(t *testing.T) {
	c := newTestCore(t, Params{})

	wantReport(t, step(t, c, 1, press(0, 0, 1)), 0, keycode.KeyA)
	wantReport(t, step(t, c, 2, release(0, 0, 2)), 0)

	if c.counters.Presses != 1 || c.counters.Releases != 1 {
		t.Errorf("presses=%d releases=%d, want 1/1", c.counters.Presses, c.counters.Releases)
	}
}

func TestReportOnlyOnChange(t *testing.T) {
	c := newTestCore(t, Params{})

	wantReport(t, step(t, c, 1, press(0, 0, 1)), 0, keycode.KeyA)
	// Quiet ticks emit nothing while the report is unchanged.
	for tick := uint64(2); tick < 10; tick++ {
		if outs := step(t, c, tick); len(outs) != 0 {
			t.Fatalf("tick %d: unexpected outputs %v", tick, outs)
		}
	}
	if c.counters.ReportsQueued != 1 {
		t.Errorf("reports queued = %d, want 1", c.counters.ReportsQueued)
	}
}

func TestTwoKeysOneTickOneReport(t *testing.T) {
	c := newTestCore(t, Params{})

	outs := step(t, c, 1, press(0, 0, 1), press(0, 1, 1))
	wantReport(t, outs, 0, keycode.KeyA, keycode.KeyB)
}

func TestMomentaryLayerOverrideAndFallThrough(t *testing.T) {
	c := newTestCore(t, Params{})

	outs := step(t, c, 1, press(1, 0, 1))
	noKeyboardReport(t, outs)
	if len(c.Events()) != 1 || c.Events()[0].Kind != EventLayerActivated || c.Events()[0].Name != "nav" {
		t.Fatalf("events = %v, want nav activation", c.Events())
	}

	// nav overrides r0c0.
	wantReport(t, step(t, c, 2, press(0, 0, 2)), 0, keycode.KeyLeft)
	wantReport(t, step(t, c, 3, release(0, 0, 3)), 0)

	// nav is transparent at r0c2, so the base action shows through.
	wantReport(t, step(t, c, 4, press(0, 2, 4)), 0, keycode.KeyC)
	wantReport(t, step(t, c, 5, release(0, 2, 5)), 0)

	// Releasing the momentary key drops the layer.
	step(t, c, 6, release(1, 0, 6))
	if len(c.Events()) != 1 || c.Events()[0].Kind != EventLayerDeactivated {
		t.Fatalf("events = %v, want nav deactivation", c.Events())
	}
	wantReport(t, step(t, c, 7, press(0, 0, 7)), 0, keycode.KeyA)
}

func TestNoneBlocksFallThrough(t *testing.T) {
	c := newTestCore(t, Params{})

	step(t, c, 1, press(1, 0, 1))
	// nav carries an explicit blocker over B.
	outs := step(t, c, 2, press(0, 1, 2))
	if len(outs) != 0 {
		t.Fatalf("blocked key produced outputs %v", outs)
	}
	if outs := step(t, c, 3, release(0, 1, 3)); len(outs) != 0 {
		t.Fatalf("blocked key release produced outputs %v", outs)
	}
}

func TestActionLatchedAtPress(t *testing.T) {
	c := newTestCore(t, Params{})

	step(t, c, 1, press(1, 0, 1))
	wantReport(t, step(t, c, 2, press(0, 0, 2)), 0, keycode.KeyLeft)

	// The layer drops while the key is still down. Its release must undo
	// the latched nav action, not the base action now at the position.
	if outs := step(t, c, 3, release(1, 0, 3)); len(outs) != 0 {
		t.Fatalf("layer drop should not change the report, got %v", outs)
	}
	wantReport(t, step(t, c, 4, release(0, 0, 4)), 0)
}

func TestToggleLayer(t *testing.T) {
	c := newTestCore(t, Params{})

	step(t, c, 1, press(1, 1, 1))
	step(t, c, 2, release(1, 1, 2))
	if !c.layers.isActive(2) {
		t.Fatal("sym should stay active after the toggle key is released")
	}
	wantReport(t, step(t, c, 3, press(0, 0, 3)), 0, keycode.Key1)
	step(t, c, 4, release(0, 0, 4))

	step(t, c, 5, press(1, 1, 5))
	step(t, c, 6, release(1, 1, 6))
	if c.layers.isActive(2) {
		t.Fatal("second toggle should deactivate sym")
	}
}

func TestLayerTapQuickReleaseIsTap(t *testing.T) {
	c := newTestCore(t, Params{})

	if outs := step(t, c, 10, press(0, 3, 10)); len(outs) != 0 {
		t.Fatalf("undecided dual key should emit nothing, got %v", outs)
	}
	// Release strictly before the deadline: the tap usage appears for one
	// cycle and releases on the next.
	wantReport(t, step(t, c, 50, release(0, 3, 50)), 0, keycode.KeySpace)
	wantReport(t, step(t, c, 51), 0)

	if c.counters.Taps != 1 || c.counters.Holds != 0 {
		t.Errorf("taps=%d holds=%d, want 1/0", c.counters.Taps, c.counters.Holds)
	}
}

func TestLayerTapTimeoutIsHold(t *testing.T) {
	c := newTestCore(t, Params{})

	step(t, c, 10, press(0, 3, 10))
	for tick := uint64(11); tick < 210; tick++ {
		if outs := step(t, c, tick); len(outs) != 0 {
			t.Fatalf("tick %d: premature output %v", tick, outs)
		}
	}

	// The deadline tick resolves the hold.
	step(t, c, 210)
	if !c.layers.isActive(1) {
		t.Fatal("nav should be active after the deadline")
	}
	wantReport(t, step(t, c, 220, press(0, 0, 220)), 0, keycode.KeyLeft)
	step(t, c, 221, release(0, 0, 221))

	step(t, c, 230, release(0, 3, 230))
	if c.layers.isActive(1) {
		t.Fatal("nav should drop when the hold releases")
	}
	if c.counters.Taps != 0 || c.counters.Holds != 1 {
		t.Errorf("taps=%d holds=%d, want 0/1", c.counters.Taps, c.counters.Holds)
	}
}

func TestLayerTapDeadlineBoundary(t *testing.T) {
	// A release on the deadline tick resolves as hold: the expiry pass runs
	// before events, so tick 210 converts the key before its release lands.
	c := newTestCore(t, Params{})
	step(t, c, 10, press(0, 3, 10))
	step(t, c, 210, release(0, 3, 210))
	if c.counters.Holds != 1 || c.counters.Taps != 0 {
		t.Fatalf("taps=%d holds=%d, want 0/1", c.counters.Taps, c.counters.Holds)
	}
	if c.layers.isActive(1) {
		t.Fatal("the hold layer should activate and drop within the tick")
	}

	// One tick earlier is still a tap.
	c2 := newTestCore(t, Params{})
	step(t, c2, 10, press(0, 3, 10))
	step(t, c2, 209, release(0, 3, 209))
	if c2.counters.Taps != 1 || c2.counters.Holds != 0 {
		t.Fatalf("taps=%d holds=%d, want 1/0", c2.counters.Taps, c2.counters.Holds)
	}
}

func TestModTapHold(t *testing.T) {
	c := newTestCore(t, Params{})

	step(t, c, 1, press(0, 4, 1))
	// Deadline at 201: the modifier engages and reaches the report.
	wantReport(t, step(t, c, 201), keycode.ModLeftShift)
	wantReport(t, step(t, c, 205, press(0, 0, 205)), keycode.ModLeftShift, keycode.KeyA)
	wantReport(t, step(t, c, 210, release(0, 4, 210)), 0, keycode.KeyA)
	wantReport(t, step(t, c, 211, release(0, 0, 211)), 0)
}

func TestModTapTap(t *testing.T) {
	c := newTestCore(t, Params{})

	step(t, c, 1, press(0, 4, 1))
	wantReport(t, step(t, c, 5, release(0, 4, 5)), 0, keycode.KeyF)
	wantReport(t, step(t, c, 6), 0)
}

func TestInterruptIgnoredByDefault(t *testing.T) {
	// Without permissive-hold or hold-on-other-press, keys pressed during
	// the decision window resolve against the pre-hold layers and the dual
	// key still taps on quick release.
	c := newTestCore(t, Params{})

	step(t, c, 10, press(0, 3, 10))
	wantReport(t, step(t, c, 20, press(0, 0, 20)), 0, keycode.KeyA)
	wantReport(t, step(t, c, 30, release(0, 0, 30)), 0)
	wantReport(t, step(t, c, 40, release(0, 3, 40)), 0, keycode.KeySpace)
	wantReport(t, step(t, c, 41), 0)
}

func TestPermissiveHoldNestedPair(t *testing.T) {
	c := newTestCore(t, Params{PermissiveHold: true})

	step(t, c, 10, press(0, 3, 10))
	// The interrupting press buffers silently.
	if outs := step(t, c, 20, press(0, 0, 20)); len(outs) != 0 {
		t.Fatalf("buffered press leaked output %v", outs)
	}
	// Its release completes a nested pair: the dual resolves as hold and
	// the buffered key replays against nav, coming out as LEFT for one
	// cycle.
	wantReport(t, step(t, c, 30, release(0, 0, 30)), 0, keycode.KeyLeft)
	if !c.layers.isActive(1) {
		t.Fatal("nav should be active after the nested pair")
	}
	wantReport(t, step(t, c, 31), 0)

	step(t, c, 60, release(0, 3, 60))
	if c.layers.isActive(1) {
		t.Fatal("nav should drop on release")
	}
	if c.counters.Holds != 1 || c.counters.Taps != 0 {
		t.Errorf("taps=%d holds=%d, want 0/1", c.counters.Taps, c.counters.Holds)
	}
}

func TestPermissiveHoldOwnerReleaseDrainsBuffer(t *testing.T) {
	c := newTestCore(t, Params{PermissiveHold: true})

	step(t, c, 10, press(0, 3, 10))
	step(t, c, 20, press(0, 0, 20))
	// The owner releases before its deadline with only a press buffered:
	// the dual taps and the buffered press replays against the base layer.
	wantReport(t, step(t, c, 50, release(0, 3, 50)), 0, keycode.KeySpace, keycode.KeyA)
	wantReport(t, step(t, c, 51), 0, keycode.KeyA)
	wantReport(t, step(t, c, 60, release(0, 0, 60)), 0)
}

func TestPermissiveHoldDeadlineDrainsBuffer(t *testing.T) {
	c := newTestCore(t, Params{PermissiveHold: true})

	step(t, c, 10, press(0, 3, 10))
	step(t, c, 20, press(0, 0, 20))
	// No release arrives: the deadline resolves the hold and the buffered
	// press replays against nav.
	wantReport(t, step(t, c, 210), 0, keycode.KeyLeft)
	wantReport(t, step(t, c, 211, release(0, 0, 211)), 0)
	step(t, c, 212, release(0, 3, 212))
}

func TestHoldOnOtherPress(t *testing.T) {
	c := newTestCore(t, Params{HoldOnOtherPress: true})

	step(t, c, 10, press(0, 3, 10))
	// The interrupting press resolves the dual first, so it sees nav.
	wantReport(t, step(t, c, 20, press(0, 0, 20)), 0, keycode.KeyLeft)
	if !c.layers.isActive(1) {
		t.Fatal("nav should be active before the interrupt resolves")
	}
	if c.counters.Holds != 1 {
		t.Errorf("holds = %d, want 1", c.counters.Holds)
	}
	step(t, c, 30, release(0, 0, 30))
	step(t, c, 40, release(0, 3, 40))
}

func TestOneShotLayer(t *testing.T) {
	c := newTestCore(t, Params{})

	step(t, c, 1, press(1, 2, 1))
	step(t, c, 2, release(1, 2, 2))
	if !c.oneshot.armed {
		t.Fatal("one-shot should stay armed after release")
	}

	// The next press resolves on fun and consumes the one-shot.
	wantReport(t, step(t, c, 5, press(0, 0, 5)), 0, keycode.KeyF1)
	if c.oneshot.armed {
		t.Fatal("one-shot should be consumed")
	}
	wantReport(t, step(t, c, 6, release(0, 0, 6)), 0)

	wantReport(t, step(t, c, 8, press(0, 0, 8)), 0, keycode.KeyA)
	step(t, c, 9, release(0, 0, 9))
}

func TestOneShotTransparentFallsThrough(t *testing.T) {
	c := newTestCore(t, Params{})

	step(t, c, 1, press(1, 2, 1), release(1, 2, 1))
	// fun is transparent at r0c2; the press falls through to base C and
	// still consumes the one-shot.
	wantReport(t, step(t, c, 5, press(0, 2, 5)), 0, keycode.KeyC)
	if c.oneshot.armed {
		t.Fatal("one-shot should be consumed by a fall-through press")
	}
}

func TestOneShotExpiry(t *testing.T) {
	c := newTestCore(t, Params{})

	step(t, c, 1, press(1, 2, 1))
	step(t, c, 2, release(1, 2, 2))
	// Default expiry is 1000 ticks from the arming press.
	step(t, c, 1001)
	if c.oneshot.armed {
		t.Fatal("one-shot should expire")
	}
	if c.counters.OneShotExpired != 1 {
		t.Errorf("oneshot expired = %d, want 1", c.counters.OneShotExpired)
	}
	wantReport(t, step(t, c, 1002, press(0, 0, 1002)), 0, keycode.KeyA)
}

func TestMacroText(t *testing.T) {
	c := newTestCore(t, Params{})

	// text:hi compiles to two taps, each holding its usage for one cycle
	// with a release cycle in between so repeated characters stay visible.
	wantReport(t, step(t, c, 1, press(1, 3, 1)), 0, keycode.KeyH)
	wantReport(t, step(t, c, 2, release(1, 3, 2)), 0)
	wantReport(t, step(t, c, 3), 0, keycode.KeyI)
	wantReport(t, step(t, c, 4), 0)
	if outs := step(t, c, 5); len(outs) != 0 {
		t.Fatalf("macro should be done, got %v", outs)
	}
	if c.counters.MacrosPlayed != 1 {
		t.Errorf("macros played = %d, want 1", c.counters.MacrosPlayed)
	}
}

func TestMacroChord(t *testing.T) {
	c := newTestCore(t, Params{})

	// press/tap/release steps chain inside a cycle, so the chord comes out
	// as one report.
	c.startMacro(1)
	wantReport(t, step(t, c, 1), keycode.ModLeftCtrl, keycode.KeyC)
	wantReport(t, step(t, c, 2), keycode.ModLeftCtrl)
	wantReport(t, step(t, c, 3), 0)
}

func TestMacroWait(t *testing.T) {
	c := newTestCore(t, Params{})

	c.startMacro(2)
	wantReport(t, step(t, c, 1), 0, keycode.KeyA)
	wantReport(t, step(t, c, 2), 0)

	// wait:3 holds playback for three ticks after the release cycle.
	var gap int
	var outs []Output
	for tick := uint64(3); tick < 20; tick++ {
		outs = step(t, c, tick)
		if len(outs) > 0 {
			break
		}
		gap++
	}
	r := keyboardReport(t, outs)
	if r.Keys[0] != keycode.KeyB {
		t.Fatalf("after wait, report = %v, want B", r)
	}
	if gap < 3 {
		t.Errorf("gap = %d ticks, want at least 3", gap)
	}
}

func TestMacroBusyDropped(t *testing.T) {
	c := newTestCore(t, Params{})

	step(t, c, 1, press(1, 3, 1))
	step(t, c, 2, release(1, 3, 2))
	// Triggering again while playback runs drops the request.
	step(t, c, 3, press(1, 3, 3))
	if c.counters.MacrosDropped != 1 {
		t.Errorf("macros dropped = %d, want 1", c.counters.MacrosDropped)
	}
	if c.counters.MacrosPlayed != 1 {
		t.Errorf("macros played = %d, want 1", c.counters.MacrosPlayed)
	}
}

func TestConsumerKey(t *testing.T) {
	c := newTestCore(t, Params{})

	outs := step(t, c, 1, press(1, 4, 1))
	noKeyboardReport(t, outs)
	if len(outs) != 1 || outs[0].Kind != OutputConsumer || outs[0].Consumer.Usage != keycode.ConsumerMute {
		t.Fatalf("outputs = %v, want consumer MUTE", outs)
	}
	outs = step(t, c, 2, release(1, 4, 2))
	if len(outs) != 1 || outs[0].Consumer.Usage != keycode.ConsumerNone {
		t.Fatalf("outputs = %v, want consumer release", outs)
	}

	// The nav layer rebinds the position to volume up.
	step(t, c, 3, press(1, 0, 3))
	outs = step(t, c, 4, press(1, 4, 4))
	if len(outs) != 1 || outs[0].Consumer.Usage != keycode.ConsumerVolumeUp {
		t.Fatalf("outputs = %v, want consumer VOLU", outs)
	}
}

func TestSpuriousEvents(t *testing.T) {
	c := newTestCore(t, Params{})

	// A release for an idle key, a duplicate press, and an out-of-range
	// position are all counted and ignored.
	step(t, c, 1, release(0, 0, 1))
	step(t, c, 2, press(0, 0, 2))
	step(t, c, 3, press(0, 0, 3))
	step(t, c, 4, press(9, 0, 4))
	if c.counters.SpuriousEvents != 3 {
		t.Errorf("spurious = %d, want 3", c.counters.SpuriousEvents)
	}
}

func TestSameTickPressReleaseStillReports(t *testing.T) {
	c := newTestCore(t, Params{})

	// Both edges land in one tick: the usage must still surface for one
	// cycle instead of vanishing between dispatches.
	wantReport(t, step(t, c, 1, press(0, 0, 1), release(0, 0, 1)), 0, keycode.KeyA)
	wantReport(t, step(t, c, 2), 0)
}

func TestNKROReports(t *testing.T) {
	c := newTestCore(t, Params{NKRO: true})

	outs := step(t, c, 1, press(0, 0, 1))
	r := keyboardReport(t, outs)
	if !r.NKRO {
		t.Fatal("report should carry the NKRO flag")
	}
	if r.Bitmap[keycode.KeyA>>3]&(1<<(keycode.KeyA&7)) == 0 {
		t.Fatal("bitmap missing KeyA")
	}
}

func TestDeterministicReplay(t *testing.T) {
	script := func(c *Core, t *testing.T) []Output {
		var all []Output
		collect := func(outs []Output) { all = append(all, outs...) }
		collect(step(t, c, 1, press(0, 0, 1)))
		collect(step(t, c, 2, press(1, 0, 2)))
		collect(step(t, c, 3, press(0, 2, 3)))
		collect(step(t, c, 10, release(0, 2, 10)))
		collect(step(t, c, 11, release(1, 0, 11)))
		collect(step(t, c, 20, press(0, 3, 20)))
		collect(step(t, c, 30, release(0, 3, 30)))
		collect(step(t, c, 31))
		collect(step(t, c, 40, release(0, 0, 40)))
		collect(step(t, c, 41, press(1, 3, 41)))
		for tick := uint64(42); tick < 50; tick++ {
			collect(step(t, c, tick))
		}
		return all
	}

	c1 := newTestCore(t, Params{})
	c2 := newTestCore(t, Params{})
	out1 := script(c1, t)
	out2 := script(c2, t)

	if len(out1) != len(out2) {
		t.Fatalf("output counts differ: %d vs %d", len(out1), len(out2))
	}
	for i := range out1 {
		if out1[i] != out2[i] {
			t.Fatalf("output %d differs: %v vs %v", i, out1[i], out2[i])
		}
	}
	if c1.counters != c2.counters {
		t.Fatalf("counters differ: %+v vs %+v", c1.counters, c2.counters)
	}
}

func TestSwapKeymapResetsRuntime(t *testing.T) {
	c := newTestCore(t, Params{})

	wantReport(t, step(t, c, 1, press(0, 0, 1)), 0, keycode.KeyA)
	step(t, c, 2, press(1, 0, 2))
	if !c.layers.isActive(1) {
		t.Fatal("nav should be active before the swap")
	}

	next := testKeymap(t)
	next.Name = "swapped"
	if err := c.SwapKeymap(next); err != nil {
		t.Fatalf("SwapKeymap: %v", err)
	}
	evs := c.Events()
	if len(evs) == 0 || evs[len(evs)-1].Kind != EventKeymapSwapped || evs[len(evs)-1].Name != "swapped" {
		t.Fatalf("events = %v, want keymap-swapped", evs)
	}
	if c.layers.isActive(1) {
		t.Fatal("swap should reset the layer stack")
	}

	// The stuck A releases through the first post-swap dispatch, and the
	// stale release event is ignored.
	wantReport(t, step(t, c, 3), 0)
	step(t, c, 4, release(0, 0, 4))
	if c.counters.SpuriousEvents != 1 {
		t.Errorf("spurious = %d, want 1", c.counters.SpuriousEvents)
	}
}

func TestSwapKeymapRejectsEmpty(t *testing.T) {
	c := newTestCore(t, Params{})
	if err := c.SwapKeymap(&layout.Keymap{}); !errors.Is(err, layout.ErrNoLayers) {
		t.Fatalf("err = %v, want ErrNoLayers", err)
	}
}

func TestSetActionLive(t *testing.T) {
	c := newTestCore(t, Params{})

	if err := c.SetAction(0, 0, 0, layout.Key(keycode.KeyQ)); err != nil {
		t.Fatalf("SetAction: %v", err)
	}
	wantReport(t, step(t, c, 1, press(0, 0, 1)), 0, keycode.KeyQ)
}

func TestLayerCommands(t *testing.T) {
	c := newTestCore(t, Params{})

	if err := c.ActivateLayer(1); err != nil {
		t.Fatalf("ActivateLayer: %v", err)
	}
	wantReport(t, step(t, c, 1, press(0, 0, 1)), 0, keycode.KeyLeft)
	step(t, c, 2, release(0, 0, 2))

	if err := c.DeactivateLayer(0); !errors.Is(err, ErrBaseLayer) {
		t.Fatalf("DeactivateLayer(0) err = %v, want ErrBaseLayer", err)
	}
	if err := c.ToggleLayer(0); !errors.Is(err, ErrBaseLayer) {
		t.Fatalf("ToggleLayer(0) err = %v, want ErrBaseLayer", err)
	}
	if err := c.ActivateLayer(9); !errors.Is(err, ErrLayerRange) {
		t.Fatalf("ActivateLayer(9) err = %v, want ErrLayerRange", err)
	}

	if err := c.DeactivateLayer(1); err != nil {
		t.Fatalf("DeactivateLayer(1): %v", err)
	}
	if err := c.SetDefaultLayer(2); err != nil {
		t.Fatalf("SetDefaultLayer: %v", err)
	}
	wantReport(t, step(t, c, 3, press(0, 0, 3)), 0, keycode.Key1)
}

func TestSnapshot(t *testing.T) {
	c := newTestCore(t, Params{})

	step(t, c, 1, press(1, 0, 1))
	step(t, c, 2, press(1, 2, 2))

	st := c.Snapshot()
	if st.Keymap != "core-test" {
		t.Errorf("keymap = %q", st.Keymap)
	}
	if st.Fingerprint == "" {
		t.Error("fingerprint should be set")
	}
	if st.Tick != 2 || st.TickHz != DefaultTickHz {
		t.Errorf("tick=%d hz=%d", st.Tick, st.TickHz)
	}
	if len(st.ActiveLayers) != 2 || st.ActiveLayers[0] != "base" || st.ActiveLayers[1] != "nav" {
		t.Errorf("active layers = %v", st.ActiveLayers)
	}
	if st.DefaultLayer != "base" {
		t.Errorf("default = %q", st.DefaultLayer)
	}
	if st.OneShot != "fun" {
		t.Errorf("oneshot = %q, want fun", st.OneShot)
	}
	if st.Counters.Ticks != 2 {
		t.Errorf("ticks = %d", st.Counters.Ticks)
	}
}

func TestTakeKeyStats(t *testing.T) {
	c := newTestCore(t, Params{})

	step(t, c, 1, press(0, 0, 1))
	step(t, c, 2, release(0, 0, 2))
	step(t, c, 10, press(0, 3, 10))
	step(t, c, 20, release(0, 3, 20))
	step(t, c, 21)

	stats := c.TakeKeyStats(nil)
	if len(stats) != 2 {
		t.Fatalf("stats = %+v, want 2 entries", stats)
	}
	if stats[0].Row != 0 || stats[0].Col != 0 || stats[0].Presses != 1 {
		t.Errorf("stats[0] = %+v", stats[0])
	}
	if stats[1].Col != 3 || stats[1].Taps != 1 {
		t.Errorf("stats[1] = %+v", stats[1])
	}

	if again := c.TakeKeyStats(nil); len(again) != 0 {
		t.Fatalf("second drain = %+v, want empty", again)
	}
}
