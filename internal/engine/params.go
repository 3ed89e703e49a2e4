package engine

// Defaults for Params. Tick-denominated fields are derived from the
// millisecond settings in the daemon config at the configured tick rate.
const (
	DefaultTickHz       = 1000
	DefaultDebounceMS   = 5
	DefaultTapHoldMS    = 200
	DefaultOneShotMS    = 1000
	DefaultQueueSize    = 32
	DefaultEventBacklog = 64
)

// Params are the engine timing and behavior knobs, denominated in ticks.
type Params struct {
	// TickHz is the scheduler rate.
	TickHz int
	// DebounceTicks is the debounce window. Zero confirms edges
	// immediately.
	DebounceTicks uint64
	// TapHoldTicks is the dual-role decision deadline. Release strictly
	// before the deadline is a tap; at or after it, a hold.
	TapHoldTicks uint64
	// OneShotTicks disarms an unconsumed one-shot layer.
	OneShotTicks uint64
	// PermissiveHold resolves an undecided dual-role key as held when
	// another key is pressed and released while it is down.
	PermissiveHold bool
	// HoldOnOtherPress resolves an undecided dual-role key as held as soon
	// as another key is pressed.
	HoldOnOtherPress bool
	// NKRO selects bitmap reports instead of 6-key boot reports.
	NKRO bool
	// QueueSize bounds the report queue. A full queue drops the oldest
	// entry.
	QueueSize int
	// EventBacklog bounds injected device events buffered between ticks.
	EventBacklog int
}

// withDefaults fills zero fields. DebounceTicks is left alone: zero is a
// meaningful setting (no debounce), and the daemon config carries the 5 ms
// default.
func (p Params) withDefaults() Params {
	if p.TickHz <= 0 {
		p.TickHz = DefaultTickHz
	}
	if p.TapHoldTicks == 0 {
		p.TapHoldTicks = p.ticksFromMS(DefaultTapHoldMS)
	}
	if p.OneShotTicks == 0 {
		p.OneShotTicks = p.ticksFromMS(DefaultOneShotMS)
	}
	if p.QueueSize <= 0 {
		p.QueueSize = DefaultQueueSize
	}
	if p.EventBacklog <= 0 {
		p.EventBacklog = DefaultEventBacklog
	}
	return p
}

// ticksFromMS converts a millisecond duration to ticks at the configured
// rate, rounding up so short windows never collapse to zero.
func (p Params) ticksFromMS(ms uint64) uint64 {
	hz := uint64(p.TickHz)
	if hz == 0 {
		hz = DefaultTickHz
	}
	t := (ms*hz + 999) / 1000
	if t == 0 && ms > 0 {
		t = 1
	}
	return t
}

// TicksFromMS converts milliseconds to ticks for these Params. Exposed for
// config translation.
func (p Params) TicksFromMS(ms uint64) uint64 {
	return p.ticksFromMS(ms)
}
