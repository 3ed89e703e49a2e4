package matrix

// Debouncer confirms raw switch transitions with a deferred window. A raw
// edge opens a window of windowTicks; the new level must hold for the whole
// window to confirm. Any reversal inside the window cancels it without an
// event, so a transition shorter than the window can never confirm. A zero
// window disables debouncing and confirms edges immediately.
type Debouncer struct {
	window     uint64
	keys       [MaxRows * MaxCols]debounceState
	suppressed uint64
}

type debounceState struct {
	deadline uint64
	stable   bool
	pending  bool
}

func NewDebouncer(windowTicks uint64) *Debouncer {
	return &Debouncer{window: windowTicks}
}

// Update feeds one key's raw level for the current tick and appends a
// KeyEvent to out when a transition confirms. The returned slice aliases
// out.
func (d *Debouncer) Update(p Pos, raw bool, tick uint64, out []KeyEvent) []KeyEvent {
	k := &d.keys[p.Index()]
	if d.window == 0 {
		if raw != k.stable {
			k.stable = raw
			out = append(out, KeyEvent{Pos: p, Pressed: raw, Tick: tick})
		}
		return out
	}
	if !k.pending {
		if raw != k.stable {
			k.pending = true
			k.deadline = tick + d.window
		}
		return out
	}
	if raw == k.stable {
		// Bounced back inside the window. No event.
		k.pending = false
		d.suppressed++
		return out
	}
	if tick >= k.deadline {
		k.stable = raw
		k.pending = false
		out = append(out, KeyEvent{Pos: p, Pressed: raw, Tick: tick})
	}
	return out
}

// Suppressed returns the number of transitions cancelled inside the window
// since the debouncer was created.
func (d *Debouncer) Suppressed() uint64 {
	return d.suppressed
}
