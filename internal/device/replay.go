package device

import (
	"fmt"
	"io"

	"keymapd/internal/engine"
	"keymapd/internal/journal"
	"keymapd/internal/matrix"
)

// ReplayResult summarizes a replay run.
type ReplayResult struct {
	// Events is the number of journal records fed in.
	Events int
	// Ticks is the final engine tick stepped.
	Ticks uint64
	// Reports is the number of reports the replay produced.
	Reports int
}

// Replay drives a recorded journal segment through a core tick by tick and
// writes the resulting reports to the transport. Replaying a segment
// against the keymap it was recorded with reproduces the original report
// stream exactly.
//
// After the last record the core is stepped through its longest timeout
// window, so tap/hold decisions and one-shot expiries still pending at the
// end of the recording land in the output.
func Replay(r *journal.Reader, core *engine.Core, tr engine.Transport) (ReplayResult, error) {
	var res ReplayResult

	step := func(tick uint64, evs []matrix.KeyEvent) error {
		if err := core.Step(tick, evs); err != nil {
			return fmt.Errorf("replay tick %d: %w", tick, err)
		}
		res.Ticks = tick
		for _, out := range core.Outputs() {
			var err error
			switch out.Kind {
			case engine.OutputKeyboard:
				err = tr.WriteKeyboard(out.Keyboard)
			case engine.OutputConsumer:
				err = tr.WriteConsumer(out.Consumer)
			}
			if err != nil {
				return fmt.Errorf("write replayed report: %w", err)
			}
			res.Reports++
		}
		return nil
	}

	var tick uint64
	var batch []matrix.KeyEvent
	var batchTick uint64

	// emit steps empty ticks up to the batch tick, then the batch itself.
	emit := func() error {
		for tick+1 < batchTick {
			tick++
			if err := step(tick, nil); err != nil {
				return err
			}
		}
		tick = batchTick
		return step(tick, batch)
	}

	for {
		ev, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, err
		}
		res.Events++
		if ev.Tick == 0 {
			ev.Tick = 1
		}

		switch {
		case len(batch) == 0:
			batchTick = ev.Tick
			batch = append(batch, ev)
		case ev.Tick == batchTick:
			batch = append(batch, ev)
		case ev.Tick < batchTick:
			return res, fmt.Errorf("replay: record at tick %d after tick %d", ev.Tick, batchTick)
		default:
			if err := emit(); err != nil {
				return res, err
			}
			batch = append(batch[:0], ev)
			batchTick = ev.Tick
		}
	}
	if len(batch) > 0 {
		if err := emit(); err != nil {
			return res, err
		}
	}

	p := core.Params()
	tail := p.DebounceTicks + p.TapHoldTicks + p.OneShotTicks + 1
	for i := uint64(0); i < tail; i++ {
		tick++
		if err := step(tick, nil); err != nil {
			return res, err
		}
	}

	return res, nil
}
