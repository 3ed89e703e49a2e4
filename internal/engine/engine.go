// Package engine runs the keymap pipeline: matrix scan, layer resolution,
// per-key tap/hold state machines, and report dispatch, on a fixed tick.
// Core is the synchronous state machine; Engine schedules it on a ticker
// goroutine, serializes runtime commands at tick boundaries, and drains the
// bounded report queue to a Transport on a writer goroutine.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"keymapd/internal/layout"
	"keymapd/internal/matrix"
)

var (
	ErrNotRunning = errors.New("engine: not running")
)

// Transport consumes the reports the engine emits. Implementations live in
// internal/transport; writes happen on the engine's writer goroutine and
// may block without stalling the tick loop.
type Transport interface {
	WriteKeyboard(r Report) error
	WriteConsumer(r ConsumerReport) error
	Close() error
}

// Engine wraps a Core with its runtime: the tick goroutine, the injected
// event channel, the report ring, and event subscribers.
type Engine struct {
	core      *Core
	transport Transport
	log       *slog.Logger

	ring   *reportRing
	notify chan struct{}
	inject chan matrix.KeyEvent
	cmds   chan command

	subsMu sync.Mutex
	subs   []chan Event

	injDropped  atomic.Uint64
	writeErrors atomic.Uint64

	running    bool
	runMu      sync.Mutex
	stop       chan struct{}
	loopDone   chan struct{}
	writerDone chan struct{}
}

type command struct {
	fn   func(*Core) error
	done chan error
}

// New wires a Core to a transport. The engine does not own the transport;
// the caller closes it after Stop.
func New(core *Core, tr Transport, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		core:      core,
		transport: tr,
		log:       logger,
		ring:      newReportRing(core.p.QueueSize),
		notify:    make(chan struct{}, 1),
		inject:    make(chan matrix.KeyEvent, core.p.EventBacklog),
		cmds:      make(chan command),
	}
}

// Start launches the tick loop and report writer.
func (e *Engine) Start() error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		return fmt.Errorf("engine: already running")
	}
	e.running = true
	e.stop = make(chan struct{})
	e.loopDone = make(chan struct{})
	e.writerDone = make(chan struct{})
	go e.loop()
	go e.writer()
	e.log.Info("engine started",
		"tick_hz", e.core.p.TickHz,
		"debounce_ticks", e.core.p.DebounceTicks,
		"taphold_ticks", e.core.p.TapHoldTicks,
		"nkro", e.core.p.NKRO)
	return nil
}

// Stop halts the tick loop and writer. Queued reports that were not yet
// written are discarded.
func (e *Engine) Stop() error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if !e.running {
		return nil
	}
	e.running = false
	close(e.stop)

	timeout := time.After(5 * time.Second)
	for _, done := range []chan struct{}{e.loopDone, e.writerDone} {
		select {
		case <-done:
		case <-timeout:
			return fmt.Errorf("engine: shutdown timed out")
		}
	}
	e.log.Info("engine stopped")
	return nil
}

// InjectEvent feeds a debounced key event from an input device. It never
// blocks: when the backlog is full the oldest queued event is dropped and
// counted.
func (e *Engine) InjectEvent(ev matrix.KeyEvent) {
	select {
	case e.inject <- ev:
		return
	default:
	}
	select {
	case <-e.inject:
		e.injDropped.Add(1)
	default:
	}
	select {
	case e.inject <- ev:
	default:
		e.injDropped.Add(1)
	}
}

// Subscribe registers an event listener. The returned cancel detaches it.
// Delivery is best effort: a full subscriber channel loses events rather
// than stalling the tick loop.
func (e *Engine) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	e.subsMu.Lock()
	e.subs = append(e.subs, ch)
	e.subsMu.Unlock()
	cancel := func() {
		e.subsMu.Lock()
		defer e.subsMu.Unlock()
		for i, c := range e.subs {
			if c == ch {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				return
			}
		}
	}
	return ch, cancel
}

func (e *Engine) loop() {
	defer close(e.loopDone)
	interval := time.Second / time.Duration(e.core.p.TickHz)
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var tick uint64
	injected := make([]matrix.KeyEvent, 0, e.core.p.EventBacklog)

	for {
		select {
		case <-e.stop:
			return

		case cmd := <-e.cmds:
			cmd.done <- cmd.fn(e.core)
			e.publishEvents()

		case <-ticker.C:
			tick++
			injected = injected[:0]
		drain:
			for len(injected) < cap(injected) {
				select {
				case ev := <-e.inject:
					injected = append(injected, ev)
				default:
					break drain
				}
			}
			if err := e.core.Step(tick, injected); err != nil {
				e.log.Error("tick failed", "tick", tick, "error", err)
				continue
			}
			e.flushOutputs()
			e.publishEvents()
		}
	}
}

func (e *Engine) flushOutputs() {
	outs := e.core.Outputs()
	if len(outs) == 0 {
		return
	}
	for _, out := range outs {
		e.ring.push(out)
	}
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

func (e *Engine) publishEvents() {
	evs := e.core.Events()
	if len(evs) == 0 {
		return
	}
	e.subsMu.Lock()
	for _, ev := range evs {
		for _, ch := range e.subs {
			select {
			case ch <- ev:
			default:
			}
		}
	}
	e.subsMu.Unlock()
	e.core.events = e.core.events[:0]
}

func (e *Engine) writer() {
	defer close(e.writerDone)
	for {
		select {
		case <-e.stop:
			return
		case <-e.notify:
			for {
				out, ok := e.ring.pop()
				if !ok {
					break
				}
				var err error
				switch out.Kind {
				case OutputKeyboard:
					err = e.transport.WriteKeyboard(out.Keyboard)
				case OutputConsumer:
					err = e.transport.WriteConsumer(out.Consumer)
				}
				if err != nil {
					e.writeErrors.Add(1)
					e.log.Error("report write failed", "error", err)
				}
			}
		}
	}
}

// do runs fn on the tick goroutine between ticks and returns its error.
func (e *Engine) do(fn func(*Core) error) error {
	e.runMu.Lock()
	if !e.running {
		e.runMu.Unlock()
		return ErrNotRunning
	}
	stop := e.stop
	e.runMu.Unlock()

	cmd := command{fn: fn, done: make(chan error, 1)}
	select {
	case e.cmds <- cmd:
		return <-cmd.done
	case <-stop:
		return ErrNotRunning
	}
}

// Status snapshots the engine, merging in runtime-side drop counters.
func (e *Engine) Status() (Status, error) {
	var st Status
	if err := e.do(func(c *Core) error {
		st = c.Snapshot()
		return nil
	}); err != nil {
		return Status{}, err
	}
	st.Counters.ReportsDropped = e.ring.droppedCount()
	st.Counters.EventsDropped = e.injDropped.Load()
	return st, nil
}

// SetAction rebinds a key position on the live keymap.
func (e *Engine) SetAction(layer, row, col int, a layout.Action) error {
	return e.do(func(c *Core) error { return c.SetAction(layer, row, col, a) })
}

// ActivateLayer pushes a layer.
func (e *Engine) ActivateLayer(layer int) error {
	return e.do(func(c *Core) error { return c.ActivateLayer(layer) })
}

// DeactivateLayer removes a layer; the base layer is refused.
func (e *Engine) DeactivateLayer(layer int) error {
	return e.do(func(c *Core) error { return c.DeactivateLayer(layer) })
}

// ToggleLayer flips a layer; the base layer is refused.
func (e *Engine) ToggleLayer(layer int) error {
	return e.do(func(c *Core) error { return c.ToggleLayer(layer) })
}

// SetDefaultLayer replaces the base layer.
func (e *Engine) SetDefaultLayer(layer int) error {
	return e.do(func(c *Core) error { return c.SetDefaultLayer(layer) })
}

// SwapKeymap hot-swaps the keymap at a tick boundary.
func (e *Engine) SwapKeymap(km *layout.Keymap) error {
	return e.do(func(c *Core) error { return c.SwapKeymap(km) })
}

// TakeKeyStats drains the accumulated per-key statistics.
func (e *Engine) TakeKeyStats() ([]KeyStat, error) {
	var stats []KeyStat
	err := e.do(func(c *Core) error {
		stats = c.TakeKeyStats(nil)
		return nil
	})
	return stats, err
}
