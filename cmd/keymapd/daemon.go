package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"keymapd/internal/config"
	"keymapd/internal/device"
	"keymapd/internal/engine"
	"keymapd/internal/indicator"
	"keymapd/internal/ipc"
	"keymapd/internal/journal"
	"keymapd/internal/logging"
	"keymapd/internal/matrix"
	"keymapd/internal/metrics"
	"keymapd/internal/store"
	"keymapd/internal/transport"
	"keymapd/internal/watcher"
)

// daemon owns every long-lived component and tears them down in reverse
// order of construction.
type daemon struct {
	cfg *config.Config
	log *logging.Logger

	keymap  *keymapManager
	st      *store.Store
	eng     *engine.Engine
	tr      engine.Transport
	capture *device.Capture
	jsink   *journalSink
	jw      *journal.Writer
	server  *ipc.Server
	handler *ipc.DaemonHandler
	watch   *watcher.Watcher
	ind     *indicator.Indicator
	met     *metrics.DaemonMetrics

	sessMu    sync.Mutex
	sessionID string

	// requestShutdown ends the run loop; wired to the IPC shutdown op.
	requestShutdown context.CancelFunc
}

// journalSink records key events on their way into the engine. The tick is
// stamped here from wall-clock elapsed time at the configured rate; the
// engine restamps injected events at drain time, so the journal tick only
// has to be internally consistent for replay.
type journalSink struct {
	next  device.Sink // nil when recording without a live engine
	w     *journal.Writer
	start time.Time
	hz    uint64
	log   *logging.Logger

	mu   sync.Mutex
	full bool
}

func newJournalSink(next device.Sink, w *journal.Writer, tickHz int, log *logging.Logger) *journalSink {
	return &journalSink{
		next:  next,
		w:     w,
		start: time.Now(),
		hz:    uint64(tickHz),
		log:   log.WithComponent("journal"),
	}
}

func (s *journalSink) InjectEvent(ev matrix.KeyEvent) {
	ev.Tick = uint64(time.Since(s.start)) * s.hz / uint64(time.Second)

	s.mu.Lock()
	if !s.full {
		switch err := s.w.Append(ev); {
		case err == nil:
		case errors.Is(err, journal.ErrJournalFull):
			s.full = true
			s.log.Warn("journal segment full, recording stopped", "path", s.w.Path())
		default:
			s.log.Warn("journal append failed", "error", err)
		}
	}
	s.mu.Unlock()

	if s.next != nil {
		s.next.InjectEvent(ev)
	}
}

func newLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	return logging.New(&logging.Config{
		Level:      level,
		Format:     format,
		Output:     cfg.Output,
		FilePath:   cfg.FilePath,
		MaxSize:    int64(cfg.MaxSizeMB),
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
		Component:  "keymapd",
	})
}

// newDaemon builds every component from the configuration. Nothing is
// started yet; run brings the pieces up and supervises them.
func newDaemon(cfg *config.Config) (*daemon, error) {
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	logging.SetDefault(log)

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	d := &daemon{cfg: cfg, log: log, met: metrics.GetMetrics()}

	if cfg.Store.Enabled {
		st, err := store.Open(cfg.Store.Path, cfg.Store.BusyTimeoutMs)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		d.st = st
	}

	var overridesFor func(string) ([]store.Override, error)
	if d.st != nil {
		overridesFor = d.st.Overrides
	}
	km, err := newKeymapManager(cfg.Keymap.Path, overridesFor, log)
	if err != nil {
		d.closePartial()
		return nil, fmt.Errorf("keymap: %w", err)
	}
	d.keymap = km

	if d.st != nil {
		// Overrides for keymaps that no longer exist are dead weight.
		if n, err := d.st.PruneOverrides(km.Live().Fingerprint()); err != nil {
			log.Warn("override prune failed", "error", err)
		} else if n > 0 {
			log.Info("stale overrides pruned", "count", n)
		}
	}

	tr, err := transport.New(cfg.Transport, log)
	if err != nil {
		d.closePartial()
		return nil, fmt.Errorf("transport: %w", err)
	}
	d.tr = tr

	core, err := engine.NewCore(km.Live().Clone(), nil, cfg.EngineParams())
	if err != nil {
		d.closePartial()
		return nil, fmt.Errorf("engine: %w", err)
	}
	d.eng = engine.New(core, tr, log.Logger)
	km.setEngine(d.eng)

	var sink device.Sink = d.eng
	if cfg.Journal.Enabled {
		path := filepath.Join(cfg.Journal.Dir, journal.SegmentName(time.Now()))
		jw, err := journal.Create(path, cfg.Engine.TickHz, journal.WriterOptions{
			MaxSizeBytes: cfg.Journal.MaxSizeBytes,
			FlushEvery:   cfg.Journal.FlushEvery,
		})
		if err != nil {
			d.closePartial()
			return nil, fmt.Errorf("journal: %w", err)
		}
		d.jw = jw
		d.jsink = newJournalSink(d.eng, jw, cfg.Engine.TickHz, log)
		sink = d.jsink
		log.Info("journaling events", "path", path)
	}

	if cfg.Capture.Enabled {
		capt, err := device.NewCapture(sink, device.Options{
			Include: cfg.Capture.IncludePatterns,
			Exclude: cfg.Capture.ExcludePatterns,
			Grab:    cfg.Capture.Grab,
			Logger:  log,
		})
		if err != nil {
			d.closePartial()
			return nil, fmt.Errorf("capture: %w", err)
		}
		d.capture = capt
	}

	if cfg.IPC.Enabled {
		d.handler = ipc.NewDaemonHandler(ipc.DaemonHandlerConfig{
			Version: Version,
			Engine:  d.eng,
			Keymap:  km,
			Store:   d.st,
			Metrics: d.met.Export,
			Devices: func() []string {
				if d.capture == nil {
					return nil
				}
				return d.capture.Names()
			},
			Clients: func() int {
				if d.server == nil {
					return 0
				}
				return d.server.ClientCount()
			},
			Session: d.currentSession,
			Shutdown: func() {
				if d.requestShutdown != nil {
					d.requestShutdown()
				}
			},
			Transport: cfg.Transport.Type,
			Logger:    log,
		})

		serverCfg := ipc.DefaultServerConfig(cfg.IPC.SocketPath)
		serverCfg.Version = Version
		serverCfg.MaxConnections = cfg.IPC.MaxConnections
		serverCfg.Logger = log
		if cfg.IPC.TimeoutSec > 0 {
			serverCfg.ReadTimeout = time.Duration(cfg.IPC.TimeoutSec) * time.Second
		}
		server, err := ipc.NewServer(serverCfg, d.handler)
		if err != nil {
			d.closePartial()
			return nil, fmt.Errorf("ipc: %w", err)
		}
		d.server = server
		d.handler.SetBroadcaster(server.Broadcast)
	}

	if cfg.Indicator.Enabled {
		ind, err := indicator.New(cfg.Indicator, log)
		if err != nil {
			// No session bus is normal on headless systems.
			log.Warn("layer indicator unavailable", "error", err)
		} else {
			d.ind = ind
		}
	}

	if cfg.Keymap.Watch {
		w, err := watcher.New(cfg.Keymap.Path, 100*time.Millisecond, log)
		if err != nil {
			d.closePartial()
			return nil, fmt.Errorf("watcher: %w", err)
		}
		d.watch = w
	}

	return d, nil
}

func (d *daemon) currentSession() string {
	d.sessMu.Lock()
	defer d.sessMu.Unlock()
	return d.sessionID
}

// run starts the components and supervises them until ctx ends. The engine
// stays last to stop so pending reports still drain through the transport.
func (d *daemon) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.requestShutdown = cancel

	if err := d.eng.Start(); err != nil {
		return err
	}

	if d.capture != nil {
		if err := d.capture.Start(ctx); err != nil {
			if errors.Is(err, device.ErrUnsupported) {
				d.log.Warn("input capture not supported on this platform")
			} else {
				d.eng.Stop()
				return err
			}
		}
	}

	if d.server != nil {
		if err := d.server.Start(); err != nil {
			d.stopInputs()
			d.eng.Stop()
			return err
		}
		d.log.Info("control socket listening", "path", d.server.SocketPath())
	}

	if d.st != nil {
		km := d.keymap.Live()
		sess, err := d.st.BeginSession(km.Name, km.Fingerprint(), d.cfg.Engine.TickHz, time.Now().UnixNano())
		if err != nil {
			d.log.Warn("session not recorded", "error", err)
		} else {
			d.sessMu.Lock()
			d.sessionID = sess.ID
			d.sessMu.Unlock()
		}
	}

	if d.watch != nil {
		if err := d.watch.Start(); err != nil {
			d.log.Warn("keymap watch failed", "error", err)
			d.watch = nil
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { d.bridgeEvents(egCtx); return nil })
	eg.Go(func() error { d.metricsLoop(egCtx); return nil })
	if d.st != nil && d.cfg.Store.StatsFlushSec > 0 {
		eg.Go(func() error { d.statsLoop(egCtx); return nil })
	}
	if d.watch != nil {
		eg.Go(func() error { d.watchLoop(egCtx); return nil })
	}

	d.log.Info("keymapd running",
		"version", Version,
		"keymap", d.keymap.Live().Name,
		"fingerprint", d.keymap.Live().Fingerprint(),
		"transport", d.cfg.Transport.Type,
		"tick_hz", d.cfg.Engine.TickHz)

	<-ctx.Done()
	d.log.Info("shutting down")

	// Stop the sources first so nothing new enters the pipeline.
	d.stopInputs()
	if d.watch != nil {
		d.watch.Stop()
	}
	eg.Wait()

	if d.server != nil {
		if err := d.server.Stop(); err != nil {
			d.log.Warn("ipc stop failed", "error", err)
		}
	}

	d.flushStats()
	if d.st != nil {
		d.sessMu.Lock()
		id := d.sessionID
		d.sessionID = ""
		d.sessMu.Unlock()
		if id != "" {
			if err := d.st.EndSession(id, time.Now().UnixNano()); err != nil {
				d.log.Warn("session not closed", "error", err)
			}
		}
	}

	if err := d.eng.Stop(); err != nil && !errors.Is(err, engine.ErrNotRunning) {
		d.log.Warn("engine stop failed", "error", err)
	}
	d.closePartial()
	d.log.Info("stopped")
	return nil
}

func (d *daemon) stopInputs() {
	if d.capture != nil {
		if err := d.capture.Stop(); err != nil {
			d.log.Warn("capture stop failed", "error", err)
		}
	}
}

// closePartial closes whatever has been constructed, newest first. Safe to
// call twice; used both for constructor unwinding and final shutdown.
func (d *daemon) closePartial() {
	if d.ind != nil {
		d.ind.Close()
		d.ind = nil
	}
	if d.jw != nil {
		if err := d.jw.Close(); err != nil {
			d.log.Warn("journal close failed", "error", err)
		}
		d.jw = nil
	}
	if d.tr != nil {
		if err := d.tr.Close(); err != nil {
			d.log.Warn("transport close failed", "error", err)
		}
		d.tr = nil
	}
	if d.st != nil {
		if err := d.st.Close(); err != nil {
			d.log.Warn("store close failed", "error", err)
		}
		d.st = nil
	}
}

// bridgeEvents fans engine notifications out to the indicator, the metrics
// registry, and IPC subscribers.
func (d *daemon) bridgeEvents(ctx context.Context) {
	events, cancel := d.eng.Subscribe(64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if d.ind != nil {
				d.ind.HandleEvent(ev)
			}
			switch ev.Kind {
			case engine.EventKeymapSwapped:
				d.met.RecordKeymapSwap()
				d.broadcast(&ipc.Event{
					Type:      ipc.EventKeymapSwap,
					Timestamp: time.Now(),
					Data: ipc.KeymapSwapEvent{
						Name:        ev.Name,
						Fingerprint: d.keymap.Live().Fingerprint(),
						Tick:        ev.Tick,
					},
				})
			default:
				d.met.RecordLayerChange()
				active := []string(nil)
				if st, err := d.eng.Status(); err == nil {
					active = st.ActiveLayers
					d.met.SetActiveLayers(len(active))
				}
				d.broadcast(&ipc.Event{
					Type:      ipc.EventLayerChange,
					Timestamp: time.Now(),
					Data: ipc.LayerChangeEvent{
						Layer:        ev.Layer,
						Name:         ev.Name,
						Active:       ev.Kind != engine.EventLayerDeactivated,
						ActiveLayers: active,
						Tick:         ev.Tick,
					},
				})
			}
		}
	}
}

func (d *daemon) broadcast(ev *ipc.Event) {
	if d.server != nil {
		d.server.Broadcast(ev)
	}
}

// metricsLoop refreshes gauges and counter deltas once a second and
// reports drops to subscribers as they happen.
func (d *daemon) metricsLoop(ctx context.Context) {
	start := time.Now()
	var lastDropped uint64

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st, err := d.eng.Status()
			if err != nil {
				continue
			}
			d.met.UpdateEngine(st.Counters)
			d.met.SetUptime(time.Since(start))
			d.met.SetActiveLayers(len(st.ActiveLayers))
			if d.server != nil {
				d.met.SetConnectedClients(d.server.ClientCount())
			}
			if d.capture != nil {
				d.met.SetDevicesOpen(len(d.capture.Names()))
			}
			if d.jw != nil {
				d.met.SetJournalSize(d.jw.Size())
			}
			if st.Counters.ReportsDropped > lastDropped {
				d.broadcast(&ipc.Event{
					Type:      ipc.EventReportDrop,
					Timestamp: time.Now(),
					Data: ipc.ReportDropEvent{
						Dropped: st.Counters.ReportsDropped - lastDropped,
						Tick:    st.Tick,
					},
				})
				lastDropped = st.Counters.ReportsDropped
			}
		}
	}
}

// statsLoop periodically drains per-key counts into the session.
func (d *daemon) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(d.cfg.Store.StatsFlushSec) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.flushStats()
		}
	}
}

func (d *daemon) flushStats() {
	if d.st == nil {
		return
	}
	id := d.currentSession()
	if id == "" {
		return
	}
	stats, err := d.eng.TakeKeyStats()
	if err != nil || len(stats) == 0 {
		return
	}
	t := d.met.StartFlushTimer()
	if err := d.st.AddKeyStats(id, stats); err != nil {
		d.log.Warn("stats flush failed", "error", err)
	} else {
		d.met.RecordStatsFlush()
	}
	t.Stop()
}

// watchLoop reloads the keymap when the file settles after a change. A
// rewrite that fails to compile is logged and ignored; the running keymap
// stays in effect.
func (d *daemon) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-d.watch.Events():
			if !ok {
				return
			}
			km, err := d.keymap.Reload()
			if err != nil {
				d.log.Warn("keymap rewrite rejected", "path", ev.Path, "error", err)
				continue
			}
			d.log.Info("keymap hot reloaded",
				"keymap", km.Name,
				"fingerprint", km.Fingerprint(),
				"layers", len(km.Layers))
		case err, ok := <-d.watch.Errors():
			if !ok {
				return
			}
			d.log.Warn("keymap watch error", "error", err)
		}
	}
}
