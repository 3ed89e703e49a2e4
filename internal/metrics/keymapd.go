package metrics

import (
	"strings"
	"sync"
	"time"

	"keymapd/internal/engine"
)

// DaemonMetrics holds all keymapd metrics. The engine keeps its own
// counters internally; UpdateEngine bridges them into the registry as
// monotonic totals.
type DaemonMetrics struct {
	registry *Registry

	// Engine counters, bridged from engine.Counters.
	Ticks             *Counter
	KeyPresses        *Counter
	KeyReleases       *Counter
	Taps              *Counter
	Holds             *Counter
	ReportsQueued     *Counter
	ReportsDropped    *Counter
	EventsDropped     *Counter
	ChatterSuppressed *Counter
	MacrosPlayed      *Counter
	MacrosDropped     *Counter
	OneShotExpired    *Counter
	SpuriousEvents    *Counter
	PendingOverflow   *Counter

	// Daemon counters.
	LayerChanges   *Counter
	KeymapSwaps    *Counter
	Rebinds        *Counter
	JournalRecords *Counter
	StatsFlushes   *Counter
	IPCRequests    *Counter
	Errors         *Counter

	// Gauges.
	ActiveLayers     *Gauge
	ConnectedClients *Gauge
	UptimeSeconds    *Gauge
	JournalSizeBytes *Gauge
	DevicesOpen      *Gauge

	// Histograms.
	IPCRequestDuration    *Histogram
	StatsFlushDuration    *Histogram
	KeymapCompileDuration *Histogram

	mu   sync.Mutex
	prev engine.Counters
}

// NewDaemonMetrics creates and registers all keymapd metrics.
func NewDaemonMetrics(registry *Registry) *DaemonMetrics {
	m := &DaemonMetrics{
		registry: registry,
	}

	m.Ticks = registry.RegisterCounter(
		"ticks_total",
		"Total engine ticks processed",
		nil,
	)
	m.KeyPresses = registry.RegisterCounter(
		"key_presses_total",
		"Total key press events accepted",
		nil,
	)
	m.KeyReleases = registry.RegisterCounter(
		"key_releases_total",
		"Total key release events accepted",
		nil,
	)
	m.Taps = registry.RegisterCounter(
		"taps_total",
		"Total tap-hold keys resolved as taps",
		nil,
	)
	m.Holds = registry.RegisterCounter(
		"holds_total",
		"Total tap-hold keys resolved as holds",
		nil,
	)
	m.ReportsQueued = registry.RegisterCounter(
		"reports_queued_total",
		"Total HID reports queued for dispatch",
		nil,
	)
	m.ReportsDropped = registry.RegisterCounter(
		"reports_dropped_total",
		"Total HID reports dropped on transport backpressure",
		nil,
	)
	m.EventsDropped = registry.RegisterCounter(
		"events_dropped_total",
		"Total key events dropped at the engine inbox",
		nil,
	)
	m.ChatterSuppressed = registry.RegisterCounter(
		"chatter_suppressed_total",
		"Total events suppressed by the debounce filter",
		nil,
	)
	m.MacrosPlayed = registry.RegisterCounter(
		"macros_played_total",
		"Total macro playbacks started",
		nil,
	)
	m.MacrosDropped = registry.RegisterCounter(
		"macros_dropped_total",
		"Total macro playbacks refused while another was active",
		nil,
	)
	m.OneShotExpired = registry.RegisterCounter(
		"oneshot_expired_total",
		"Total one-shot layers expired without a key press",
		nil,
	)
	m.SpuriousEvents = registry.RegisterCounter(
		"spurious_events_total",
		"Total events rejected for out-of-range matrix positions",
		nil,
	)
	m.PendingOverflow = registry.RegisterCounter(
		"pending_overflow_total",
		"Total tap-hold keys force-resolved on pending table overflow",
		nil,
	)

	m.LayerChanges = registry.RegisterCounter(
		"layer_changes_total",
		"Total layer activation state changes",
		nil,
	)
	m.KeymapSwaps = registry.RegisterCounter(
		"keymap_swaps_total",
		"Total keymap hot swaps applied",
		nil,
	)
	m.Rebinds = registry.RegisterCounter(
		"rebinds_total",
		"Total single-key rebinds applied over the control socket",
		nil,
	)
	m.JournalRecords = registry.RegisterCounter(
		"journal_records_total",
		"Total records appended to the event journal",
		nil,
	)
	m.StatsFlushes = registry.RegisterCounter(
		"stats_flushes_total",
		"Total key statistics flushes to the store",
		nil,
	)
	m.IPCRequests = registry.RegisterCounter(
		"ipc_requests_total",
		"Total control socket requests handled",
		nil,
	)
	m.Errors = registry.RegisterCounter(
		"errors_total",
		"Total errors logged by the daemon",
		nil,
	)

	m.ActiveLayers = registry.RegisterGauge(
		"active_layers",
		"Number of currently active layers",
		nil,
	)
	m.ConnectedClients = registry.RegisterGauge(
		"connected_clients",
		"Number of connected control socket clients",
		nil,
	)
	m.UptimeSeconds = registry.RegisterGauge(
		"uptime_seconds",
		"Daemon uptime in seconds",
		nil,
	)
	m.JournalSizeBytes = registry.RegisterGauge(
		"journal_size_bytes",
		"Current size of the event journal in bytes",
		nil,
	)
	m.DevicesOpen = registry.RegisterGauge(
		"devices_open",
		"Number of input devices currently captured",
		nil,
	)

	m.IPCRequestDuration = registry.RegisterHistogram(
		"ipc_request_duration_seconds",
		"Control socket request handling duration",
		nil,
		DurationBuckets,
	)
	m.StatsFlushDuration = registry.RegisterHistogram(
		"stats_flush_duration_seconds",
		"Key statistics flush duration",
		nil,
		DurationBuckets,
	)
	m.KeymapCompileDuration = registry.RegisterHistogram(
		"keymap_compile_duration_seconds",
		"Keymap parse and compile duration",
		nil,
		DurationBuckets,
	)

	return m
}

// UpdateEngine folds an engine counter snapshot into the registry. The
// engine reports running totals, so each call adds the delta since the
// previous snapshot. A snapshot that went backwards (engine restarted)
// contributes nothing for that field.
func (m *DaemonMetrics) UpdateEngine(c engine.Counters) {
	m.mu.Lock()
	defer m.mu.Unlock()

	addDelta(m.Ticks, m.prev.Ticks, c.Ticks)
	addDelta(m.KeyPresses, m.prev.Presses, c.Presses)
	addDelta(m.KeyReleases, m.prev.Releases, c.Releases)
	addDelta(m.Taps, m.prev.Taps, c.Taps)
	addDelta(m.Holds, m.prev.Holds, c.Holds)
	addDelta(m.ReportsQueued, m.prev.ReportsQueued, c.ReportsQueued)
	addDelta(m.ReportsDropped, m.prev.ReportsDropped, c.ReportsDropped)
	addDelta(m.EventsDropped, m.prev.EventsDropped, c.EventsDropped)
	addDelta(m.ChatterSuppressed, m.prev.ChatterSuppressed, c.ChatterSuppressed)
	addDelta(m.MacrosPlayed, m.prev.MacrosPlayed, c.MacrosPlayed)
	addDelta(m.MacrosDropped, m.prev.MacrosDropped, c.MacrosDropped)
	addDelta(m.OneShotExpired, m.prev.OneShotExpired, c.OneShotExpired)
	addDelta(m.SpuriousEvents, m.prev.SpuriousEvents, c.SpuriousEvents)
	addDelta(m.PendingOverflow, m.prev.PendingOverflow, c.PendingOverflow)
	m.prev = c
}

func addDelta(c *Counter, prev, cur uint64) {
	if cur >= prev {
		c.Add(cur - prev)
	}
}

// RecordLayerChange records a layer activation state change.
func (m *DaemonMetrics) RecordLayerChange() {
	m.LayerChanges.Inc()
}

// RecordKeymapSwap records a keymap hot swap.
func (m *DaemonMetrics) RecordKeymapSwap() {
	m.KeymapSwaps.Inc()
}

// RecordRebind records a single-key rebind.
func (m *DaemonMetrics) RecordRebind() {
	m.Rebinds.Inc()
}

// AddJournalRecords records journal appends.
func (m *DaemonMetrics) AddJournalRecords(n uint64) {
	m.JournalRecords.Add(n)
}

// RecordStatsFlush records a key statistics flush.
func (m *DaemonMetrics) RecordStatsFlush() {
	m.StatsFlushes.Inc()
}

// RecordIPCRequest records a handled control socket request.
func (m *DaemonMetrics) RecordIPCRequest() {
	m.IPCRequests.Inc()
}

// RecordError records a daemon error.
func (m *DaemonMetrics) RecordError() {
	m.Errors.Inc()
}

// SetActiveLayers sets the active layer count.
func (m *DaemonMetrics) SetActiveLayers(n int) {
	m.ActiveLayers.Set(int64(n))
}

// SetConnectedClients sets the connected client count.
func (m *DaemonMetrics) SetConnectedClients(n int) {
	m.ConnectedClients.Set(int64(n))
}

// SetUptime sets the uptime gauge.
func (m *DaemonMetrics) SetUptime(d time.Duration) {
	m.UptimeSeconds.Set(int64(d.Seconds()))
}

// SetJournalSize sets the journal size gauge.
func (m *DaemonMetrics) SetJournalSize(n int64) {
	m.JournalSizeBytes.Set(n)
}

// SetDevicesOpen sets the captured device count.
func (m *DaemonMetrics) SetDevicesOpen(n int) {
	m.DevicesOpen.Set(int64(n))
}

// StartIPCTimer starts a timer for a control socket request.
func (m *DaemonMetrics) StartIPCTimer() *HistogramTimer {
	return m.IPCRequestDuration.Timer()
}

// StartFlushTimer starts a timer for a statistics flush.
func (m *DaemonMetrics) StartFlushTimer() *HistogramTimer {
	return m.StatsFlushDuration.Timer()
}

// StartCompileTimer starts a timer for a keymap compile.
func (m *DaemonMetrics) StartCompileTimer() *HistogramTimer {
	return m.KeymapCompileDuration.Timer()
}

// Export renders the registry in Prometheus text format.
func (m *DaemonMetrics) Export() string {
	var b strings.Builder
	m.registry.WritePrometheus(&b)
	return b.String()
}

// Global metrics instance.
var (
	globalMetrics *DaemonMetrics
	globalOnce    sync.Once
)

// GetMetrics returns the global metrics instance, creating it on first use.
func GetMetrics() *DaemonMetrics {
	globalOnce.Do(func() {
		globalMetrics = NewDaemonMetrics(Default())
	})
	return globalMetrics
}
