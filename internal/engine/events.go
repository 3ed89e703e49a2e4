package engine

import "fmt"

// EventKind classifies engine notifications.
type EventKind uint8

const (
	// EventLayerActivated fires when a layer joins the stack.
	EventLayerActivated EventKind = iota
	// EventLayerDeactivated fires when a layer leaves the stack.
	EventLayerDeactivated
	// EventDefaultChanged fires when the base layer is replaced.
	EventDefaultChanged
	// EventKeymapSwapped fires after a hot reload or import swaps the
	// keymap.
	EventKeymapSwapped
)

var eventKindNames = map[EventKind]string{
	EventLayerActivated:   "layer-activated",
	EventLayerDeactivated: "layer-deactivated",
	EventDefaultChanged:   "default-changed",
	EventKeymapSwapped:    "keymap-swapped",
}

func (k EventKind) String() string {
	if n, ok := eventKindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("event(%d)", uint8(k))
}

// Event is a notification emitted at the tick that caused it. Subscribers
// that fall behind lose events; delivery never blocks the tick loop.
type Event struct {
	Kind  EventKind
	Layer uint8
	Name  string
	Tick  uint64
}

// Counters are the engine's monotonic statistics. They are updated only by
// the tick goroutine and read through snapshots.
type Counters struct {
	Ticks             uint64 `json:"ticks"`
	Presses           uint64 `json:"presses"`
	Releases          uint64 `json:"releases"`
	Taps              uint64 `json:"taps"`
	Holds             uint64 `json:"holds"`
	ReportsQueued     uint64 `json:"reports_queued"`
	ReportsDropped    uint64 `json:"reports_dropped"`
	EventsDropped     uint64 `json:"events_dropped"`
	ChatterSuppressed uint64 `json:"chatter_suppressed"`
	MacrosPlayed      uint64 `json:"macros_played"`
	MacrosDropped     uint64 `json:"macros_dropped"`
	OneShotExpired    uint64 `json:"oneshot_expired"`
	SpuriousEvents    uint64 `json:"spurious_events"`
	PendingOverflow   uint64 `json:"pending_overflow"`
}

// Status is a point-in-time engine snapshot for IPC and the CLI.
type Status struct {
	Keymap       string   `json:"keymap"`
	Fingerprint  string   `json:"fingerprint"`
	Tick         uint64   `json:"tick"`
	TickHz       int      `json:"tick_hz"`
	ActiveLayers []string `json:"active_layers"`
	DefaultLayer string   `json:"default_layer"`
	OneShot      string   `json:"oneshot,omitempty"`
	NKRO         bool     `json:"nkro"`
	Counters     Counters `json:"counters"`
}

// KeyStat is one position's accumulated usage for the stats store.
type KeyStat struct {
	Row     uint8
	Col     uint8
	Presses uint32
	Taps    uint32
	Holds   uint32
}
