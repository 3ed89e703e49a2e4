// Package store persists dynamic keymap overrides and per-key usage
// statistics in SQLite.
package store

// Override is a runtime rebinding of one keymap position. Overrides are
// keyed by the fingerprint of the compiled keymap they were applied to, so
// editing the keymap file strands them rather than corrupting a layout they
// were never meant for.
type Override struct {
	Fingerprint string
	Layer       int
	Row         uint8
	Col         uint8
	Action      string
	UpdatedNs   int64
}

// Session is one daemon run against a particular keymap.
type Session struct {
	ID          string
	KeymapName  string
	Fingerprint string
	TickHz      int
	StartedNs   int64
	EndedNs     *int64
}

// KeyCount is the accumulated activity of one matrix position.
type KeyCount struct {
	Row     uint8
	Col     uint8
	Presses uint64
	Taps    uint64
	Holds   uint64
}

// StatsSummary aggregates key activity across all sessions of a keymap.
type StatsSummary struct {
	Sessions int
	Presses  uint64
	Taps     uint64
	Holds    uint64
	FirstNs  int64
	LastNs   int64
}
