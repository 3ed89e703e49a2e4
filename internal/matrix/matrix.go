// Package matrix scans a switch matrix into debounced key events. A Driver
// supplies raw switch levels when polled; the Scanner polls once per engine
// tick and confirms transitions through a deferred debounce window, so
// chatter shorter than the window never produces an event.
package matrix

import (
	"errors"
	"fmt"
	"sync"
)

// Supported matrix bounds. State is held in fixed arrays sized by these, so
// a position is always addressable without allocation.
const (
	MaxRows = 16
	MaxCols = 32
)

// RowBits is the raw switch state of one row, one bit per column, column 0
// at the least significant bit.
type RowBits uint32

// Pos identifies a physical switch by matrix coordinates.
type Pos struct {
	Row uint8
	Col uint8
}

func (p Pos) String() string {
	return fmt.Sprintf("r%dc%d", p.Row, p.Col)
}

// Index returns the position folded into a single array index,
// Row*MaxCols + Col.
func (p Pos) Index() int {
	return int(p.Row)*MaxCols + int(p.Col)
}

// PosForScancode folds a Linux input event code into a matrix position:
// 32 columns per row, so row = code/32 and col = code%32. Codes beyond the
// supported matrix do not map.
func PosForScancode(code uint16) (Pos, bool) {
	if code >= MaxRows*MaxCols {
		return Pos{}, false
	}
	return Pos{Row: uint8(code >> 5), Col: uint8(code & 0x1F)}, true
}

// KeyEvent is a confirmed key edge. Tick is the engine tick at which the
// transition was confirmed, not when the raw level first changed.
type KeyEvent struct {
	Pos     Pos
	Pressed bool
	Tick    uint64
}

func (e KeyEvent) String() string {
	edge := "release"
	if e.Pressed {
		edge = "press"
	}
	return fmt.Sprintf("%s %s @%d", edge, e.Pos, e.Tick)
}

// Driver reads raw switch levels from hardware or a simulation. Scan is
// called once per tick from the engine goroutine and must not block.
type Driver interface {
	// Dims returns the matrix dimensions. Constant for the driver's lifetime.
	Dims() (rows, cols int)
	// Scan fills dst, which has at least Dims rows, with the current raw
	// switch state.
	Scan(dst []RowBits) error
}

var ErrDimensions = errors.New("matrix: dimensions exceed supported size")

// SimDriver is a settable in-memory Driver for tests and replay. Set may be
// called from any goroutine.
type SimDriver struct {
	mu    sync.Mutex
	rows  int
	cols  int
	state [MaxRows]RowBits
}

func NewSimDriver(rows, cols int) (*SimDriver, error) {
	if rows <= 0 || rows > MaxRows || cols <= 0 || cols > MaxCols {
		return nil, ErrDimensions
	}
	return &SimDriver{rows: rows, cols: cols}, nil
}

func (d *SimDriver) Dims() (int, int) {
	return d.rows, d.cols
}

func (d *SimDriver) Scan(dst []RowBits) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for r := 0; r < d.rows; r++ {
		dst[r] = d.state[r]
	}
	return nil
}

// Set drives the raw level of one switch. Out-of-range positions are
// ignored.
func (d *SimDriver) Set(p Pos, pressed bool) {
	if int(p.Row) >= d.rows || int(p.Col) >= d.cols {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if pressed {
		d.state[p.Row] |= 1 << p.Col
	} else {
		d.state[p.Row] &^= 1 << p.Col
	}
}
