package matrix

import "fmt"

// Scanner polls a Driver once per tick and debounces every switch. Poll is
// not safe for concurrent use; the engine calls it from its tick goroutine
// only.
type Scanner struct {
	drv    Driver
	deb    *Debouncer
	rows   int
	cols   int
	raw    []RowBits
	events []KeyEvent
	polls  uint64
}

func NewScanner(drv Driver, windowTicks uint64) (*Scanner, error) {
	rows, cols := drv.Dims()
	if rows <= 0 || rows > MaxRows || cols <= 0 || cols > MaxCols {
		return nil, fmt.Errorf("%w: %dx%d", ErrDimensions, rows, cols)
	}
	return &Scanner{
		drv:    drv,
		deb:    NewDebouncer(windowTicks),
		rows:   rows,
		cols:   cols,
		raw:    make([]RowBits, rows),
		events: make([]KeyEvent, 0, rows*cols),
	}, nil
}

// Dims returns the scanned matrix dimensions.
func (s *Scanner) Dims() (rows, cols int) {
	return s.rows, s.cols
}

// Poll reads the driver and returns the transitions confirmed at this tick.
// The returned slice is reused by the next Poll.
func (s *Scanner) Poll(tick uint64) ([]KeyEvent, error) {
	if err := s.drv.Scan(s.raw); err != nil {
		return nil, fmt.Errorf("matrix scan: %w", err)
	}
	s.polls++
	s.events = s.events[:0]
	for r := 0; r < s.rows; r++ {
		bits := s.raw[r]
		for c := 0; c < s.cols; c++ {
			pressed := bits&(1<<uint(c)) != 0
			s.events = s.deb.Update(Pos{Row: uint8(r), Col: uint8(c)}, pressed, tick, s.events)
		}
	}
	return s.events, nil
}

// Polls returns the number of completed driver scans.
func (s *Scanner) Polls() uint64 {
	return s.polls
}

// Suppressed returns the number of sub-window transitions cancelled by the
// debouncer.
func (s *Scanner) Suppressed() uint64 {
	return s.deb.Suppressed()
}
