package transport

import (
	"sync"

	"keymapd/internal/engine"
)

// Memory records every report it receives. Used by tests and dry runs that
// want to inspect the output stream instead of emitting it.
type Memory struct {
	mu       sync.Mutex
	keyboard []engine.Report
	consumer []engine.ConsumerReport
	closed   bool
}

func (m *Memory) WriteKeyboard(r engine.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keyboard = append(m.keyboard, r)
	return nil
}

func (m *Memory) WriteConsumer(r engine.ConsumerReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumer = append(m.consumer, r)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Keyboard returns a copy of the recorded keyboard reports.
func (m *Memory) Keyboard() []engine.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]engine.Report(nil), m.keyboard...)
}

// Consumer returns a copy of the recorded consumer reports.
func (m *Memory) Consumer() []engine.ConsumerReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]engine.ConsumerReport(nil), m.consumer...)
}

// Closed reports whether Close has been called.
func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Reset discards everything recorded so far.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keyboard = nil
	m.consumer = nil
}
