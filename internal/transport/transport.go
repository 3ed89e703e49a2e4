// Package transport delivers the reports the engine emits to an output
// backend: a uinput virtual keyboard, a USB HID gadget endpoint, a readable
// log, or nowhere. Every backend implements engine.Transport.
package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"keymapd/internal/config"
	"keymapd/internal/engine"
	"keymapd/internal/keycode"
	"keymapd/internal/logging"
)

// ErrUnsupported is returned when a backend needs a kernel feature the
// platform does not have.
var ErrUnsupported = errors.New("transport: not supported on this platform")

// New builds the transport named by the configuration. The uinput device
// name stays within the default capture exclude patterns, so the daemon
// never reads back its own output.
func New(cfg config.TransportConfig, logger *logging.Logger) (engine.Transport, error) {
	if logger == nil {
		logger = logging.Default()
	}
	switch cfg.Type {
	case "uinput":
		t, err := NewUinput(cfg.DeviceName, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	case "hidg":
		return NewHidg(cfg.HidgPath, logger)
	case "log":
		return NewLog(os.Stdout), nil
	case "none", "":
		return Discard{}, nil
	default:
		return nil, fmt.Errorf("transport: unknown type %q", cfg.Type)
	}
}

// Discard drops every report. It backs the "none" transport type, which is
// useful when recording a session without emitting anything.
type Discard struct{}

func (Discard) WriteKeyboard(engine.Report) error         { return nil }
func (Discard) WriteConsumer(engine.ConsumerReport) error { return nil }
func (Discard) Close() error                              { return nil }

// Log prints each report on its own line. It backs the "log" transport
// type and the replay command's output.
type Log struct {
	mu sync.Mutex
	w  io.Writer
}

func NewLog(w io.Writer) *Log {
	return &Log{w: w}
}

func (l *Log) WriteKeyboard(r engine.Report) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := fmt.Fprintf(l.w, "kbd %s\n", r.String())
	return err
}

func (l *Log) WriteConsumer(r engine.ConsumerReport) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	name := "-"
	if r.Usage != keycode.ConsumerNone {
		name = r.Usage.Name()
		if name == "" {
			name = fmt.Sprintf("0x%03X", uint16(r.Usage))
		}
	}
	_, err := fmt.Fprintf(l.w, "con %s\n", name)
	return err
}

func (l *Log) Close() error { return nil }
