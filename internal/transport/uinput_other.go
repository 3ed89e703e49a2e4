//go:build !linux

package transport

import (
	"keymapd/internal/engine"
	"keymapd/internal/logging"
)

// Uinput is unavailable off Linux; the uinput device is a kernel feature.
type Uinput struct{}

func NewUinput(name string, logger *logging.Logger) (*Uinput, error) {
	return nil, ErrUnsupported
}

func (*Uinput) WriteKeyboard(engine.Report) error         { return ErrUnsupported }
func (*Uinput) WriteConsumer(engine.ConsumerReport) error { return ErrUnsupported }
func (*Uinput) Close() error                              { return nil }
