package transport

import (
	"fmt"
	"os"
	"sync"

	"keymapd/internal/engine"
	"keymapd/internal/logging"
)

// Hidg writes boot-protocol reports to a USB HID gadget endpoint, for
// machines that present themselves as a keyboard to another host. The
// gadget function is configured outside the daemon (configfs); keymapd
// only writes the 8-byte reports.
type Hidg struct {
	log *logging.Logger

	mu           sync.Mutex
	f            *os.File
	consumerOnce sync.Once
}

func NewHidg(path string, logger *logging.Logger) (*Hidg, error) {
	if logger == nil {
		logger = logging.Default()
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open gadget endpoint %s: %w", path, err)
	}
	return &Hidg{log: logger.WithComponent("transport"), f: f}, nil
}

func (h *Hidg) WriteKeyboard(r engine.Report) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.f == nil {
		return os.ErrClosed
	}
	b := r.BootBytes()
	_, err := h.f.Write(b[:])
	return err
}

// WriteConsumer drops the report: the gadget endpoint carries only the
// keyboard function, so consumer usages have nowhere to go.
func (h *Hidg) WriteConsumer(r engine.ConsumerReport) error {
	h.consumerOnce.Do(func() {
		h.log.Debug("gadget endpoint is keyboard only, dropping consumer usages")
	})
	return nil
}

// Close releases anything the host still sees as held, then closes the
// endpoint.
func (h *Hidg) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.f == nil {
		return nil
	}
	var zero [8]byte
	h.f.Write(zero[:])
	err := h.f.Close()
	h.f = nil
	return err
}
