//go:build linux

package indicator

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"keymapd/internal/config"
	"keymapd/internal/engine"
	"keymapd/internal/logging"
)

const (
	notifyService = "org.freedesktop.Notifications"
	notifyPath    = "/org/freedesktop/Notifications"
	notifyMethod  = "org.freedesktop.Notifications.Notify"
)

// Indicator pops a desktop notification when the layer state changes. Each
// notification replaces the previous one, so fast layer taps do not stack
// popups.
type Indicator struct {
	log     *logging.Logger
	timeout int32

	mu     sync.Mutex
	conn   *dbus.Conn
	lastID uint32
}

// New connects to the session bus. Headless systems without one get an
// error; the daemon logs it and runs without the indicator.
func New(cfg config.IndicatorConfig, logger *logging.Logger) (*Indicator, error) {
	if logger == nil {
		logger = logging.Default()
	}
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &Indicator{
		log:     logger.WithComponent("indicator"),
		timeout: int32(cfg.TimeoutMs),
		conn:    conn,
	}, nil
}

// HandleEvent renders an engine event as a notification. Errors are
// logged, not returned, so a broken notification daemon cannot disturb the
// event subscriber.
func (in *Indicator) HandleEvent(ev engine.Event) {
	summary := summaryFor(ev)
	if summary == "" {
		return
	}
	if err := in.notify(summary); err != nil {
		in.log.Debug("notification failed", "error", err)
	}
}

func (in *Indicator) notify(summary string) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.conn == nil {
		return nil
	}
	obj := in.conn.Object(notifyService, notifyPath)
	call := obj.Call(notifyMethod, 0,
		"keymapd",
		in.lastID, // replace the previous popup
		"input-keyboard",
		summary,
		"",
		[]string{},
		map[string]dbus.Variant{},
		in.timeout,
	)
	if call.Err != nil {
		return call.Err
	}
	return call.Store(&in.lastID)
}

// Close drops the bus connection.
func (in *Indicator) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.conn == nil {
		return nil
	}
	err := in.conn.Close()
	in.conn = nil
	return err
}
