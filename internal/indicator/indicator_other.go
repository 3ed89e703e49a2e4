//go:build !linux

package indicator

import (
	"keymapd/internal/config"
	"keymapd/internal/engine"
	"keymapd/internal/logging"
)

// Indicator is a no-op off Linux; notifications are wired to the
// freedesktop session bus only.
type Indicator struct{}

func New(cfg config.IndicatorConfig, logger *logging.Logger) (*Indicator, error) {
	return &Indicator{}, nil
}

func (*Indicator) HandleEvent(engine.Event) {}
func (*Indicator) Close() error             { return nil }
