//go:build !linux

package device

import "context"

// Capture is a stub on platforms without an evdev backend.
type Capture struct{}

// NewCapture validates the options so pattern mistakes surface everywhere,
// but the capture itself is unavailable.
func NewCapture(sink Sink, opts Options) (*Capture, error) {
	if _, err := NewMatcher(opts.Include, opts.Exclude); err != nil {
		return nil, err
	}
	return &Capture{}, nil
}

// Start returns ErrUnsupported.
func (c *Capture) Start(ctx context.Context) error {
	return ErrUnsupported
}

// Stop is a no-op.
func (c *Capture) Stop() error {
	return nil
}

// Names returns nil.
func (c *Capture) Names() []string {
	return nil
}

// ListDevices returns ErrUnsupported; device enumeration needs the Linux
// input subsystem.
func ListDevices() ([]Info, error) {
	return nil, ErrUnsupported
}
