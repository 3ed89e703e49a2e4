// Package device captures key events from host input devices and injects
// them into the engine. The Linux backend opens matching /dev/input/event*
// nodes, optionally grabs them for exclusive access, and folds kernel key
// codes into matrix positions. Replay drives a recorded journal segment
// through an engine core instead of live hardware.
package device

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gobwas/glob"

	"keymapd/internal/logging"
	"keymapd/internal/matrix"
)

// ErrUnsupported is returned on platforms without an input capture backend.
var ErrUnsupported = errors.New("device: capture not supported on this platform")

// Sink receives captured key events. The engine satisfies it.
type Sink interface {
	InjectEvent(ev matrix.KeyEvent)
}

// Options configure capture.
type Options struct {
	// Include and Exclude are glob patterns matched against device names.
	// An empty include list captures every keyboard-capable device.
	Include []string
	Exclude []string

	// Grab takes exclusive access to captured devices so the original
	// keystrokes do not reach the host alongside the remapped ones.
	Grab bool

	// Logger defaults to the package default.
	Logger *logging.Logger
}

// Info describes one input device from the kernel's device list.
type Info struct {
	// Path is the event node, for example /dev/input/event3.
	Path string
	// Name is the device name as the kernel reports it.
	Name string
	// Phys is the physical topology path. Virtual devices leave it empty.
	Phys string
	// Keyboard reports whether the key capability bitmap is keyboard sized.
	// The kernel's kbd handler is not enough: it also binds to power
	// buttons and other one-key devices.
	Keyboard bool
}

func (i Info) String() string {
	kind := "other"
	if i.Keyboard {
		kind = "keyboard"
	}
	return fmt.Sprintf("%s %q (%s)", i.Path, i.Name, kind)
}

// ParseDeviceList parses the /proc/bus/input/devices format: one block per
// device, blocks separated by blank lines. Devices without an event handler
// are skipped.
func ParseDeviceList(r io.Reader) ([]Info, error) {
	var devices []Info
	var cur Info

	flush := func() {
		if cur.Path != "" {
			devices = append(devices, cur)
		}
		cur = Info{}
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "N: Name="):
			cur.Name = strings.Trim(strings.TrimPrefix(line, "N: Name="), `"`)

		case strings.HasPrefix(line, "P: Phys="):
			cur.Phys = strings.TrimPrefix(line, "P: Phys=")

		case strings.HasPrefix(line, "H: Handlers="):
			for _, h := range strings.Fields(strings.TrimPrefix(line, "H: Handlers=")) {
				if strings.HasPrefix(h, "event") {
					cur.Path = "/dev/input/" + h
				}
			}

		case strings.HasPrefix(line, "B: KEY="):
			// Keyboards carry a wide key capability bitmap; pointer devices
			// with a few buttons do not.
			if len(strings.TrimSpace(strings.TrimPrefix(line, "B: KEY="))) > 20 {
				cur.Keyboard = true
			}

		case line == "":
			flush()
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return devices, fmt.Errorf("read device list: %w", err)
	}
	return devices, nil
}

// Matcher selects devices by name with include and exclude glob patterns.
// Matching is case insensitive. An empty include list matches everything;
// exclusion wins over inclusion.
type Matcher struct {
	include []glob.Glob
	exclude []glob.Glob
}

// NewMatcher compiles the pattern lists.
func NewMatcher(include, exclude []string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range include {
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return nil, fmt.Errorf("compile include pattern %q: %w", p, err)
		}
		m.include = append(m.include, g)
	}
	for _, p := range exclude {
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return nil, fmt.Errorf("compile exclude pattern %q: %w", p, err)
		}
		m.exclude = append(m.exclude, g)
	}
	return m, nil
}

// Match reports whether a device name passes the pattern lists.
func (m *Matcher) Match(name string) bool {
	n := strings.ToLower(name)
	for _, g := range m.exclude {
		if g.Match(n) {
			return false
		}
	}
	if len(m.include) == 0 {
		return true
	}
	for _, g := range m.include {
		if g.Match(n) {
			return true
		}
	}
	return false
}
