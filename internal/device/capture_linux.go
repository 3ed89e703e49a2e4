//go:build linux

package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"keymapd/internal/logging"
	"keymapd/internal/matrix"
)

// Linux input event plumbing.
const (
	evKey = 0x01

	keyRelease = 0
	keyPress   = 1
	keyRepeat  = 2

	// inputEventSize is sizeof(struct input_event) on 64-bit kernels:
	// 16 bytes of timestamp, then type, code, value.
	inputEventSize = 24
)

const deviceListPath = "/proc/bus/input/devices"

// ioctl request encoding (the kernel's _IOC macro).
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocWrite = 1
)

func ioc(dir, typ, nr, size uint32) uintptr {
	return uintptr((dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift))
}

// eviocgrab is EVIOCGRAB, _IOW('E', 0x90, int).
func eviocgrab() uintptr {
	return ioc(iocWrite, 'E', 0x90, 4)
}

// setGrab toggles exclusive access. The flag travels as the ioctl argument
// itself, not through a pointer: any non-zero value grabs, zero releases.
// The ioctl goes through SyscallConn so the descriptor stays registered
// with the runtime poller and Close still interrupts a blocked Read.
func setGrab(f *os.File, on bool) error {
	conn, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var flag uintptr
	if on {
		flag = 1
	}
	var errno unix.Errno
	if cerr := conn.Control(func(fd uintptr) {
		_, _, errno = unix.Syscall(unix.SYS_IOCTL, fd, eviocgrab(), flag)
	}); cerr != nil {
		return cerr
	}
	if errno != 0 {
		return errno
	}
	return nil
}

// ListDevices enumerates the kernel's input devices.
func ListDevices() ([]Info, error) {
	f, err := os.Open(deviceListPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", deviceListPath, err)
	}
	defer f.Close()
	return ParseDeviceList(f)
}

// Capture owns a set of evdev keyboards and pumps their key events into a
// Sink. One reader goroutine runs per device; a device that detaches
// mid-session stops its own reader without disturbing the rest.
type Capture struct {
	matcher *Matcher
	grab    bool
	sink    Sink
	log     *logging.Logger

	mu      sync.Mutex
	running bool
	files   []*os.File
	names   []string
	cancel  context.CancelFunc
	eg      *errgroup.Group
}

// NewCapture compiles the device patterns and prepares a capture. Nothing
// is opened until Start.
func NewCapture(sink Sink, opts Options) (*Capture, error) {
	matcher, err := NewMatcher(opts.Include, opts.Exclude)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Capture{
		matcher: matcher,
		grab:    opts.Grab,
		sink:    sink,
		log:     logger.WithComponent("device"),
	}, nil
}

// Start opens every matching keyboard device and begins capture. Opening
// /dev/input nodes needs read access, typically root or the input group.
// At least one device must open.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errors.New("device: capture already running")
	}

	infos, err := ListDevices()
	if err != nil {
		return err
	}

	var files []*os.File
	var names []string
	for _, info := range infos {
		if !info.Keyboard || !c.matcher.Match(info.Name) {
			continue
		}
		f, err := os.Open(info.Path)
		if err != nil {
			c.log.Warn("skipping device", "path", info.Path, "name", info.Name, "error", err)
			continue
		}
		if c.grab {
			if err := setGrab(f, true); err != nil {
				f.Close()
				c.log.Warn("grab failed, skipping device", "path", info.Path, "name", info.Name, "error", err)
				continue
			}
		}
		files = append(files, f)
		names = append(names, info.Name)
		c.log.Info("captured device", "path", info.Path, "name", info.Name, "grabbed", c.grab)
	}
	if len(files) == 0 {
		return errors.New("device: no input devices captured (check patterns and /dev/input permissions)")
	}

	runCtx, cancel := context.WithCancel(ctx)
	eg, runCtx := errgroup.WithContext(runCtx)
	for i, f := range files {
		i, f := i, f
		eg.Go(func() error {
			defer logging.RecoverPanic()
			c.readLoop(runCtx, f, names[i])
			return nil
		})
	}

	c.running = true
	c.files = files
	c.names = names
	c.cancel = cancel
	c.eg = eg
	return nil
}

// readLoop parses input events from one device until it is closed, the
// context ends, or the device detaches.
func (c *Capture) readLoop(ctx context.Context, f *os.File, name string) {
	buf := make([]byte, inputEventSize)
	for {
		n, err := f.Read(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, os.ErrClosed) {
				return
			}
			// ENODEV is an unplug, not a failure.
			c.log.Info("device detached", "name", name, "error", err)
			return
		}
		if n != inputEventSize {
			continue
		}

		typ := binary.LittleEndian.Uint16(buf[16:18])
		code := binary.LittleEndian.Uint16(buf[18:20])
		value := int32(binary.LittleEndian.Uint32(buf[20:24]))

		if typ != evKey || value == keyRepeat {
			continue
		}
		pos, ok := matrix.PosForScancode(code)
		if !ok {
			c.log.Debug("key code outside matrix", "name", name, "code", code)
			continue
		}
		c.sink.InjectEvent(matrix.KeyEvent{Pos: pos, Pressed: value == keyPress})
	}
}

// Stop releases grabs, closes the devices, and waits for the readers.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	files := c.files
	cancel := c.cancel
	eg := c.eg
	c.files = nil
	c.names = nil
	c.mu.Unlock()

	cancel()
	for _, f := range files {
		if c.grab {
			setGrab(f, false)
		}
		f.Close()
	}
	return eg.Wait()
}

// Names returns the names of the currently captured devices.
func (c *Capture) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.names...)
}
