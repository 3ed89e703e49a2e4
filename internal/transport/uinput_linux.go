//go:build linux

package transport

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"keymapd/internal/engine"
	"keymapd/internal/keycode"
	"keymapd/internal/logging"
)

const (
	uinputPath = "/dev/uinput"

	evSyn     = 0x00
	evKey     = 0x01
	synReport = 0

	// inputEventSize is sizeof(struct input_event) on 64-bit kernels:
	// 16 bytes of timestamp, then type, code, value. The kernel stamps
	// uinput events itself, so the timestamp is written as zero.
	inputEventSize = 24

	uinputMaxNameSize = 80
	absCnt            = 0x40

	// userDevSize is sizeof(struct uinput_user_dev): the name, the
	// input_id, ff_effects_max, and four absolute-axis arrays.
	userDevSize = uinputMaxNameSize + 8 + 4 + 4*4*absCnt

	// Identity of the virtual device node.
	busVirtual = 0x06
	vendorID   = 0x1209
	productID  = 0x6b6d
)

// ioctl request encoding (the kernel's _IOC macro).
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocNone  = 0
	iocWrite = 1
)

func ioc(dir, typ, nr, size uint32) uintptr {
	return uintptr((dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift))
}

// The uinput control requests: UI_SET_EVBIT and UI_SET_KEYBIT are
// _IOW('U', 100/101, int), UI_DEV_CREATE and UI_DEV_DESTROY are
// _IO('U', 1/2).
func uiSetEvBit() uintptr   { return ioc(iocWrite, 'U', 100, 4) }
func uiSetKeyBit() uintptr  { return ioc(iocWrite, 'U', 101, 4) }
func uiDevCreate() uintptr  { return ioc(iocNone, 'U', 1, 0) }
func uiDevDestroy() uintptr { return ioc(iocNone, 'U', 2, 0) }

// ioctl issues a request through SyscallConn so the descriptor stays
// registered with the runtime poller. The argument travels as the request
// argument itself.
func ioctl(f *os.File, req, arg uintptr) error {
	conn, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var errno unix.Errno
	if cerr := conn.Control(func(fd uintptr) {
		_, _, errno = unix.Syscall(unix.SYS_IOCTL, fd, req, arg)
	}); cerr != nil {
		return cerr
	}
	if errno != 0 {
		return errno
	}
	return nil
}

// Uinput is a virtual keyboard device. Reports are translated into the
// minimal key edges and injected through /dev/uinput, so any evdev consumer
// sees the remapped keyboard the same way it would see hardware.
type Uinput struct {
	log *logging.Logger

	mu       sync.Mutex
	f        *os.File
	state    keyState
	consumer uint16 // evdev code currently pressed from the consumer page
	scratch  []keyTransition
	buf      []byte
}

// NewUinput registers a virtual keyboard with every key and consumer code
// the daemon can emit. Needs write access to /dev/uinput, typically root
// or an input-group udev rule.
func NewUinput(name string, logger *logging.Logger) (*Uinput, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if name == "" {
		name = "keymapd virtual keyboard"
	}

	f, err := os.OpenFile(uinputPath, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s (is the uinput module loaded?): %w", uinputPath, err)
	}

	u := &Uinput{log: logger.WithComponent("transport"), f: f}
	if err := u.setup(name); err != nil {
		f.Close()
		return nil, err
	}
	u.log.Info("virtual keyboard created", "name", name)
	return u, nil
}

func (u *Uinput) setup(name string) error {
	if err := ioctl(u.f, uiSetEvBit(), uintptr(evKey)); err != nil {
		return fmt.Errorf("enable key events: %w", err)
	}
	for _, code := range evdevFromUsage {
		if code == 0 {
			continue
		}
		if err := ioctl(u.f, uiSetKeyBit(), uintptr(code)); err != nil {
			return fmt.Errorf("enable key code %d: %w", code, err)
		}
	}
	for _, code := range evdevFromConsumer {
		if err := ioctl(u.f, uiSetKeyBit(), uintptr(code)); err != nil {
			return fmt.Errorf("enable key code %d: %w", code, err)
		}
	}

	dev := make([]byte, userDevSize)
	copy(dev[:uinputMaxNameSize-1], name)
	binary.LittleEndian.PutUint16(dev[uinputMaxNameSize:], busVirtual)
	binary.LittleEndian.PutUint16(dev[uinputMaxNameSize+2:], vendorID)
	binary.LittleEndian.PutUint16(dev[uinputMaxNameSize+4:], productID)
	binary.LittleEndian.PutUint16(dev[uinputMaxNameSize+6:], 1)
	if _, err := u.f.Write(dev); err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	if err := ioctl(u.f, uiDevCreate(), 0); err != nil {
		return fmt.Errorf("create device: %w", err)
	}

	// The node takes a moment to appear and be opened by consumers; events
	// written before that are silently dropped.
	time.Sleep(150 * time.Millisecond)
	return nil
}

func appendEvent(buf []byte, typ, code uint16, value int32) []byte {
	var ev [inputEventSize]byte
	binary.LittleEndian.PutUint16(ev[16:], typ)
	binary.LittleEndian.PutUint16(ev[18:], code)
	binary.LittleEndian.PutUint32(ev[20:], uint32(value))
	return append(buf, ev[:]...)
}

func (u *Uinput) WriteKeyboard(r engine.Report) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.f == nil {
		return os.ErrClosed
	}

	u.scratch = u.state.transitions(r, u.scratch[:0])
	if len(u.scratch) == 0 {
		return nil
	}
	u.buf = u.buf[:0]
	for _, t := range u.scratch {
		code := evdevFromUsage[t.usage]
		if code == 0 {
			u.log.Debug("usage without evdev mapping", "usage", uint8(t.usage))
			continue
		}
		var value int32
		if t.pressed {
			value = 1
		}
		u.buf = appendEvent(u.buf, evKey, code, value)
	}
	if len(u.buf) == 0 {
		return nil
	}
	u.buf = appendEvent(u.buf, evSyn, synReport, 0)
	_, err := u.f.Write(u.buf)
	return err
}

func (u *Uinput) WriteConsumer(r engine.ConsumerReport) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.f == nil {
		return os.ErrClosed
	}

	var code uint16
	if r.Usage != keycode.ConsumerNone {
		var ok bool
		code, ok = evdevFromConsumer[r.Usage]
		if !ok {
			u.log.Debug("consumer usage without evdev mapping", "usage", uint16(r.Usage))
		}
	}
	if code == u.consumer {
		return nil
	}
	u.buf = u.buf[:0]
	if u.consumer != 0 {
		u.buf = appendEvent(u.buf, evKey, u.consumer, 0)
	}
	if code != 0 {
		u.buf = appendEvent(u.buf, evKey, code, 1)
	}
	u.consumer = code
	if len(u.buf) == 0 {
		return nil
	}
	u.buf = appendEvent(u.buf, evSyn, synReport, 0)
	_, err := u.f.Write(u.buf)
	return err
}

// Close lifts everything still pressed, destroys the virtual device, and
// closes /dev/uinput. Without the final release a key held at daemon exit
// would stick in every consumer.
func (u *Uinput) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.f == nil {
		return nil
	}

	u.scratch = u.state.transitions(engine.Report{}, u.scratch[:0])
	u.buf = u.buf[:0]
	for _, t := range u.scratch {
		if code := evdevFromUsage[t.usage]; code != 0 {
			u.buf = appendEvent(u.buf, evKey, code, 0)
		}
	}
	if u.consumer != 0 {
		u.buf = appendEvent(u.buf, evKey, u.consumer, 0)
		u.consumer = 0
	}
	if len(u.buf) > 0 {
		u.buf = appendEvent(u.buf, evSyn, synReport, 0)
		u.f.Write(u.buf)
	}

	ioctl(u.f, uiDevDestroy(), 0)
	err := u.f.Close()
	u.f = nil
	return err
}
