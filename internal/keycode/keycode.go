// Package keycode defines USB HID usage codes for the Keyboard/Keypad and
// Consumer pages, modifier bitmasks, and the name tables used by keymap
// files. Codes follow the USB HID Usage Tables, chapter 10.
package keycode

// Code is a usage code on the Keyboard/Keypad page (0x07).
type Code uint8

// Modifiers is the modifier bitmask of a keyboard report: one bit per
// modifier usage, LeftCtrl = bit 0 through RightGUI = bit 7.
type Modifiers uint8

const (
	ModLeftCtrl   Modifiers = 0x01
	ModLeftShift  Modifiers = 0x02
	ModLeftAlt    Modifiers = 0x04
	ModLeftGUI    Modifiers = 0x08
	ModRightCtrl  Modifiers = 0x10
	ModRightShift Modifiers = 0x20
	ModRightAlt   Modifiers = 0x40
	ModRightGUI   Modifiers = 0x80
)

const (
	// CodeNone is the null usage: no key.
	CodeNone Code = 0x00
	// CodeErrRollOver fills every key slot of a boot report when more keys
	// are held than the report can carry.
	CodeErrRollOver Code = 0x01
)

// Keyboard/Keypad page usages.
const (
	KeyA Code = 0x04
	KeyB Code = 0x05
	KeyC Code = 0x06
	KeyD Code = 0x07
	KeyE Code = 0x08
	KeyF Code = 0x09
	KeyG Code = 0x0A
	KeyH Code = 0x0B
	KeyI Code = 0x0C
	KeyJ Code = 0x0D
	KeyK Code = 0x0E
	KeyL Code = 0x0F
	KeyM Code = 0x10
	KeyN Code = 0x11
	KeyO Code = 0x12
	KeyP Code = 0x13
	KeyQ Code = 0x14
	KeyR Code = 0x15
	KeyS Code = 0x16
	KeyT Code = 0x17
	KeyU Code = 0x18
	KeyV Code = 0x19
	KeyW Code = 0x1A
	KeyX Code = 0x1B
	KeyY Code = 0x1C
	KeyZ Code = 0x1D

	Key1 Code = 0x1E
	Key2 Code = 0x1F
	Key3 Code = 0x20
	Key4 Code = 0x21
	Key5 Code = 0x22
	Key6 Code = 0x23
	Key7 Code = 0x24
	Key8 Code = 0x25
	Key9 Code = 0x26
	Key0 Code = 0x27

	KeyEnter      Code = 0x28
	KeyEscape     Code = 0x29
	KeyBackspace  Code = 0x2A
	KeyTab        Code = 0x2B
	KeySpace      Code = 0x2C
	KeyMinus      Code = 0x2D // - and _
	KeyEqual      Code = 0x2E // = and +
	KeyLeftBrace  Code = 0x2F // [ and {
	KeyRightBrace Code = 0x30 // ] and }
	KeyBackslash  Code = 0x31 // \ and |
	KeyNonUSHash  Code = 0x32 // Non-US # and ~
	KeySemicolon  Code = 0x33 // ; and :
	KeyApostrophe Code = 0x34 // ' and "
	KeyGrave      Code = 0x35 // ` and ~
	KeyComma      Code = 0x36 // , and <
	KeyPeriod     Code = 0x37 // . and >
	KeySlash      Code = 0x38 // / and ?
	KeyCapsLock   Code = 0x39

	KeyF1  Code = 0x3A
	KeyF2  Code = 0x3B
	KeyF3  Code = 0x3C
	KeyF4  Code = 0x3D
	KeyF5  Code = 0x3E
	KeyF6  Code = 0x3F
	KeyF7  Code = 0x40
	KeyF8  Code = 0x41
	KeyF9  Code = 0x42
	KeyF10 Code = 0x43
	KeyF11 Code = 0x44
	KeyF12 Code = 0x45

	KeyPrintScreen Code = 0x46
	KeyScrollLock  Code = 0x47
	KeyPause       Code = 0x48
	KeyInsert      Code = 0x49
	KeyHome        Code = 0x4A
	KeyPageUp      Code = 0x4B
	KeyDelete      Code = 0x4C
	KeyEnd         Code = 0x4D
	KeyPageDown    Code = 0x4E

	KeyRight Code = 0x4F
	KeyLeft  Code = 0x50
	KeyDown  Code = 0x51
	KeyUp    Code = 0x52

	KeyNumLock    Code = 0x53
	KeyKpSlash    Code = 0x54
	KeyKpAsterisk Code = 0x55
	KeyKpMinus    Code = 0x56
	KeyKpPlus     Code = 0x57
	KeyKpEnter    Code = 0x58
	KeyKp1        Code = 0x59
	KeyKp2        Code = 0x5A
	KeyKp3        Code = 0x5B
	KeyKp4        Code = 0x5C
	KeyKp5        Code = 0x5D
	KeyKp6        Code = 0x5E
	KeyKp7        Code = 0x5F
	KeyKp8        Code = 0x60
	KeyKp9        Code = 0x61
	KeyKp0        Code = 0x62
	KeyKpDot      Code = 0x63

	KeyNonUSBackslash Code = 0x64 // Non-US \ and |
	KeyApplication    Code = 0x65
	KeyPower          Code = 0x66
	KeyKpEqual        Code = 0x67

	KeyF13 Code = 0x68
	KeyF14 Code = 0x69
	KeyF15 Code = 0x6A
	KeyF16 Code = 0x6B
	KeyF17 Code = 0x6C
	KeyF18 Code = 0x6D
	KeyF19 Code = 0x6E
	KeyF20 Code = 0x6F
	KeyF21 Code = 0x70
	KeyF22 Code = 0x71
	KeyF23 Code = 0x72
	KeyF24 Code = 0x73

	KeyExecute Code = 0x74
	KeyHelp    Code = 0x75
	KeyMenu    Code = 0x76
	KeySelect  Code = 0x77
	KeyStop    Code = 0x78
	KeyAgain   Code = 0x79
	KeyUndo    Code = 0x7A
	KeyCut     Code = 0x7B
	KeyCopy    Code = 0x7C
	KeyPaste   Code = 0x7D
	KeyFind    Code = 0x7E

	KeyMute       Code = 0x7F
	KeyVolumeUp   Code = 0x80
	KeyVolumeDown Code = 0x81

	KeyLeftCtrl   Code = 0xE0
	KeyLeftShift  Code = 0xE1
	KeyLeftAlt    Code = 0xE2
	KeyLeftGUI    Code = 0xE3
	KeyRightCtrl  Code = 0xE4
	KeyRightShift Code = 0xE5
	KeyRightAlt   Code = 0xE6
	KeyRightGUI   Code = 0xE7
)

// IsModifier reports whether c is one of the eight modifier usages
// (LeftCtrl through RightGUI).
func (c Code) IsModifier() bool {
	return c >= KeyLeftCtrl && c <= KeyRightGUI
}

// Modifier returns the report bitmask bit for a modifier usage, or zero for
// any other code.
func (c Code) Modifier() Modifiers {
	if !c.IsModifier() {
		return 0
	}
	return Modifiers(1) << (c - KeyLeftCtrl)
}

// ModifierCode returns the usage code for a single modifier bit. The bit
// must have exactly one bit set; otherwise CodeNone is returned.
func ModifierCode(bit Modifiers) Code {
	for i := Code(0); i < 8; i++ {
		if bit == Modifiers(1)<<i {
			return KeyLeftCtrl + i
		}
	}
	return CodeNone
}

var modifierNames = [8]string{"LCTL", "LSFT", "LALT", "LGUI", "RCTL", "RSFT", "RALT", "RGUI"}

// String renders the mask in keymap notation, e.g. "LCTL|LSFT". The zero
// mask renders as "NONE".
func (m Modifiers) String() string {
	if m == 0 {
		return "NONE"
	}
	s := ""
	for i := 0; i < 8; i++ {
		if m&(Modifiers(1)<<i) == 0 {
			continue
		}
		if s != "" {
			s += "|"
		}
		s += modifierNames[i]
	}
	return s
}
