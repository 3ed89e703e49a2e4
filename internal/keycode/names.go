package keycode

import "strings"

// keyNames maps each usage to its canonical keymap name. Canonical names are
// what Name returns and what keymap files are expected to use; extra
// spellings live in keyAliases.
var keyNames = map[Code]string{
	KeyA: "A", KeyB: "B", KeyC: "C", KeyD: "D", KeyE: "E", KeyF: "F", KeyG: "G",
	KeyH: "H", KeyI: "I", KeyJ: "J", KeyK: "K", KeyL: "L", KeyM: "M", KeyN: "N",
	KeyO: "O", KeyP: "P", KeyQ: "Q", KeyR: "R", KeyS: "S", KeyT: "T", KeyU: "U",
	KeyV: "V", KeyW: "W", KeyX: "X", KeyY: "Y", KeyZ: "Z",

	Key1: "1", Key2: "2", Key3: "3", Key4: "4", Key5: "5",
	Key6: "6", Key7: "7", Key8: "8", Key9: "9", Key0: "0",

	KeyEnter:      "ENTER",
	KeyEscape:     "ESC",
	KeyBackspace:  "BSPC",
	KeyTab:        "TAB",
	KeySpace:      "SPC",
	KeyMinus:      "MINUS",
	KeyEqual:      "EQUAL",
	KeyLeftBrace:  "LBRC",
	KeyRightBrace: "RBRC",
	KeyBackslash:  "BSLS",
	KeyNonUSHash:  "NUHS",
	KeySemicolon:  "SCLN",
	KeyApostrophe: "QUOT",
	KeyGrave:      "GRV",
	KeyComma:      "COMM",
	KeyPeriod:     "DOT",
	KeySlash:      "SLSH",
	KeyCapsLock:   "CAPS",

	KeyF1: "F1", KeyF2: "F2", KeyF3: "F3", KeyF4: "F4", KeyF5: "F5", KeyF6: "F6",
	KeyF7: "F7", KeyF8: "F8", KeyF9: "F9", KeyF10: "F10", KeyF11: "F11", KeyF12: "F12",
	KeyF13: "F13", KeyF14: "F14", KeyF15: "F15", KeyF16: "F16", KeyF17: "F17", KeyF18: "F18",
	KeyF19: "F19", KeyF20: "F20", KeyF21: "F21", KeyF22: "F22", KeyF23: "F23", KeyF24: "F24",

	KeyPrintScreen: "PSCR",
	KeyScrollLock:  "SCRL",
	KeyPause:       "PAUS",
	KeyInsert:      "INS",
	KeyHome:        "HOME",
	KeyPageUp:      "PGUP",
	KeyDelete:      "DEL",
	KeyEnd:         "END",
	KeyPageDown:    "PGDN",

	KeyRight: "RIGHT",
	KeyLeft:  "LEFT",
	KeyDown:  "DOWN",
	KeyUp:    "UP",

	KeyNumLock:    "NUM",
	KeyKpSlash:    "PSLS",
	KeyKpAsterisk: "PAST",
	KeyKpMinus:    "PMNS",
	KeyKpPlus:     "PPLS",
	KeyKpEnter:    "PENT",
	KeyKp1:        "P1",
	KeyKp2:        "P2",
	KeyKp3:        "P3",
	KeyKp4:        "P4",
	KeyKp5:        "P5",
	KeyKp6:        "P6",
	KeyKp7:        "P7",
	KeyKp8:        "P8",
	KeyKp9:        "P9",
	KeyKp0:        "P0",
	KeyKpDot:      "PDOT",
	KeyKpEqual:    "PEQL",

	KeyNonUSBackslash: "NUBS",
	KeyApplication:    "APP",
	KeyPower:          "PWR",

	KeyExecute: "EXEC",
	KeyHelp:    "HELP",
	KeyMenu:    "MENU",
	KeySelect:  "SLCT",
	KeyStop:    "STOP",
	KeyAgain:   "AGIN",
	KeyUndo:    "UNDO",
	KeyCut:     "CUT",
	KeyCopy:    "COPY",
	KeyPaste:   "PSTE",
	KeyFind:    "FIND",

	KeyMute:       "KB_MUTE",
	KeyVolumeUp:   "KB_VOLU",
	KeyVolumeDown: "KB_VOLD",

	KeyLeftCtrl:   "LCTL",
	KeyLeftShift:  "LSFT",
	KeyLeftAlt:    "LALT",
	KeyLeftGUI:    "LGUI",
	KeyRightCtrl:  "RCTL",
	KeyRightShift: "RSFT",
	KeyRightAlt:   "RALT",
	KeyRightGUI:   "RGUI",
}

// keyAliases lists additional accepted spellings, mostly long forms and
// QMK-compatible names so existing keymaps port over without edits.
var keyAliases = map[string]Code{
	"RETURN":      KeyEnter,
	"ENT":         KeyEnter,
	"ESCAPE":      KeyEscape,
	"BACKSPACE":   KeyBackspace,
	"SPACE":       KeySpace,
	"MINS":        KeyMinus,
	"EQL":         KeyEqual,
	"COMMA":       KeyComma,
	"PERIOD":      KeyPeriod,
	"SLASH":       KeySlash,
	"SEMICOLON":   KeySemicolon,
	"QUOTE":       KeyApostrophe,
	"GRAVE":       KeyGrave,
	"CAPSLOCK":    KeyCapsLock,
	"PRINTSCREEN": KeyPrintScreen,
	"SCROLLLOCK":  KeyScrollLock,
	"PAUSE":       KeyPause,
	"INSERT":      KeyInsert,
	"DELETE":      KeyDelete,
	"PAGEUP":      KeyPageUp,
	"PAGEDOWN":    KeyPageDown,
	"NUMLOCK":     KeyNumLock,
	"KPENTER":     KeyKpEnter,
	"LCTRL":       KeyLeftCtrl,
	"LSHIFT":      KeyLeftShift,
	"LCMD":        KeyLeftGUI,
	"LWIN":        KeyLeftGUI,
	"RCTRL":       KeyRightCtrl,
	"RSHIFT":      KeyRightShift,
	"RCMD":        KeyRightGUI,
	"RWIN":        KeyRightGUI,
	"ALGR":        KeyRightAlt,
}

var keysByName map[string]Code

func init() {
	keysByName = make(map[string]Code, len(keyNames)+len(keyAliases))
	for c, n := range keyNames {
		keysByName[n] = c
	}
	for n, c := range keyAliases {
		keysByName[n] = c
	}
}

// Name returns the canonical name of a usage, or an empty string for codes
// with no assigned name.
func (c Code) Name() string {
	return keyNames[c]
}

// Lookup resolves a key name to its usage code. Matching is
// case-insensitive and accepts an optional "KC_" prefix.
func Lookup(name string) (Code, bool) {
	c, ok := keysByName[normalizeName(name)]
	return c, ok
}

func normalizeName(name string) string {
	n := strings.ToUpper(strings.TrimSpace(name))
	return strings.TrimPrefix(n, "KC_")
}

// runeKeys maps typeable ASCII runes to the usage and shift requirement that
// produce them on a US layout. Used to expand macro text steps.
var runeKeys = map[rune]struct {
	code  Code
	shift bool
}{
	'a': {KeyA, false}, 'b': {KeyB, false}, 'c': {KeyC, false}, 'd': {KeyD, false},
	'e': {KeyE, false}, 'f': {KeyF, false}, 'g': {KeyG, false}, 'h': {KeyH, false},
	'i': {KeyI, false}, 'j': {KeyJ, false}, 'k': {KeyK, false}, 'l': {KeyL, false},
	'm': {KeyM, false}, 'n': {KeyN, false}, 'o': {KeyO, false}, 'p': {KeyP, false},
	'q': {KeyQ, false}, 'r': {KeyR, false}, 's': {KeyS, false}, 't': {KeyT, false},
	'u': {KeyU, false}, 'v': {KeyV, false}, 'w': {KeyW, false}, 'x': {KeyX, false},
	'y': {KeyY, false}, 'z': {KeyZ, false},

	'A': {KeyA, true}, 'B': {KeyB, true}, 'C': {KeyC, true}, 'D': {KeyD, true},
	'E': {KeyE, true}, 'F': {KeyF, true}, 'G': {KeyG, true}, 'H': {KeyH, true},
	'I': {KeyI, true}, 'J': {KeyJ, true}, 'K': {KeyK, true}, 'L': {KeyL, true},
	'M': {KeyM, true}, 'N': {KeyN, true}, 'O': {KeyO, true}, 'P': {KeyP, true},
	'Q': {KeyQ, true}, 'R': {KeyR, true}, 'S': {KeyS, true}, 'T': {KeyT, true},
	'U': {KeyU, true}, 'V': {KeyV, true}, 'W': {KeyW, true}, 'X': {KeyX, true},
	'Y': {KeyY, true}, 'Z': {KeyZ, true},

	'1': {Key1, false}, '2': {Key2, false}, '3': {Key3, false}, '4': {Key4, false},
	'5': {Key5, false}, '6': {Key6, false}, '7': {Key7, false}, '8': {Key8, false},
	'9': {Key9, false}, '0': {Key0, false},

	'!': {Key1, true}, '@': {Key2, true}, '#': {Key3, true}, '$': {Key4, true},
	'%': {Key5, true}, '^': {Key6, true}, '&': {Key7, true}, '*': {Key8, true},
	'(': {Key9, true}, ')': {Key0, true},

	'-':  {KeyMinus, false},
	'=':  {KeyEqual, false},
	'[':  {KeyLeftBrace, false},
	']':  {KeyRightBrace, false},
	'\\': {KeyBackslash, false},
	';':  {KeySemicolon, false},
	'\'': {KeyApostrophe, false},
	'`':  {KeyGrave, false},
	',':  {KeyComma, false},
	'.':  {KeyPeriod, false},
	'/':  {KeySlash, false},

	'_': {KeyMinus, true},
	'+': {KeyEqual, true},
	'{': {KeyLeftBrace, true},
	'}': {KeyRightBrace, true},
	'|': {KeyBackslash, true},
	':': {KeySemicolon, true},
	'"': {KeyApostrophe, true},
	'~': {KeyGrave, true},
	'<': {KeyComma, true},
	'>': {KeyPeriod, true},
	'?': {KeySlash, true},

	' ':  {KeySpace, false},
	'\n': {KeyEnter, false},
	'\t': {KeyTab, false},
}

// ForRune resolves a rune to the usage code and modifier mask that type it
// on a US layout. ok is false for runes with no mapping.
func ForRune(r rune) (c Code, mods Modifiers, ok bool) {
	k, ok := runeKeys[r]
	if !ok {
		return CodeNone, 0, false
	}
	if k.shift {
		mods = ModLeftShift
	}
	return k.code, mods, true
}
