package transport

import "keymapd/internal/keycode"

// evdevFromUsage maps Keyboard/Keypad page usages to Linux input key codes,
// following the kernel's own HID translation table. Zero means no mapping.
// HID orders usages alphabetically; evdev keeps the PC/XT scan order, so
// the values jump around.
var evdevFromUsage = [256]uint16{
	keycode.KeyA: 30, keycode.KeyB: 48, keycode.KeyC: 46, keycode.KeyD: 32,
	keycode.KeyE: 18, keycode.KeyF: 33, keycode.KeyG: 34, keycode.KeyH: 35,
	keycode.KeyI: 23, keycode.KeyJ: 36, keycode.KeyK: 37, keycode.KeyL: 38,
	keycode.KeyM: 50, keycode.KeyN: 49, keycode.KeyO: 24, keycode.KeyP: 25,
	keycode.KeyQ: 16, keycode.KeyR: 19, keycode.KeyS: 31, keycode.KeyT: 20,
	keycode.KeyU: 22, keycode.KeyV: 47, keycode.KeyW: 17, keycode.KeyX: 45,
	keycode.KeyY: 21, keycode.KeyZ: 44,

	keycode.Key1: 2, keycode.Key2: 3, keycode.Key3: 4, keycode.Key4: 5,
	keycode.Key5: 6, keycode.Key6: 7, keycode.Key7: 8, keycode.Key8: 9,
	keycode.Key9: 10, keycode.Key0: 11,

	keycode.KeyEnter:     28,
	keycode.KeyEscape:    1,
	keycode.KeyBackspace: 14,
	keycode.KeyTab:       15,
	keycode.KeySpace:     57,

	keycode.KeyMinus:      12,
	keycode.KeyEqual:      13,
	keycode.KeyLeftBrace:  26,
	keycode.KeyRightBrace: 27,
	keycode.KeyBackslash:  43,
	keycode.KeyNonUSHash:  43, // the kernel folds this onto KEY_BACKSLASH
	keycode.KeySemicolon:  39,
	keycode.KeyApostrophe: 40,
	keycode.KeyGrave:      41,
	keycode.KeyComma:      51,
	keycode.KeyPeriod:     52,
	keycode.KeySlash:      53,
	keycode.KeyCapsLock:   58,

	keycode.KeyF1: 59, keycode.KeyF2: 60, keycode.KeyF3: 61, keycode.KeyF4: 62,
	keycode.KeyF5: 63, keycode.KeyF6: 64, keycode.KeyF7: 65, keycode.KeyF8: 66,
	keycode.KeyF9: 67, keycode.KeyF10: 68, keycode.KeyF11: 87, keycode.KeyF12: 88,

	keycode.KeyPrintScreen: 99,
	keycode.KeyScrollLock:  70,
	keycode.KeyPause:       119,
	keycode.KeyInsert:      110,
	keycode.KeyHome:        102,
	keycode.KeyPageUp:      104,
	keycode.KeyDelete:      111,
	keycode.KeyEnd:         107,
	keycode.KeyPageDown:    109,

	keycode.KeyRight: 106,
	keycode.KeyLeft:  105,
	keycode.KeyDown:  108,
	keycode.KeyUp:    103,

	keycode.KeyNumLock:    69,
	keycode.KeyKpSlash:    98,
	keycode.KeyKpAsterisk: 55,
	keycode.KeyKpMinus:    74,
	keycode.KeyKpPlus:     78,
	keycode.KeyKpEnter:    96,
	keycode.KeyKp1:        79, keycode.KeyKp2: 80, keycode.KeyKp3: 81,
	keycode.KeyKp4: 75, keycode.KeyKp5: 76, keycode.KeyKp6: 77,
	keycode.KeyKp7: 71, keycode.KeyKp8: 72, keycode.KeyKp9: 73,
	keycode.KeyKp0:   82,
	keycode.KeyKpDot: 83,

	keycode.KeyNonUSBackslash: 86,  // KEY_102ND
	keycode.KeyApplication:    127, // KEY_COMPOSE
	keycode.KeyPower:          116,
	keycode.KeyKpEqual:        117,

	keycode.KeyF13: 183, keycode.KeyF14: 184, keycode.KeyF15: 185,
	keycode.KeyF16: 186, keycode.KeyF17: 187, keycode.KeyF18: 188,
	keycode.KeyF19: 189, keycode.KeyF20: 190, keycode.KeyF21: 191,
	keycode.KeyF22: 192, keycode.KeyF23: 193, keycode.KeyF24: 194,

	keycode.KeyExecute: 134, // KEY_OPEN
	keycode.KeyHelp:    138,
	keycode.KeyMenu:    130, // KEY_PROPS
	keycode.KeySelect:  132, // KEY_FRONT
	keycode.KeyStop:    128,
	keycode.KeyAgain:   129,
	keycode.KeyUndo:    131,
	keycode.KeyCut:     137,
	keycode.KeyCopy:    133,
	keycode.KeyPaste:   135,
	keycode.KeyFind:    136,

	keycode.KeyMute:       113,
	keycode.KeyVolumeUp:   115,
	keycode.KeyVolumeDown: 114,

	keycode.KeyLeftCtrl:   29,
	keycode.KeyLeftShift:  42,
	keycode.KeyLeftAlt:    56,
	keycode.KeyLeftGUI:    125,
	keycode.KeyRightCtrl:  97,
	keycode.KeyRightShift: 54,
	keycode.KeyRightAlt:   100,
	keycode.KeyRightGUI:   126,
}

// evdevFromConsumer maps Consumer page usages to Linux input key codes.
var evdevFromConsumer = map[keycode.Consumer]uint16{
	keycode.ConsumerBrightnessUp:   225, // KEY_BRIGHTNESSUP
	keycode.ConsumerBrightnessDown: 224, // KEY_BRIGHTNESSDOWN
	keycode.ConsumerScanNext:       163, // KEY_NEXTSONG
	keycode.ConsumerScanPrev:       165, // KEY_PREVIOUSSONG
	keycode.ConsumerStop:           166, // KEY_STOPCD
	keycode.ConsumerEject:          161, // KEY_EJECTCD
	keycode.ConsumerPlayPause:      164, // KEY_PLAYPAUSE
	keycode.ConsumerMute:           113, // KEY_MUTE
	keycode.ConsumerVolumeUp:       115, // KEY_VOLUMEUP
	keycode.ConsumerVolumeDown:     114, // KEY_VOLUMEDOWN
	keycode.ConsumerEmail:          155, // KEY_MAIL
	keycode.ConsumerCalculator:     140, // KEY_CALC
	keycode.ConsumerBrowserSearch:  217, // KEY_SEARCH
	keycode.ConsumerBrowserHome:    172, // KEY_HOMEPAGE
	keycode.ConsumerBrowserBack:    158, // KEY_BACK
	keycode.ConsumerBrowserFwd:     159, // KEY_FORWARD
}
