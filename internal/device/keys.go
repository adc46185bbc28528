package device

import (
	"fmt"

	evdev "github.com/holoplot/go-evdev"
)

// keyCodes maps the key and button names accepted in mapping files to
// kernel event codes. Covers the mouse button range plus the keys the
// builtin actions and TypeString need.
var keyCodes = map[string]evdev.EvCode{
	// Mouse buttons
	"BTN_LEFT":    evdev.BTN_LEFT,
	"BTN_RIGHT":   evdev.BTN_RIGHT,
	"BTN_MIDDLE":  evdev.BTN_MIDDLE,
	"BTN_SIDE":    evdev.BTN_SIDE,
	"BTN_EXTRA":   evdev.BTN_EXTRA,
	"BTN_FORWARD": evdev.BTN_FORWARD,
	"BTN_BACK":    evdev.BTN_BACK,
	"BTN_TASK":    evdev.BTN_TASK,
	"BTN_0":       evdev.BTN_0,
	"BTN_1":       evdev.BTN_1,
	"BTN_2":       evdev.BTN_2,
	"BTN_3":       evdev.BTN_3,
	"BTN_4":       evdev.BTN_4,
	"BTN_5":       evdev.BTN_5,
	"BTN_6":       evdev.BTN_6,
	"BTN_7":       evdev.BTN_7,
	"BTN_8":       evdev.BTN_8,
	"BTN_9":       evdev.BTN_9,

	// Modifiers
	"KEY_LEFTCTRL":   evdev.KEY_LEFTCTRL,
	"KEY_RIGHTCTRL":  evdev.KEY_RIGHTCTRL,
	"KEY_LEFTSHIFT":  evdev.KEY_LEFTSHIFT,
	"KEY_RIGHTSHIFT": evdev.KEY_RIGHTSHIFT,
	"KEY_LEFTALT":    evdev.KEY_LEFTALT,
	"KEY_RIGHTALT":   evdev.KEY_RIGHTALT,
	"KEY_LEFTMETA":   evdev.KEY_LEFTMETA,
	"KEY_RIGHTMETA":  evdev.KEY_RIGHTMETA,

	// Letters
	"KEY_A": evdev.KEY_A, "KEY_B": evdev.KEY_B, "KEY_C": evdev.KEY_C,
	"KEY_D": evdev.KEY_D, "KEY_E": evdev.KEY_E, "KEY_F": evdev.KEY_F,
	"KEY_G": evdev.KEY_G, "KEY_H": evdev.KEY_H, "KEY_I": evdev.KEY_I,
	"KEY_J": evdev.KEY_J, "KEY_K": evdev.KEY_K, "KEY_L": evdev.KEY_L,
	"KEY_M": evdev.KEY_M, "KEY_N": evdev.KEY_N, "KEY_O": evdev.KEY_O,
	"KEY_P": evdev.KEY_P, "KEY_Q": evdev.KEY_Q, "KEY_R": evdev.KEY_R,
	"KEY_S": evdev.KEY_S, "KEY_T": evdev.KEY_T, "KEY_U": evdev.KEY_U,
	"KEY_V": evdev.KEY_V, "KEY_W": evdev.KEY_W, "KEY_X": evdev.KEY_X,
	"KEY_Y": evdev.KEY_Y, "KEY_Z": evdev.KEY_Z,

	// Digits
	"KEY_1": evdev.KEY_1, "KEY_2": evdev.KEY_2, "KEY_3": evdev.KEY_3,
	"KEY_4": evdev.KEY_4, "KEY_5": evdev.KEY_5, "KEY_6": evdev.KEY_6,
	"KEY_7": evdev.KEY_7, "KEY_8": evdev.KEY_8, "KEY_9": evdev.KEY_9,
	"KEY_0": evdev.KEY_0,

	// Editing and navigation
	"KEY_ESC":        evdev.KEY_ESC,
	"KEY_TAB":        evdev.KEY_TAB,
	"KEY_ENTER":      evdev.KEY_ENTER,
	"KEY_SPACE":      evdev.KEY_SPACE,
	"KEY_BACKSPACE":  evdev.KEY_BACKSPACE,
	"KEY_DELETE":     evdev.KEY_DELETE,
	"KEY_INSERT":     evdev.KEY_INSERT,
	"KEY_HOME":       evdev.KEY_HOME,
	"KEY_END":        evdev.KEY_END,
	"KEY_PAGEUP":     evdev.KEY_PAGEUP,
	"KEY_PAGEDOWN":   evdev.KEY_PAGEDOWN,
	"KEY_UP":         evdev.KEY_UP,
	"KEY_DOWN":       evdev.KEY_DOWN,
	"KEY_LEFT":       evdev.KEY_LEFT,
	"KEY_RIGHT":      evdev.KEY_RIGHT,
	"KEY_CAPSLOCK":   evdev.KEY_CAPSLOCK,
	"KEY_PRINT":      evdev.KEY_PRINT,
	"KEY_SYSRQ":      evdev.KEY_SYSRQ,
	"KEY_SCROLLLOCK": evdev.KEY_SCROLLLOCK,
	"KEY_PAUSE":      evdev.KEY_PAUSE,

	// Punctuation
	"KEY_MINUS":      evdev.KEY_MINUS,
	"KEY_EQUAL":      evdev.KEY_EQUAL,
	"KEY_LEFTBRACE":  evdev.KEY_LEFTBRACE,
	"KEY_RIGHTBRACE": evdev.KEY_RIGHTBRACE,
	"KEY_SEMICOLON":  evdev.KEY_SEMICOLON,
	"KEY_APOSTROPHE": evdev.KEY_APOSTROPHE,
	"KEY_GRAVE":      evdev.KEY_GRAVE,
	"KEY_BACKSLASH":  evdev.KEY_BACKSLASH,
	"KEY_COMMA":      evdev.KEY_COMMA,
	"KEY_DOT":        evdev.KEY_DOT,
	"KEY_SLASH":      evdev.KEY_SLASH,

	// Function keys
	"KEY_F1": evdev.KEY_F1, "KEY_F2": evdev.KEY_F2, "KEY_F3": evdev.KEY_F3,
	"KEY_F4": evdev.KEY_F4, "KEY_F5": evdev.KEY_F5, "KEY_F6": evdev.KEY_F6,
	"KEY_F7": evdev.KEY_F7, "KEY_F8": evdev.KEY_F8, "KEY_F9": evdev.KEY_F9,
	"KEY_F10": evdev.KEY_F10, "KEY_F11": evdev.KEY_F11, "KEY_F12": evdev.KEY_F12,

	// Media and system controls
	"KEY_MUTE":           evdev.KEY_MUTE,
	"KEY_VOLUMEUP":       evdev.KEY_VOLUMEUP,
	"KEY_VOLUMEDOWN":     evdev.KEY_VOLUMEDOWN,
	"KEY_PLAYPAUSE":      evdev.KEY_PLAYPAUSE,
	"KEY_NEXTSONG":       evdev.KEY_NEXTSONG,
	"KEY_PREVIOUSSONG":   evdev.KEY_PREVIOUSSONG,
	"KEY_STOPCD":         evdev.KEY_STOPCD,
	"KEY_BRIGHTNESSUP":   evdev.KEY_BRIGHTNESSUP,
	"KEY_BRIGHTNESSDOWN": evdev.KEY_BRIGHTNESSDOWN,
}

// keyNames is the reverse of keyCodes, built once at init
var keyNames = func() map[uint16]string {
	m := make(map[uint16]string, len(keyCodes))
	for name, code := range keyCodes {
		m[uint16(code)] = name
	}
	return m
}()

// CodeByName resolves a key/button name from a mapping file to its event code
func CodeByName(name string) (uint16, bool) {
	code, ok := keyCodes[name]
	return uint16(code), ok
}

// NameOf returns the symbolic name for an event code, or a hex fallback for
// codes outside the table
func NameOf(code uint16) string {
	if name, ok := keyNames[code]; ok {
		return name
	}
	return fmt.Sprintf("0x%03x", code)
}

// shifted pairs a base key with a shift requirement, for typing text
type shifted struct {
	code  evdev.EvCode
	shift bool
}

// charKeys maps typeable characters to key strokes. Letters and digits are
// handled programmatically in TypeString; this table covers the rest.
var charKeys = map[rune]shifted{
	' ':  {evdev.KEY_SPACE, false},
	'\n': {evdev.KEY_ENTER, false},
	'\t': {evdev.KEY_TAB, false},
	'.':  {evdev.KEY_DOT, false},
	',':  {evdev.KEY_COMMA, false},
	'!':  {evdev.KEY_1, true},
	'?':  {evdev.KEY_SLASH, true},
	':':  {evdev.KEY_SEMICOLON, true},
	';':  {evdev.KEY_SEMICOLON, false},
	'\'': {evdev.KEY_APOSTROPHE, false},
	'"':  {evdev.KEY_APOSTROPHE, true},
	'-':  {evdev.KEY_MINUS, false},
	'_':  {evdev.KEY_MINUS, true},
	'=':  {evdev.KEY_EQUAL, false},
	'+':  {evdev.KEY_EQUAL, true},
	'/':  {evdev.KEY_SLASH, false},
	'\\': {evdev.KEY_BACKSLASH, false},
	'|':  {evdev.KEY_BACKSLASH, true},
	'[':  {evdev.KEY_LEFTBRACE, false},
	']':  {evdev.KEY_RIGHTBRACE, false},
	'{':  {evdev.KEY_LEFTBRACE, true},
	'}':  {evdev.KEY_RIGHTBRACE, true},
	'(':  {evdev.KEY_9, true},
	')':  {evdev.KEY_0, true},
	'@':  {evdev.KEY_2, true},
	'#':  {evdev.KEY_3, true},
	'$':  {evdev.KEY_4, true},
	'%':  {evdev.KEY_5, true},
	'^':  {evdev.KEY_6, true},
	'&':  {evdev.KEY_7, true},
	'*':  {evdev.KEY_8, true},
	'~':  {evdev.KEY_GRAVE, true},
	'`':  {evdev.KEY_GRAVE, false},
	'<':  {evdev.KEY_COMMA, true},
	'>':  {evdev.KEY_DOT, true},
}

// digitCodes indexes KEY_0..KEY_9 by digit value
var digitCodes = [10]evdev.EvCode{
	evdev.KEY_0, evdev.KEY_1, evdev.KEY_2, evdev.KEY_3, evdev.KEY_4,
	evdev.KEY_5, evdev.KEY_6, evdev.KEY_7, evdev.KEY_8, evdev.KEY_9,
}

// letterCodes indexes KEY_A..KEY_Z by offset from 'a'
var letterCodes = [26]evdev.EvCode{
	evdev.KEY_A, evdev.KEY_B, evdev.KEY_C, evdev.KEY_D, evdev.KEY_E,
	evdev.KEY_F, evdev.KEY_G, evdev.KEY_H, evdev.KEY_I, evdev.KEY_J,
	evdev.KEY_K, evdev.KEY_L, evdev.KEY_M, evdev.KEY_N, evdev.KEY_O,
	evdev.KEY_P, evdev.KEY_Q, evdev.KEY_R, evdev.KEY_S, evdev.KEY_T,
	evdev.KEY_U, evdev.KEY_V, evdev.KEY_W, evdev.KEY_X, evdev.KEY_Y,
	evdev.KEY_Z,
}

// allKeyCaps returns every KEY_* code in the table, used as the capability
// set of the virtual keyboard
func allKeyCaps() []evdev.EvCode {
	caps := make([]evdev.EvCode, 0, len(keyCodes))
	for name, code := range keyCodes {
		if len(name) >= 4 && name[:4] == "KEY_" {
			caps = append(caps, code)
		}
	}
	return caps
}
