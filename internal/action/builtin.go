package action

import (
	"context"
	"errors"
	"fmt"
	"sort"

	evdev "github.com/holoplot/go-evdev"

	"micepiper/internal/device"
)

// Keyboard is the injection surface builtins and key sequences write to.
// *device.Keyboard implements it; tests substitute a recorder.
type Keyboard interface {
	Press(code uint16) error
	Release(code uint16) error
	Click(code uint16) error
	EmitSequence(steps []device.Stroke) error
	TypeString(text string) error
}

// BuiltinFunc is an internal handler invoked for KindBuiltin actions.
// The returned hold list names keys the handler left pressed on purpose;
// the dispatcher releases them before the next chord and at shutdown.
type BuiltinFunc func(ctx context.Context, kb Keyboard, params map[string]string) (hold []uint16, err error)

// LookupBuiltin resolves a builtin by name
func LookupBuiltin(name string) (BuiltinFunc, bool) {
	fn, ok := builtins[name]
	return fn, ok
}

// BuiltinNames returns all registered builtin names, sorted
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var builtins = map[string]BuiltinFunc{
	"copy":             comboBuiltin(evdev.KEY_LEFTCTRL, evdev.KEY_C),
	"paste":            comboBuiltin(evdev.KEY_LEFTCTRL, evdev.KEY_V),
	"cut":              comboBuiltin(evdev.KEY_LEFTCTRL, evdev.KEY_X),
	"select-all":       comboBuiltin(evdev.KEY_LEFTCTRL, evdev.KEY_A),
	"save":             comboBuiltin(evdev.KEY_LEFTCTRL, evdev.KEY_S),
	"undo":             comboBuiltin(evdev.KEY_LEFTCTRL, evdev.KEY_Z),
	"delete":           comboBuiltin(evdev.KEY_DELETE),
	"close-window":     comboBuiltin(evdev.KEY_LEFTALT, evdev.KEY_F4),
	"minimise-all":     comboBuiltin(evdev.KEY_LEFTMETA, evdev.KEY_D),
	"new-terminal":     comboBuiltin(evdev.KEY_LEFTCTRL, evdev.KEY_LEFTALT, evdev.KEY_T),
	"new-tab":          comboBuiltin(evdev.KEY_LEFTCTRL, evdev.KEY_T),
	"close-tab":        comboBuiltin(evdev.KEY_LEFTCTRL, evdev.KEY_W),
	"volume-up":        tapBuiltin(evdev.KEY_VOLUMEUP),
	"volume-down":      tapBuiltin(evdev.KEY_VOLUMEDOWN),
	"volume-mute":      tapBuiltin(evdev.KEY_MUTE),
	"media-play-pause": tapBuiltin(evdev.KEY_PLAYPAUSE),
	"media-next":       tapBuiltin(evdev.KEY_NEXTSONG),
	"media-previous":   tapBuiltin(evdev.KEY_PREVIOUSSONG),
	"brightness-up":    tapBuiltin(evdev.KEY_BRIGHTNESSUP),
	"brightness-down":  tapBuiltin(evdev.KEY_BRIGHTNESSDOWN),
	"window-switcher":  windowSwitcher,
	"type-text":        typeText,
}

// comboBuiltin wraps the listed keys into a single injected batch: the
// last key is clicked while the preceding ones are held around it.
func comboBuiltin(keys ...evdev.EvCode) BuiltinFunc {
	return func(ctx context.Context, kb Keyboard, _ map[string]string) ([]uint16, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		strokes := make([]device.Stroke, 0, len(keys)*2)
		for _, k := range keys {
			strokes = append(strokes, device.Stroke{Code: uint16(k), Press: true})
		}
		for i := len(keys) - 1; i >= 0; i-- {
			strokes = append(strokes, device.Stroke{Code: uint16(keys[i]), Press: false})
		}
		return nil, kb.EmitSequence(strokes)
	}
}

// tapBuiltin clicks a single key
func tapBuiltin(key evdev.EvCode) BuiltinFunc {
	return func(ctx context.Context, kb Keyboard, _ map[string]string) ([]uint16, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, kb.Click(uint16(key))
	}
}

// windowSwitcher opens the ALT+TAB switcher and leaves ALT held so the
// switcher stays open; the dispatcher releases the hold when the next
// chord arrives or the service shuts down. This mirrors the original
// tool's "Menu" action.
func windowSwitcher(ctx context.Context, kb Keyboard, _ map[string]string) ([]uint16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	alt := uint16(evdev.KEY_LEFTALT)
	if err := kb.Press(alt); err != nil {
		return nil, err
	}
	if err := kb.Click(uint16(evdev.KEY_TAB)); err != nil {
		// Do not leave ALT stuck if the tab click failed
		kb.Release(alt)
		return nil, err
	}
	return []uint16{alt}, nil
}

var errMissingText = errors.New(`type-text requires a "text" parameter`)

// typeText types the configured text parameter on the virtual keyboard
func typeText(ctx context.Context, kb Keyboard, params map[string]string) ([]uint16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, ok := params["text"]
	if !ok || text == "" {
		return nil, errMissingText
	}
	if err := kb.TypeString(text); err != nil {
		return nil, fmt.Errorf("type-text: %w", err)
	}
	return nil, nil
}
