package device

import (
	"fmt"
	"sync"
	"unicode"

	evdev "github.com/holoplot/go-evdev"
)

// VirtualKeyboardName is the uinput device name the injector registers under
const VirtualKeyboardName = "micepiper-virtual-kbd"

// eventWriter is the slice of the uinput device the keyboard writes to,
// narrowed so tests can substitute a failing writer
type eventWriter interface {
	WriteOne(ev *evdev.InputEvent) error
	Close() error
}

// Keyboard is a uinput virtual keyboard used to synthesize key sequences.
// Safe for concurrent use; each public call is one atomic injection.
type Keyboard struct {
	mu  sync.Mutex
	dev eventWriter
}

// NewKeyboard creates the uinput device. Requires write access to
// /dev/uinput.
func NewKeyboard() (*Keyboard, error) {
	dev, err := evdev.CreateDevice(
		VirtualKeyboardName,
		evdev.InputID{BusType: 0x03, Vendor: 0x5049, Product: 0x5052, Version: 1},
		map[evdev.EvType][]evdev.EvCode{
			evdev.EV_KEY: allKeyCaps(),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("create virtual keyboard: %w", err)
	}
	return &Keyboard{dev: dev}, nil
}

func (k *Keyboard) write(code uint16, value int32) error {
	return k.dev.WriteOne(&evdev.InputEvent{
		Type:  evdev.EV_KEY,
		Code:  evdev.EvCode(code),
		Value: value,
	})
}

func (k *Keyboard) syn() error {
	return k.dev.WriteOne(&evdev.InputEvent{
		Type:  evdev.EV_SYN,
		Code:  evdev.SYN_REPORT,
		Value: 0,
	})
}

// Press injects a key-down followed by a report
func (k *Keyboard) Press(code uint16) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.write(code, 1); err != nil {
		return err
	}
	return k.syn()
}

// Release injects a key-up followed by a report
func (k *Keyboard) Release(code uint16) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.write(code, 0); err != nil {
		return err
	}
	return k.syn()
}

// Click injects a press/release pair
func (k *Keyboard) Click(code uint16) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.write(code, 1); err != nil {
		return err
	}
	if err := k.write(code, 0); err != nil {
		return err
	}
	return k.syn()
}

// Stroke is one raw key transition in an injected sequence
type Stroke struct {
	Code  uint16
	Press bool
}

// EmitSequence injects an ordered list of raw press/release transitions as
// one batch, preserving order and pairing, with a single report at the end.
func (k *Keyboard) EmitSequence(steps []Stroke) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, s := range steps {
		value := int32(0)
		if s.Press {
			value = 1
		}
		if err := k.write(s.Code, value); err != nil {
			return err
		}
	}
	return k.syn()
}

// TypeString converts text into key strokes and injects them in order.
// Characters without a known key combination are skipped with an error
// reported once at the end.
func (k *Keyboard) TypeString(text string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	var skipped []rune
	for _, ch := range text {
		code, shift, ok := charStroke(ch)
		if !ok {
			skipped = append(skipped, ch)
			continue
		}
		if shift {
			if err := k.write(uint16(evdev.KEY_LEFTSHIFT), 1); err != nil {
				return err
			}
		}
		if err := k.write(uint16(code), 1); err != nil {
			k.releaseShift(shift)
			return err
		}
		if err := k.write(uint16(code), 0); err != nil {
			k.releaseShift(shift)
			return err
		}
		if shift {
			if err := k.write(uint16(evdev.KEY_LEFTSHIFT), 0); err != nil {
				return err
			}
		}
		if err := k.syn(); err != nil {
			return err
		}
	}
	if len(skipped) > 0 {
		return fmt.Errorf("unsupported characters: %q", string(skipped))
	}
	return nil
}

// releaseShift is the best-effort cleanup when a write fails between the
// shift press and its paired release, so the virtual keyboard never stays
// stuck with shift down
func (k *Keyboard) releaseShift(shift bool) {
	if !shift {
		return
	}
	_ = k.write(uint16(evdev.KEY_LEFTSHIFT), 0)
	_ = k.syn()
}

// charStroke resolves one character to (key, shift)
func charStroke(ch rune) (evdev.EvCode, bool, bool) {
	switch {
	case ch >= 'a' && ch <= 'z':
		return letterCodes[ch-'a'], false, true
	case ch >= 'A' && ch <= 'Z':
		return letterCodes[unicode.ToLower(ch)-'a'], true, true
	case ch >= '0' && ch <= '9':
		return digitCodes[ch-'0'], false, true
	}
	if s, ok := charKeys[ch]; ok {
		return s.code, s.shift, true
	}
	return 0, false, false
}

// Close destroys the uinput device
func (k *Keyboard) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.dev.Close()
}
