// Package device provides evdev input reading, device discovery and the
// uinput virtual keyboard used for key injection.
package device

import (
	"fmt"
	"sync/atomic"
	"time"

	evdev "github.com/holoplot/go-evdev"
)

// Event is one button transition read from a device
type Event struct {
	// Device is the device name as reported by the kernel
	Device string

	// Path is the device node the event came from
	Path string

	// Code is the EV_KEY event code (BTN_SIDE, BTN_EXTRA, ...)
	Code uint16

	// Pressed is true for key-down, false for key-up
	Pressed bool

	// Time is the kernel timestamp of the transition (microsecond resolution)
	Time time.Time
}

func (e Event) String() string {
	state := "released"
	if e.Pressed {
		state = "pressed"
	}
	return fmt.Sprintf("%s %s on %q", NameOf(e.Code), state, e.Device)
}

// Reader owns an open handle to one input device node and produces button
// events one at a time.
type Reader struct {
	dev     *evdev.InputDevice
	path    string
	name    string
	grabbed bool
	closed  atomic.Bool
}

// Open opens the device node and optionally takes an exclusive grab on it.
// With the grab held, mapped buttons no longer reach other consumers, so
// they do not also trigger their default OS action.
func Open(path string, grab bool) (*Reader, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrDeviceUnavailable, path, err)
	}

	name, err := dev.Name()
	if err != nil {
		name = path
	}

	r := &Reader{dev: dev, path: path, name: name}
	if grab {
		if err := dev.Grab(); err != nil {
			dev.Close()
			return nil, fmt.Errorf("%w: grab %s: %v", ErrDeviceUnavailable, path, err)
		}
		r.grabbed = true
	}
	return r, nil
}

// Name returns the kernel-reported device name
func (r *Reader) Name() string {
	return r.name
}

// Path returns the device node path
func (r *Reader) Path() string {
	return r.path
}

// Grabbed reports whether the reader holds an exclusive grab
func (r *Reader) Grabbed() bool {
	return r.grabbed
}

// ReadNext blocks until the next button press or release. Autorepeat
// transitions (value 2) and non-key events are filtered out here.
// Returns ErrReaderClosed after Close, ErrDeviceDisconnected when the
// device vanished underneath a blocked read.
func (r *Reader) ReadNext() (Event, error) {
	for {
		ev, err := r.dev.ReadOne()
		if err != nil {
			if r.closed.Load() {
				return Event{}, ErrReaderClosed
			}
			return Event{}, fmt.Errorf("%w: %s: %v", ErrDeviceDisconnected, r.path, err)
		}
		if ev.Type != evdev.EV_KEY {
			continue
		}
		// 0 = release, 1 = press, 2 = kernel autorepeat
		if ev.Value != 0 && ev.Value != 1 {
			continue
		}
		return Event{
			Device:  r.name,
			Path:    r.path,
			Code:    uint16(ev.Code),
			Pressed: ev.Value == 1,
			Time:    time.Unix(int64(ev.Time.Sec), int64(ev.Time.Usec)*1000),
		}, nil
	}
}

// Close releases the grab and closes the device. A concurrent blocked
// ReadNext is interrupted and returns ErrReaderClosed.
func (r *Reader) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if r.grabbed {
		// Best effort: the node may already be gone
		_ = r.dev.Ungrab()
	}
	return r.dev.Close()
}
