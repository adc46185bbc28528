package chord

import (
	"time"
)

// Normalizer turns a raw stream of press/release transitions from one
// device into chord events. It is a pure state machine: the caller feeds
// transitions and clock readings in, chords come out. No timers or
// goroutines live here, which keeps the timing behavior testable with
// synthetic clocks: the caller arms a timer for Deadline and calls Expire
// when it fires.
//
// Lifecycle of one chord: the first press opens a coincidence window; every
// further press joins the chord and extends the window; when the window
// expires the accumulated set is emitted exactly once; the machine then
// stays latched until every tracked button has been released, so partial
// releases and re-presses cannot produce ghost chords.
type Normalizer struct {
	device string
	window time.Duration
	repeat time.Duration // 0 disables repeat emission

	pressed    map[uint16]bool // buttons currently down
	members    []uint16        // buttons that joined the open/emitted chord
	collecting bool            // coincidence window open
	latched    bool            // chord emitted, waiting for full release
	windowEnd  time.Time
	nextRepeat time.Time
}

// NewNormalizer creates a normalizer for one device. window is the chord
// coincidence window; repeat > 0 re-emits a held chord at that interval
// (the long-press policy knob, off when 0).
func NewNormalizer(device string, window, repeat time.Duration) *Normalizer {
	return &Normalizer{
		device:  device,
		window:  window,
		repeat:  repeat,
		pressed: make(map[uint16]bool),
	}
}

// SetWindow adjusts the coincidence window for subsequent chords
func (n *Normalizer) SetWindow(window, repeat time.Duration) {
	n.window = window
	n.repeat = repeat
}

// Feed consumes one raw transition. Chord emission never happens here;
// it happens in Expire, which the caller invokes with the current clock
// before feeding each event and whenever the Deadline timer fires.
func (n *Normalizer) Feed(code uint16, pressed bool, at time.Time) {
	if pressed {
		n.press(code, at)
	} else {
		n.release(code)
	}
}

func (n *Normalizer) press(code uint16, at time.Time) {
	// A press we already track is a bounce or kernel duplicate: drop it
	// without extending the window.
	if n.pressed[code] {
		return
	}
	n.pressed[code] = true

	if n.latched {
		// Chord already emitted; the extra press is tracked only so the
		// machine stays latched until everything is released.
		return
	}

	if !n.collecting {
		n.collecting = true
		n.members = n.members[:0]
	}
	n.members = append(n.members, code)
	n.windowEnd = at.Add(n.window)
}

func (n *Normalizer) release(code uint16) {
	// Release of a button we never saw pressed: stray signal, ignore
	if !n.pressed[code] {
		return
	}
	delete(n.pressed, code)

	if n.latched && len(n.pressed) == 0 {
		n.reset()
	}
}

// Deadline reports when Expire next needs to be called, if at all
func (n *Normalizer) Deadline() (time.Time, bool) {
	if n.collecting {
		return n.windowEnd, true
	}
	if n.latched && n.repeat > 0 && n.anyMemberDown() {
		return n.nextRepeat, true
	}
	return time.Time{}, false
}

// Expire advances the machine to the given clock reading and returns the
// chord to emit, if any. Idempotent: calling it again with the same clock
// emits nothing new.
func (n *Normalizer) Expire(now time.Time) (Chord, bool) {
	if n.collecting && !now.Before(n.windowEnd) {
		n.collecting = false
		c := New(n.device, n.members, now)

		if len(n.pressed) == 0 {
			// Quick tap: every constituent released inside the window
			n.reset()
		} else {
			n.latched = true
			n.nextRepeat = now.Add(n.repeat)
		}
		return c, true
	}

	// Repeats are tied to the chord's own buttons staying down; a held
	// non-member must not keep a released chord firing
	if n.latched && n.repeat > 0 && n.anyMemberDown() && !now.Before(n.nextRepeat) {
		c := New(n.device, n.members, now)
		c.Repeat = true
		n.nextRepeat = now.Add(n.repeat)
		return c, true
	}

	return Chord{}, false
}

func (n *Normalizer) anyMemberDown() bool {
	for _, m := range n.members {
		if n.pressed[m] {
			return true
		}
	}
	return false
}

// Reset drops all pending state, e.g. after a device reconnect where
// release events may have been lost
func (n *Normalizer) Reset() {
	n.pressed = make(map[uint16]bool)
	n.reset()
}

func (n *Normalizer) reset() {
	n.collecting = false
	n.latched = false
	n.members = n.members[:0]
}
