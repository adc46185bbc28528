// Package chord groups near-simultaneous button presses into logical chord
// events and debounces spurious transitions.
package chord

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Chord is an unordered set of buttons considered pressed together, plus
// the time the chord became complete. Two chords are equal iff their button
// sets are equal.
type Chord struct {
	// Device is the name of the device the chord was pressed on
	Device string

	// Buttons holds the constituent event codes, sorted ascending
	Buttons []uint16

	// At is when the coincidence window completed
	At time.Time

	// Repeat marks a re-emission of a held chord (long-press policy)
	Repeat bool
}

// New builds a chord from an arbitrary button list, canonicalizing it
func New(device string, buttons []uint16, at time.Time) Chord {
	return Chord{Device: device, Buttons: Canonical(buttons), At: at}
}

// Canonical returns a sorted, deduplicated copy of a button set
func Canonical(buttons []uint16) []uint16 {
	out := make([]uint16, 0, len(buttons))
	seen := make(map[uint16]bool, len(buttons))
	for _, b := range buttons {
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Key returns the canonical identity of the chord's button set,
// e.g. "275+276". Used as the mapping table key.
func (c Chord) Key() string {
	return KeyOf(c.Buttons)
}

// KeyOf returns the canonical identity of a button set
func KeyOf(buttons []uint16) string {
	canon := Canonical(buttons)
	parts := make([]string, len(canon))
	for i, b := range canon {
		parts[i] = strconv.Itoa(int(b))
	}
	return strings.Join(parts, "+")
}

// Contains reports whether the chord's set includes every button of sub.
// Both sets must be canonical (sorted).
func Contains(set, sub []uint16) bool {
	i := 0
	for _, want := range sub {
		for i < len(set) && set[i] < want {
			i++
		}
		if i >= len(set) || set[i] != want {
			return false
		}
		i++
	}
	return true
}

func (c Chord) String() string {
	s := c.Key()
	if c.Repeat {
		s += " (repeat)"
	}
	return s
}
