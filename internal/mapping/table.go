// Package mapping builds the immutable lookup table from chord identity to
// action. A table is constructed once per (re)load and never mutated; the
// service publishes a fresh table atomically on reload.
package mapping

import (
	"errors"
	"fmt"

	"micepiper/internal/action"
	"micepiper/internal/chord"
	"micepiper/internal/config"
	"micepiper/internal/device"
)

// ErrInvalidMapping is returned when configuration entries are ambiguous
// or unparseable. A table is never partially built.
var ErrInvalidMapping = errors.New("invalid mapping")

// entry is one resolved mapping
type entry struct {
	buttons []uint16 // canonical
	desc    action.Descriptor
}

// Table is the immutable chord -> action lookup. Entries are scoped per
// device name; the empty scope matches any device.
type Table struct {
	scopes map[string]map[string]entry // device -> chord key -> entry
	size   int
}

// FromConfig parses and canonicalizes configuration mappings into a Table.
// Two entries naming the same canonical chord in the same device scope with
// different actions are rejected with ErrInvalidMapping; identical
// duplicates are tolerated.
func FromConfig(mappings []config.Mapping) (*Table, error) {
	t := &Table{scopes: make(map[string]map[string]entry)}

	for i, m := range mappings {
		if len(m.Buttons) == 0 {
			return nil, fmt.Errorf("%w: entry %d has no buttons", ErrInvalidMapping, i)
		}

		buttons := make([]uint16, 0, len(m.Buttons))
		for _, name := range m.Buttons {
			code, ok := device.CodeByName(name)
			if !ok {
				return nil, fmt.Errorf("%w: entry %d: unknown button %q", ErrInvalidMapping, i, name)
			}
			buttons = append(buttons, code)
		}
		buttons = chord.Canonical(buttons)
		key := chord.KeyOf(buttons)

		desc, err := action.Parse(m.Action)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d (%s): %v", ErrInvalidMapping, i, key, err)
		}

		scope := t.scopes[m.Device]
		if scope == nil {
			scope = make(map[string]entry)
			t.scopes[m.Device] = scope
		}
		if prev, dup := scope[key]; dup {
			if prev.desc.Equal(desc) {
				continue
			}
			return nil, fmt.Errorf("%w: chord %s defined twice with different actions (%s vs %s)",
				ErrInvalidMapping, key, prev.desc, desc)
		}
		scope[key] = entry{buttons: buttons, desc: desc}
		t.size++
	}

	return t, nil
}

// Lookup finds the action for a chord. Pure read, safe for concurrent use.
//
// Resolution order: entries scoped to the chord's device win over unscoped
// entries. Within a scope an exact set match wins; otherwise the largest
// mapped subset of the active set wins (so a mapping for {A,B,C} shadows
// one for {A,B} when all three are down, while {A,B} still fires when only
// those two are mapped).
func (t *Table) Lookup(c chord.Chord) (action.Descriptor, bool) {
	for _, scope := range []string{c.Device, ""} {
		entries, ok := t.scopes[scope]
		if !ok {
			continue
		}
		if e, ok := entries[c.Key()]; ok {
			return e.desc, true
		}
		if e, ok := largestSubset(entries, c.Buttons); ok {
			return e.desc, true
		}
		if scope == "" {
			break
		}
	}
	return action.Descriptor{}, false
}

// largestSubset scans a scope for the biggest mapped button set contained
// in the active set. Ties on size break on chord key order so resolution
// stays deterministic.
func largestSubset(entries map[string]entry, active []uint16) (entry, bool) {
	var (
		best    entry
		bestKey string
		found   bool
	)
	for key, e := range entries {
		if len(e.buttons) >= len(active) || !chord.Contains(active, e.buttons) {
			continue
		}
		switch {
		case !found,
			len(e.buttons) > len(best.buttons),
			len(e.buttons) == len(best.buttons) && key < bestKey:
			best, bestKey, found = e, key, true
		}
	}
	return best, found
}

// Size returns the number of entries in the table
func (t *Table) Size() int {
	return t.size
}

// Chords lists the canonical chord keys per device scope, for status
// reporting
func (t *Table) Chords() map[string][]string {
	out := make(map[string][]string, len(t.scopes))
	for scope, entries := range t.scopes {
		keys := make([]string, 0, len(entries))
		for k := range entries {
			keys = append(keys, k)
		}
		out[scope] = keys
	}
	return out
}
