package mapping

import (
	"errors"
	"testing"
	"time"

	"micepiper/internal/chord"
	"micepiper/internal/config"
)

func keysAction(combo string) config.Action {
	return config.Action{Type: "keys", Keys: []string{combo}}
}

func commandAction(cmd string) config.Action {
	return config.Action{Type: "command", Command: cmd}
}

func chordOf(device string, buttons ...uint16) chord.Chord {
	return chord.New(device, buttons, time.Unix(0, 0))
}

// TestLookupExactMatch tests resolution of an exact chord
func TestLookupExactMatch(t *testing.T) {
	table, err := FromConfig([]config.Mapping{
		{Buttons: []string{"BTN_SIDE"}, Action: commandAction("echo side")},
		{Buttons: []string{"BTN_SIDE", "BTN_EXTRA"}, Action: commandAction("echo both")},
	})
	if err != nil {
		t.Fatalf("Expected table to build, got %v", err)
	}
	if table.Size() != 2 {
		t.Errorf("Expected 2 entries, got %d", table.Size())
	}

	desc, ok := table.Lookup(chordOf("mouse", 275, 276))
	if !ok {
		t.Fatal("Expected a match for BTN_SIDE+BTN_EXTRA")
	}
	if desc.Command != "echo both" {
		t.Errorf("Expected 'echo both', got %q", desc.Command)
	}
}

// TestLookupOrderIndependent tests that mapping button order is irrelevant
func TestLookupOrderIndependent(t *testing.T) {
	table, err := FromConfig([]config.Mapping{
		{Buttons: []string{"BTN_EXTRA", "BTN_SIDE"}, Action: commandAction("echo both")},
	})
	if err != nil {
		t.Fatalf("Expected table to build, got %v", err)
	}
	if _, ok := table.Lookup(chordOf("mouse", 275, 276)); !ok {
		t.Error("Expected a match regardless of configured button order")
	}
}

// TestLookupUnmapped tests that an unmapped chord is a clean miss
func TestLookupUnmapped(t *testing.T) {
	table, err := FromConfig([]config.Mapping{
		{Buttons: []string{"BTN_SIDE"}, Action: commandAction("echo side")},
	})
	if err != nil {
		t.Fatalf("Expected table to build, got %v", err)
	}
	if _, ok := table.Lookup(chordOf("mouse", 276)); ok {
		t.Error("Expected no match for unmapped BTN_EXTRA")
	}
}

// TestLookupLargestSubset tests that when the active set has no exact
// mapping the largest mapped subset wins
func TestLookupLargestSubset(t *testing.T) {
	table, err := FromConfig([]config.Mapping{
		{Buttons: []string{"BTN_SIDE"}, Action: commandAction("one")},
		{Buttons: []string{"BTN_SIDE", "BTN_EXTRA"}, Action: commandAction("two")},
	})
	if err != nil {
		t.Fatalf("Expected table to build, got %v", err)
	}

	// Active {SIDE, EXTRA, MIDDLE}: no exact match, {SIDE,EXTRA} is the
	// largest mapped subset
	desc, ok := table.Lookup(chordOf("mouse", 274, 275, 276))
	if !ok {
		t.Fatal("Expected a subset match")
	}
	if desc.Command != "two" {
		t.Errorf("Expected largest subset 'two', got %q", desc.Command)
	}
}

// TestDeviceScopePrecedence tests that device-scoped entries shadow global
// ones for the same chord
func TestDeviceScopePrecedence(t *testing.T) {
	table, err := FromConfig([]config.Mapping{
		{Buttons: []string{"BTN_SIDE"}, Action: commandAction("global")},
		{Device: "Logitech MX", Buttons: []string{"BTN_SIDE"}, Action: commandAction("scoped")},
	})
	if err != nil {
		t.Fatalf("Expected table to build, got %v", err)
	}

	desc, _ := table.Lookup(chordOf("Logitech MX", 275))
	if desc.Command != "scoped" {
		t.Errorf("Expected device-scoped action, got %q", desc.Command)
	}

	desc, _ = table.Lookup(chordOf("Other Mouse", 275))
	if desc.Command != "global" {
		t.Errorf("Expected global fallback, got %q", desc.Command)
	}
}

// TestAmbiguousMappingRejected tests that the same chord bound to two
// different actions fails the whole load
func TestAmbiguousMappingRejected(t *testing.T) {
	_, err := FromConfig([]config.Mapping{
		{Buttons: []string{"BTN_SIDE", "BTN_EXTRA"}, Action: commandAction("one")},
		{Buttons: []string{"BTN_EXTRA", "BTN_SIDE"}, Action: commandAction("two")},
	})
	if !errors.Is(err, ErrInvalidMapping) {
		t.Errorf("Expected ErrInvalidMapping, got %v", err)
	}
}

// TestIdenticalDuplicateTolerated tests that a repeated identical entry is
// not an error
func TestIdenticalDuplicateTolerated(t *testing.T) {
	table, err := FromConfig([]config.Mapping{
		{Buttons: []string{"BTN_SIDE"}, Action: commandAction("same")},
		{Buttons: []string{"BTN_SIDE"}, Action: commandAction("same")},
	})
	if err != nil {
		t.Fatalf("Expected duplicates with identical actions to load, got %v", err)
	}
	if table.Size() != 1 {
		t.Errorf("Expected 1 entry after dedup, got %d", table.Size())
	}
}

// TestUnknownButtonRejected tests validation of button names
func TestUnknownButtonRejected(t *testing.T) {
	_, err := FromConfig([]config.Mapping{
		{Buttons: []string{"BTN_BOGUS"}, Action: commandAction("x")},
	})
	if !errors.Is(err, ErrInvalidMapping) {
		t.Errorf("Expected ErrInvalidMapping for unknown button, got %v", err)
	}
}

// TestBadActionRejected tests that a broken action fails the whole load,
// never producing a partial table
func TestBadActionRejected(t *testing.T) {
	_, err := FromConfig([]config.Mapping{
		{Buttons: []string{"BTN_SIDE"}, Action: commandAction("ok")},
		{Buttons: []string{"BTN_EXTRA"}, Action: keysAction("KEY_NOPE")},
	})
	if !errors.Is(err, ErrInvalidMapping) {
		t.Errorf("Expected ErrInvalidMapping for bad action, got %v", err)
	}
}

// TestEmptyButtonsRejected tests that an entry without buttons is invalid
func TestEmptyButtonsRejected(t *testing.T) {
	_, err := FromConfig([]config.Mapping{
		{Buttons: nil, Action: commandAction("x")},
	})
	if !errors.Is(err, ErrInvalidMapping) {
		t.Errorf("Expected ErrInvalidMapping for empty buttons, got %v", err)
	}
}

// TestRebuildEquivalence tests that rebuilding from the same config
// resolves chords identically (reload idempotence)
func TestRebuildEquivalence(t *testing.T) {
	mappings := []config.Mapping{
		{Buttons: []string{"BTN_SIDE"}, Action: commandAction("one")},
		{Buttons: []string{"BTN_SIDE", "BTN_EXTRA"}, Action: keysAction("KEY_LEFTCTRL+KEY_C")},
	}
	a, err := FromConfig(mappings)
	if err != nil {
		t.Fatalf("Expected table to build, got %v", err)
	}
	b, err := FromConfig(mappings)
	if err != nil {
		t.Fatalf("Expected rebuild to succeed, got %v", err)
	}

	for _, c := range []chord.Chord{
		chordOf("m", 275),
		chordOf("m", 275, 276),
		chordOf("m", 274),
	} {
		da, oka := a.Lookup(c)
		db, okb := b.Lookup(c)
		if oka != okb || (oka && !da.Equal(db)) {
			t.Errorf("Chord %s resolves differently across rebuilds", c)
		}
	}
}
