// Package action defines the closed set of effects a chord can trigger and
// parses them from configuration entries.
package action

import (
	"errors"
	"fmt"
	"strings"

	"micepiper/internal/config"
	"micepiper/internal/device"
)

// Kind discriminates the action variants
type Kind int

const (
	// KindKeySequence synthesizes an ordered key sequence on the virtual
	// keyboard. Runs inline on the event pipeline.
	KindKeySequence Kind = iota

	// KindCommand spawns a shell command asynchronously
	KindCommand

	// KindBuiltin invokes a named internal handler
	KindBuiltin
)

func (k Kind) String() string {
	switch k {
	case KindKeySequence:
		return "keys"
	case KindCommand:
		return "command"
	case KindBuiltin:
		return "builtin"
	}
	return "unknown"
}

// Descriptor is the configured effect bound to a chord. Immutable once
// parsed; exactly one variant's fields are populated, selected by Kind.
type Descriptor struct {
	Kind Kind

	// Sequence holds the raw transitions for KindKeySequence
	Sequence []device.Stroke

	// Command is the shell command line for KindCommand
	Command string

	// Builtin and Params identify the handler for KindBuiltin
	Builtin string
	Params  map[string]string
}

func (d Descriptor) String() string {
	switch d.Kind {
	case KindKeySequence:
		return fmt.Sprintf("keys(%d strokes)", len(d.Sequence))
	case KindCommand:
		return fmt.Sprintf("command(%q)", d.Command)
	case KindBuiltin:
		return fmt.Sprintf("builtin(%s)", d.Builtin)
	}
	return "unknown"
}

// Equal reports whether two descriptors describe the same effect
func (d Descriptor) Equal(o Descriptor) bool {
	if d.Kind != o.Kind || d.Command != o.Command || d.Builtin != o.Builtin {
		return false
	}
	if len(d.Sequence) != len(o.Sequence) || len(d.Params) != len(o.Params) {
		return false
	}
	for i := range d.Sequence {
		if d.Sequence[i] != o.Sequence[i] {
			return false
		}
	}
	for k, v := range d.Params {
		if o.Params[k] != v {
			return false
		}
	}
	return true
}

var errEmptyAction = errors.New("empty action")

// Parse converts a configuration action entry into a Descriptor,
// validating key names and builtin names up front so a bad mapping is
// rejected at load time rather than at dispatch time.
func Parse(ac config.Action) (Descriptor, error) {
	switch ac.Type {
	case "keys":
		if len(ac.Keys) == 0 {
			return Descriptor{}, fmt.Errorf("keys action: %w", errEmptyAction)
		}
		var seq []device.Stroke
		for _, combo := range ac.Keys {
			strokes, err := parseCombo(combo)
			if err != nil {
				return Descriptor{}, err
			}
			seq = append(seq, strokes...)
		}
		return Descriptor{Kind: KindKeySequence, Sequence: seq}, nil

	case "command":
		if strings.TrimSpace(ac.Command) == "" {
			return Descriptor{}, fmt.Errorf("command action: %w", errEmptyAction)
		}
		return Descriptor{Kind: KindCommand, Command: ac.Command}, nil

	case "builtin":
		if _, ok := LookupBuiltin(ac.Builtin); !ok {
			return Descriptor{}, fmt.Errorf("unknown builtin %q", ac.Builtin)
		}
		return Descriptor{Kind: KindBuiltin, Builtin: ac.Builtin, Params: ac.Params}, nil

	default:
		return Descriptor{}, fmt.Errorf("unknown action type %q", ac.Type)
	}
}

// parseCombo expands one combo step like "KEY_LEFTCTRL+KEY_C" into presses
// in listed order followed by releases in reverse order, so modifiers wrap
// the keys they modify.
func parseCombo(combo string) ([]device.Stroke, error) {
	parts := strings.Split(combo, "+")
	codes := make([]uint16, 0, len(parts))
	for _, p := range parts {
		name := strings.TrimSpace(p)
		code, ok := device.CodeByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown key %q in combo %q", name, combo)
		}
		codes = append(codes, code)
	}

	strokes := make([]device.Stroke, 0, len(codes)*2)
	for _, c := range codes {
		strokes = append(strokes, device.Stroke{Code: c, Press: true})
	}
	for i := len(codes) - 1; i >= 0; i-- {
		strokes = append(strokes, device.Stroke{Code: codes[i], Press: false})
	}
	return strokes, nil
}
