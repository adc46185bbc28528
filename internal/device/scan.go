package device

import (
	"fmt"
	"strings"

	evdev "github.com/holoplot/go-evdev"
	"github.com/jochenvg/go-udev"
)

// Candidate is a pointing device found by Discover
type Candidate struct {
	Path    string
	Name    string
	Buttons int
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s  %q (%d buttons)", c.Path, c.Name, c.Buttons)
}

// Discover enumerates input devices via udev and returns those that look
// like mice with extra buttons: EV_KEY capability including BTN_LEFT and
// BTN_RIGHT, with a button count that rules out keyboards.
func Discover() ([]Candidate, error) {
	u := udev.Udev{}
	e := u.NewEnumerate()
	e.AddMatchSubsystem("input")
	e.AddMatchIsInitialized()

	devices, err := e.Devices()
	if err != nil {
		return nil, fmt.Errorf("udev enumerate: %w", err)
	}

	var found []Candidate
	seen := make(map[string]bool)
	for _, d := range devices {
		node := d.PropertyValue("DEVNAME")
		if !strings.HasPrefix(node, "/dev/input/event") || seen[node] {
			continue
		}
		seen[node] = true

		cand, ok := probe(node)
		if ok {
			found = append(found, cand)
		}
	}
	return found, nil
}

// probe opens a node briefly to inspect its key capabilities
func probe(node string) (Candidate, bool) {
	dev, err := evdev.Open(node)
	if err != nil {
		// Not fatal during a scan; typically a permission problem on
		// nodes we do not care about anyway
		return Candidate{}, false
	}
	defer dev.Close()

	codes := dev.CapableEvents(evdev.EV_KEY)
	hasLeft, hasRight := false, false
	for _, c := range codes {
		switch c {
		case evdev.BTN_LEFT:
			hasLeft = true
		case evdev.BTN_RIGHT:
			hasRight = true
		}
	}
	// Mice with programmable extras report a handful of buttons; a
	// keyboard reports dozens of keys, a plain two-button mouse is not
	// worth mapping.
	if !hasLeft || !hasRight || len(codes) <= 2 || len(codes) >= 20 {
		return Candidate{}, false
	}

	name, err := dev.Name()
	if err != nil {
		name = node
	}
	return Candidate{Path: node, Name: name, Buttons: len(codes)}, true
}
