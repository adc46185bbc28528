package dispatch

import (
	"errors"
	"sync"
	"testing"
	"time"

	"micepiper/internal/action"
	"micepiper/internal/chord"
	"micepiper/internal/config"
	"micepiper/internal/device"
	"micepiper/internal/mapping"
)

// recorder implements action.Keyboard and logs strokes thread-safely
type recorder struct {
	mu        sync.Mutex
	strokes   []device.Stroke
	fail      bool
	pressGate chan struct{} // when set, Press blocks until it is closed
}

var errInjection = errors.New("injection failed")

func (r *recorder) add(code uint16, press bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errInjection
	}
	r.strokes = append(r.strokes, device.Stroke{Code: code, Press: press})
	return nil
}

func (r *recorder) Press(code uint16) error {
	// A closed gate lets every press straight through
	if r.pressGate != nil {
		<-r.pressGate
	}
	return r.add(code, true)
}

func (r *recorder) Release(code uint16) error { return r.add(code, false) }

func (r *recorder) Click(code uint16) error {
	if err := r.Press(code); err != nil {
		return err
	}
	return r.Release(code)
}

func (r *recorder) EmitSequence(steps []device.Stroke) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errInjection
	}
	r.strokes = append(r.strokes, steps...)
	return nil
}

func (r *recorder) TypeString(text string) error { return nil }

func (r *recorder) snapshot() []device.Stroke {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]device.Stroke, len(r.strokes))
	copy(out, r.strokes)
	return out
}

// waitFor polls until cond holds or the deadline passes
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before deadline")
}

func buildTable(t *testing.T, mappings []config.Mapping) *mapping.Table {
	t.Helper()
	table, err := mapping.FromConfig(mappings)
	if err != nil {
		t.Fatalf("Expected table to build, got %v", err)
	}
	return table
}

func chordOf(buttons ...uint16) chord.Chord {
	return chord.New("mouse", buttons, time.Now())
}

// TestDispatchUnmapped tests that an unmapped chord is a silent no-op
func TestDispatchUnmapped(t *testing.T) {
	kb := &recorder{}
	pool := NewPool(1, 4)
	defer pool.Shutdown(time.Second)

	d := New(kb, pool, 0)
	table := buildTable(t, nil)

	if err := d.Dispatch(chordOf(275), table); err != nil {
		t.Errorf("Expected no-op for unmapped chord, got %v", err)
	}
	if len(kb.snapshot()) != 0 {
		t.Errorf("Expected no strokes, got %v", kb.snapshot())
	}
}

// TestDispatchKeySequenceInline tests that key sequences are injected
// synchronously from Dispatch
func TestDispatchKeySequenceInline(t *testing.T) {
	kb := &recorder{}
	pool := NewPool(1, 4)
	defer pool.Shutdown(time.Second)

	d := New(kb, pool, 0)
	table := buildTable(t, []config.Mapping{
		{Buttons: []string{"BTN_SIDE"}, Action: config.Action{Type: "keys", Keys: []string{"KEY_LEFTCTRL+KEY_C"}}},
	})

	if err := d.Dispatch(chordOf(275), table); err != nil {
		t.Fatalf("Expected dispatch to succeed, got %v", err)
	}

	// Inline: strokes are present before Dispatch returns
	strokes := kb.snapshot()
	if len(strokes) != 4 {
		t.Fatalf("Expected 4 strokes immediately, got %d", len(strokes))
	}
}

// TestDispatchFailureDoesNotWedge tests that a failed injection is
// reported but the dispatcher keeps working for the next chord
func TestDispatchFailureDoesNotWedge(t *testing.T) {
	kb := &recorder{fail: true}
	pool := NewPool(1, 4)
	defer pool.Shutdown(time.Second)

	d := New(kb, pool, 0)
	table := buildTable(t, []config.Mapping{
		{Buttons: []string{"BTN_SIDE"}, Action: config.Action{Type: "keys", Keys: []string{"KEY_A"}}},
	})

	if err := d.Dispatch(chordOf(275), table); err == nil {
		t.Error("Expected error from failed injection")
	}

	kb.mu.Lock()
	kb.fail = false
	kb.mu.Unlock()

	if err := d.Dispatch(chordOf(275), table); err != nil {
		t.Errorf("Expected next dispatch to succeed, got %v", err)
	}
	if len(kb.snapshot()) != 2 {
		t.Errorf("Expected 2 strokes from second dispatch, got %d", len(kb.snapshot()))
	}
}

// TestFailedCommandDoesNotBlockNextChord tests that a command that fails
// to run is logged away on a worker while the next chord dispatches
// normally
func TestFailedCommandDoesNotBlockNextChord(t *testing.T) {
	kb := &recorder{}
	pool := NewPool(1, 4)
	defer pool.Shutdown(time.Second)

	d := New(kb, pool, 0)
	table := buildTable(t, []config.Mapping{
		{Buttons: []string{"BTN_SIDE"}, Action: config.Action{Type: "command", Command: "/nonexistent-binary-for-test"}},
		{Buttons: []string{"BTN_EXTRA"}, Action: config.Action{Type: "keys", Keys: []string{"KEY_A"}}},
	})

	if err := d.Dispatch(chordOf(275), table); err != nil {
		t.Fatalf("Expected command submission to succeed, got %v", err)
	}
	if err := d.Dispatch(chordOf(276), table); err != nil {
		t.Fatalf("Expected next chord to dispatch, got %v", err)
	}
	if len(kb.snapshot()) != 2 {
		t.Errorf("Expected 2 strokes from key chord, got %d", len(kb.snapshot()))
	}
}

// TestDispatchBuiltinAsync tests that builtins run on the worker pool
func TestDispatchBuiltinAsync(t *testing.T) {
	kb := &recorder{}
	pool := NewPool(1, 4)
	defer pool.Shutdown(time.Second)

	d := New(kb, pool, 0)
	table := buildTable(t, []config.Mapping{
		{Buttons: []string{"BTN_EXTRA"}, Action: config.Action{Type: "builtin", Builtin: "copy"}},
	})

	if err := d.Dispatch(chordOf(276), table); err != nil {
		t.Fatalf("Expected dispatch to succeed, got %v", err)
	}
	waitFor(t, func() bool { return len(kb.snapshot()) == 4 })
}

// TestHeldKeysReleasedOnNextDispatch tests that a builtin's held keys are
// released before the next chord's action runs
func TestHeldKeysReleasedOnNextDispatch(t *testing.T) {
	kb := &recorder{}
	pool := NewPool(1, 4)
	defer pool.Shutdown(time.Second)

	d := New(kb, pool, 0)
	table := buildTable(t, []config.Mapping{
		{Buttons: []string{"BTN_SIDE"}, Action: config.Action{Type: "builtin", Builtin: "window-switcher"}},
		{Buttons: []string{"BTN_EXTRA"}, Action: config.Action{Type: "keys", Keys: []string{"KEY_A"}}},
	})

	if err := d.Dispatch(chordOf(275), table); err != nil {
		t.Fatalf("Expected dispatch to succeed, got %v", err)
	}

	alt, _ := device.CodeByName("KEY_LEFTALT")
	// Wait for the switcher to run: ALT pressed, TAB clicked, ALT left down
	waitFor(t, func() bool {
		down := map[uint16]bool{}
		for _, s := range kb.snapshot() {
			down[s.Code] = s.Press
		}
		return down[alt] && len(kb.snapshot()) >= 3
	})

	if err := d.Dispatch(chordOf(276), table); err != nil {
		t.Fatalf("Expected second dispatch to succeed, got %v", err)
	}

	down := map[uint16]bool{}
	for _, s := range kb.snapshot() {
		down[s.Code] = s.Press
	}
	if down[alt] {
		t.Error("Expected ALT to be released before the next action")
	}
}

// TestTimedOutBuiltinHoldStillTracked tests that a builtin finishing
// after its timeout still has its held keys tracked and released by a
// later dispatch
func TestTimedOutBuiltinHoldStillTracked(t *testing.T) {
	gate := make(chan struct{})
	kb := &recorder{pressGate: gate}
	pool := NewPool(1, 4)
	defer pool.Shutdown(time.Second)

	d := New(kb, pool, 20*time.Millisecond)
	table := buildTable(t, []config.Mapping{
		{Buttons: []string{"BTN_SIDE"}, Action: config.Action{Type: "builtin", Builtin: "window-switcher"}},
		{Buttons: []string{"BTN_EXTRA"}, Action: config.Action{Type: "keys", Keys: []string{"KEY_A"}}},
	})

	if err := d.Dispatch(chordOf(275), table); err != nil {
		t.Fatalf("Expected dispatch to succeed, got %v", err)
	}

	// Let the builtin overrun its timeout before it gets to press ALT
	time.Sleep(60 * time.Millisecond)
	close(gate)

	alt, _ := device.CodeByName("KEY_LEFTALT")
	waitFor(t, func() bool {
		for _, s := range kb.snapshot() {
			if s.Code == alt && s.Press {
				return true
			}
		}
		return false
	})

	// The late hold must end up released by a subsequent dispatch
	waitFor(t, func() bool {
		if err := d.Dispatch(chordOf(276), table); err != nil {
			return false
		}
		down := map[uint16]bool{}
		for _, s := range kb.snapshot() {
			down[s.Code] = s.Press
		}
		return !down[alt]
	})
}

// TestHeldKeysReleasedOnClose tests that Close releases held keys
func TestHeldKeysReleasedOnClose(t *testing.T) {
	kb := &recorder{}
	pool := NewPool(1, 4)

	d := New(kb, pool, 0)
	table := buildTable(t, []config.Mapping{
		{Buttons: []string{"BTN_SIDE"}, Action: config.Action{Type: "builtin", Builtin: "window-switcher"}},
	})

	d.Dispatch(chordOf(275), table)
	alt, _ := device.CodeByName("KEY_LEFTALT")
	waitFor(t, func() bool {
		for _, s := range kb.snapshot() {
			if s.Code == alt && s.Press {
				return true
			}
		}
		return false
	})
	// Let the builtin finish registering its hold
	waitFor(t, func() bool { return len(kb.snapshot()) >= 3 })

	pool.Shutdown(time.Second)
	d.Close()

	down := map[uint16]bool{}
	for _, s := range kb.snapshot() {
		down[s.Code] = s.Press
	}
	if down[alt] {
		t.Error("Expected ALT to be released at shutdown")
	}
}

// TestDispatchNoKeyboard tests that key actions fail cleanly without a
// virtual keyboard while the dispatcher itself survives
func TestDispatchNoKeyboard(t *testing.T) {
	pool := NewPool(1, 4)
	defer pool.Shutdown(time.Second)

	d := New(nil, pool, 0)
	table := buildTable(t, []config.Mapping{
		{Buttons: []string{"BTN_SIDE"}, Action: config.Action{Type: "keys", Keys: []string{"KEY_A"}}},
	})

	if err := d.Dispatch(chordOf(275), table); err == nil {
		t.Error("Expected error for key sequence without keyboard")
	}
	// Second call must not panic
	if err := d.Dispatch(chordOf(275), table); err == nil {
		t.Error("Expected error again, dispatcher should stay usable")
	}
}

// TestPoolOverflow tests that Submit reports a full queue instead of
// blocking
func TestPoolOverflow(t *testing.T) {
	pool := NewPool(1, 1)
	defer pool.Shutdown(time.Second)

	block := make(chan struct{})
	// First task occupies the worker
	if !pool.Submit(func() { <-block }) {
		t.Fatal("Expected first submit to be accepted")
	}
	// Second fills the queue slot; keep submitting until it sticks, since
	// the worker may not have picked up the first task yet
	waitFor(t, func() bool { return pool.Submit(func() { <-block }) })

	// Worker busy and queue full: this one must be refused, not block
	done := make(chan bool, 1)
	go func() { done <- pool.Submit(func() {}) }()
	select {
	case accepted := <-done:
		if accepted {
			t.Error("Expected submit to be refused when queue is full")
		}
	case <-time.After(time.Second):
		t.Error("Expected submit to return immediately, it blocked")
	}

	close(block)
}

// TestPoolRecoversPanics tests that a panicking task does not kill the
// worker
func TestPoolRecoversPanics(t *testing.T) {
	pool := NewPool(1, 4)
	defer pool.Shutdown(time.Second)

	pool.Submit(func() { panic("boom") })

	ran := make(chan struct{})
	waitFor(t, func() bool { return pool.Submit(func() { close(ran) }) })
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Error("Expected the worker to survive the panic and run the next task")
	}
}
