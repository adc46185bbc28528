// Package dispatch looks chords up in the mapping table and executes the
// bound actions with the timing rules each action kind requires.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"sync"
	"time"

	"micepiper/internal/action"
	"micepiper/internal/chord"
	"micepiper/internal/mapping"
)

// Dispatcher executes actions for chords. It keeps no per-chord state;
// all pending-chord bookkeeping lives in the normalizer. The only state
// here is the list of keys a builtin deliberately left held (the
// window-switcher's ALT), released before the next dispatch and on Close.
type Dispatcher struct {
	kb             action.Keyboard
	pool           *Pool
	builtinTimeout time.Duration

	mu   sync.Mutex
	held []uint16
}

// New creates a dispatcher. kb may be nil when no virtual keyboard is
// available; key-sequence and builtin actions then fail (logged, not
// fatal) while commands keep working.
func New(kb action.Keyboard, pool *Pool, builtinTimeout time.Duration) *Dispatcher {
	if builtinTimeout <= 0 {
		builtinTimeout = 3 * time.Second
	}
	return &Dispatcher{kb: kb, pool: pool, builtinTimeout: builtinTimeout}
}

// Dispatch resolves the chord against the table and runs the bound action.
// An unmapped chord is a normal no-op. Execution failures are logged with
// chord and action context and never propagate; the returned error exists
// for tests and for the service's log line.
func (d *Dispatcher) Dispatch(c chord.Chord, table *mapping.Table) error {
	d.releaseHeld()

	desc, ok := table.Lookup(c)
	if !ok {
		return nil
	}

	switch desc.Kind {
	case action.KindKeySequence:
		// Latency- and order-sensitive: runs inline on the pipeline
		// goroutine, never coalesced or reordered.
		if d.kb == nil {
			return d.fail(c, desc, fmt.Errorf("no virtual keyboard"))
		}
		if err := d.kb.EmitSequence(desc.Sequence); err != nil {
			return d.fail(c, desc, err)
		}
		return nil

	case action.KindCommand:
		cmd := desc.Command
		if !d.pool.Submit(func() { d.runCommand(c, desc, cmd) }) {
			return d.fail(c, desc, fmt.Errorf("worker queue full, action dropped"))
		}
		return nil

	case action.KindBuiltin:
		fn, ok := action.LookupBuiltin(desc.Builtin)
		if !ok {
			// Parse validates names, so this indicates a stale table
			return d.fail(c, desc, fmt.Errorf("unknown builtin"))
		}
		if !d.pool.Submit(func() { d.runBuiltin(c, desc, fn) }) {
			return d.fail(c, desc, fmt.Errorf("worker queue full, action dropped"))
		}
		return nil
	}
	return nil
}

// runCommand spawns the shell command and reports its outcome. Fire and
// forget from the pipeline's point of view: by the time this runs we are
// already on a worker.
func (d *Dispatcher) runCommand(c chord.Chord, desc action.Descriptor, command string) {
	cmd := exec.Command("/bin/sh", "-c", command)
	out, err := cmd.CombinedOutput()
	if err != nil {
		d.fail(c, desc, fmt.Errorf("%v (output: %s)", err, trimOutput(out)))
		return
	}
	if len(out) > 0 {
		log.Printf("Dispatch: command for chord %s: %s", c, trimOutput(out))
	}
}

// runBuiltin invokes the handler under the builtin timeout
func (d *Dispatcher) runBuiltin(c chord.Chord, desc action.Descriptor, fn action.BuiltinFunc) {
	if d.kb == nil {
		d.fail(c, desc, fmt.Errorf("no virtual keyboard"))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.builtinTimeout)
	defer cancel()

	done := make(chan struct{})
	var hold []uint16
	var err error
	go func() {
		hold, err = fn(ctx, d.kb, desc.Params)
		close(done)
	}()

	select {
	case <-done:
		if err != nil {
			d.fail(c, desc, err)
			return
		}
		if len(hold) > 0 {
			d.mu.Lock()
			d.held = append(d.held, hold...)
			d.mu.Unlock()
		}
	case <-ctx.Done():
		// The handler goroutine is abandoned; the worker moves on so a
		// hung builtin cannot wedge the pool slot forever. If it finishes
		// late, any keys it left held still get tracked so a later
		// dispatch releases them.
		go func() {
			<-done
			if err == nil && len(hold) > 0 {
				d.mu.Lock()
				d.held = append(d.held, hold...)
				d.mu.Unlock()
			}
		}()
		d.fail(c, desc, fmt.Errorf("timeout after %s", d.builtinTimeout))
	}
}

// releaseHeld releases keys a previous builtin left pressed
func (d *Dispatcher) releaseHeld() {
	if d.kb == nil {
		return
	}
	d.mu.Lock()
	held := d.held
	d.held = nil
	d.mu.Unlock()

	for _, code := range held {
		if err := d.kb.Release(code); err != nil {
			log.Printf("Dispatch: failed to release held key %d: %v", code, err)
		}
	}
}

// Close releases any held keys. Call during shutdown after the pool has
// drained.
func (d *Dispatcher) Close() {
	if d.kb != nil {
		d.releaseHeld()
	}
}

func (d *Dispatcher) fail(c chord.Chord, desc action.Descriptor, err error) error {
	wrapped := fmt.Errorf("action execution failure: chord %s on %q, action %s: %w", c, c.Device, desc, err)
	log.Printf("Dispatch: %v", wrapped)
	return wrapped
}

func trimOutput(out []byte) string {
	const max = 200
	s := string(out)
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
