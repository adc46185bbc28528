// Package service wires the pipeline together: it owns the device readers,
// drives read -> normalize -> dispatch sequentially per event, publishes
// mapping tables atomically on reload, and handles reconnect and shutdown.
package service

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"micepiper/internal/api"
	"micepiper/internal/chord"
	"micepiper/internal/config"
	"micepiper/internal/device"
	"micepiper/internal/dispatch"
	"micepiper/internal/mapping"
)

// shutdownGrace is how long in-flight worker actions get on Stop
const shutdownGrace = 2 * time.Second

// deviceLoop tracks one reader across reconnects
type deviceLoop struct {
	mu   sync.Mutex
	r    *device.Reader
	path string
}

func (dl *deviceLoop) reader() *device.Reader {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.r
}

func (dl *deviceLoop) setReader(r *device.Reader) {
	dl.mu.Lock()
	dl.r = r
	dl.mu.Unlock()
}

// Service runs the capture and dispatch engine
type Service struct {
	cfgMgr *config.Manager
	kb     *device.Keyboard
	pool   *dispatch.Pool
	disp   *dispatch.Dispatcher

	// table is the only cross-goroutine shared mutable resource: readers
	// never block, a reload swaps in a fully-built replacement
	table atomic.Pointer[mapping.Table]

	events   chan device.Event
	reconfig chan normConfig
	resetDev chan string

	mu      sync.Mutex
	loops   map[string]*deviceLoop
	active  int
	termErr error

	paused  atomic.Bool
	started time.Time

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// OnButton and OnChord feed the API event stream. Set before Start;
	// both are invoked on the pipeline goroutine and must not block.
	OnButton func(device.Event)
	OnChord  func(c chord.Chord, mapped bool)
}

type normConfig struct {
	window time.Duration
	repeat time.Duration
}

// New creates a service around the given configuration manager
func New(cfgMgr *config.Manager) *Service {
	return &Service{
		cfgMgr:   cfgMgr,
		events:   make(chan device.Event, 64),
		reconfig: make(chan normConfig, 1),
		resetDev: make(chan string, 4),
		loops:    make(map[string]*deviceLoop),
		done:     make(chan struct{}),
	}
}

// Start builds the initial mapping table, opens devices and launches the
// pipeline. An invalid mapping or no usable device is fatal here: unlike
// at reload time, there is nothing older to keep serving.
func (s *Service) Start() error {
	cfg := s.cfgMgr.Get()

	table, err := mapping.FromConfig(cfg.Mappings)
	if err != nil {
		return fmt.Errorf("initial mapping load: %w", err)
	}
	s.table.Store(table)
	log.Printf("Service: Loaded %d mapping(s)", table.Size())

	kb, err := device.NewKeyboard()
	if err != nil {
		// Key injection needs /dev/uinput; commands still work without it
		log.Printf("Warning: virtual keyboard unavailable: %v", err)
	} else {
		s.kb = kb
	}

	s.pool = dispatch.NewPool(cfg.General.Workers, 16)
	builtinTimeout := time.Duration(cfg.General.BuiltinTimeoutMs) * time.Millisecond
	if s.kb != nil {
		s.disp = dispatch.New(s.kb, s.pool, builtinTimeout)
	} else {
		s.disp = dispatch.New(nil, s.pool, builtinTimeout)
	}

	paths, err := resolvePaths(cfg)
	if err != nil {
		return err
	}

	var opened int
	for _, path := range paths {
		r, err := device.Open(path, cfg.GrabFor(path))
		if err != nil {
			log.Printf("Warning: %v", err)
			continue
		}
		log.Printf("Service: Listening on %s (%q, grab=%v)", path, r.Name(), r.Grabbed())
		dl := &deviceLoop{r: r, path: path}
		s.mu.Lock()
		s.loops[path] = dl
		s.active++
		s.mu.Unlock()
		opened++
	}
	if opened == 0 {
		return fmt.Errorf("%w: no configured device could be opened", device.ErrDeviceUnavailable)
	}

	s.started = time.Now()

	s.wg.Add(1)
	go s.pipeline(cfg)

	s.mu.Lock()
	for _, dl := range s.loops {
		s.wg.Add(1)
		go s.readLoop(dl, cfg)
	}
	s.mu.Unlock()

	return nil
}

// resolvePaths expands the "auto" device entry into discovered mice
func resolvePaths(cfg *config.Config) ([]string, error) {
	var paths []string
	seen := make(map[string]bool)
	for _, d := range cfg.Devices {
		if d.Path != "auto" {
			if !seen[d.Path] {
				seen[d.Path] = true
				paths = append(paths, d.Path)
			}
			continue
		}
		found, err := device.Discover()
		if err != nil {
			return nil, fmt.Errorf("device discovery: %w", err)
		}
		if len(found) == 0 {
			log.Printf("Warning: device discovery found no mice with extra buttons")
		}
		for _, c := range found {
			if !seen[c.Path] {
				seen[c.Path] = true
				paths = append(paths, c.Path)
			}
		}
	}
	return paths, nil
}

// readLoop pumps one device into the shared event channel, reconnecting
// with bounded backoff when the device vanishes
func (s *Service) readLoop(dl *deviceLoop, cfg *config.Config) {
	defer s.wg.Done()

	for {
		ev, err := dl.reader().ReadNext()
		if err == nil {
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
			continue
		}

		if errors.Is(err, device.ErrReaderClosed) {
			return
		}

		log.Printf("Service: %v", err)
		if !s.reconnect(dl, cfg) {
			s.dropDevice(dl)
			return
		}
		// Releases may have been lost while the device was gone
		select {
		case s.resetDev <- dl.reader().Name():
		default:
		}
	}
}

// reconnect retries opening the device with exponential backoff. Returns
// false when retries are exhausted or the service is stopping.
func (s *Service) reconnect(dl *deviceLoop, cfg *config.Config) bool {
	retries := cfg.General.ReconnectRetries
	delay := time.Duration(cfg.General.ReconnectDelayMs) * time.Millisecond
	if retries <= 0 {
		retries = 5
	}
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	for i := 1; i <= retries; i++ {
		select {
		case <-time.After(delay):
		case <-s.done:
			return false
		}

		r, err := device.Open(dl.path, cfg.GrabFor(dl.path))
		if err == nil {
			select {
			case <-s.done:
				r.Close()
				return false
			default:
			}
			log.Printf("Service: Reconnected to %s (attempt %d)", dl.path, i)
			dl.setReader(r)
			return true
		}
		log.Printf("Service: Reconnect %d/%d to %s failed: %v", i, retries, dl.path, err)
		delay *= 2
	}
	return false
}

// dropDevice abandons a device whose reconnects are exhausted. When the
// last device is gone the service shuts itself down; there is nothing
// left to read.
func (s *Service) dropDevice(dl *deviceLoop) {
	s.mu.Lock()
	delete(s.loops, dl.path)
	s.active--
	last := s.active == 0
	if last && s.termErr == nil {
		s.termErr = fmt.Errorf("%w: all devices lost", device.ErrDeviceDisconnected)
	}
	s.mu.Unlock()

	log.Printf("Service: Abandoning device %s after exhausted reconnects", dl.path)
	if last {
		log.Printf("Service: No devices remain, shutting down")
		go s.Stop()
	}
}

// pipeline is the single goroutine that drives normalize -> dispatch,
// preserving press order. It owns all normalizer state; time enters either
// through event timestamps or through the deadline timer.
func (s *Service) pipeline(cfg *config.Config) {
	defer s.wg.Done()

	window := time.Duration(cfg.Window()) * time.Millisecond
	repeat := time.Duration(cfg.General.RepeatMs) * time.Millisecond
	norms := make(map[string]*chord.Normalizer)

	normFor := func(dev string) *chord.Normalizer {
		n, ok := norms[dev]
		if !ok {
			n = chord.NewNormalizer(dev, window, repeat)
			norms[dev] = n
		}
		return n
	}

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		// Re-arm the timer for the earliest pending normalizer deadline
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		next, ok := nextDeadline(norms)
		if ok {
			d := time.Until(next)
			if d < 0 {
				d = 0
			}
			timer.Reset(d)
		} else {
			timer.Reset(time.Hour)
		}

		select {
		case <-s.done:
			return

		case ev := <-s.events:
			s.handleEvent(normFor(ev.Device), ev)

		case <-timer.C:
			now := time.Now()
			for _, n := range norms {
				if c, ok := n.Expire(now); ok {
					s.emit(c)
				}
			}

		case nc := <-s.reconfig:
			window, repeat = nc.window, nc.repeat
			for _, n := range norms {
				n.SetWindow(window, repeat)
			}

		case dev := <-s.resetDev:
			if n, ok := norms[dev]; ok {
				n.Reset()
			}
		}
	}
}

// nextDeadline finds the earliest pending deadline across all normalizers
func nextDeadline(norms map[string]*chord.Normalizer) (time.Time, bool) {
	var (
		earliest time.Time
		found    bool
	)
	for _, n := range norms {
		d, ok := n.Deadline()
		if !ok {
			continue
		}
		if !found || d.Before(earliest) {
			earliest = d
			found = true
		}
	}
	return earliest, found
}

// handleEvent advances one device's normalizer by one raw transition
func (s *Service) handleEvent(n *chord.Normalizer, ev device.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Service: recovered panic handling %s: %v", ev, r)
		}
	}()

	// Expire against the event's own timestamp first so a chord whose
	// window closed before this event arrived is emitted in order
	if c, ok := n.Expire(ev.Time); ok {
		s.emit(c)
	}
	n.Feed(ev.Code, ev.Pressed, ev.Time)

	if s.OnButton != nil {
		s.OnButton(ev)
	}
}

// emit dispatches one normalized chord
func (s *Service) emit(c chord.Chord) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Service: recovered panic dispatching chord %s on %q: %v", c, c.Device, r)
		}
	}()

	table := s.table.Load()
	_, mapped := table.Lookup(c)

	if !s.paused.Load() {
		// Dispatch logs its own failures; nothing propagates past here
		_ = s.disp.Dispatch(c, table)
	}

	if s.OnChord != nil {
		s.OnChord(c, mapped)
	}
}

// Reload rebuilds the mapping table from the configuration manager's
// current state and swaps it in atomically. On failure the previous table
// stays in service and the error is returned for the caller to report.
func (s *Service) Reload() error {
	cfg := s.cfgMgr.Get()

	table, err := mapping.FromConfig(cfg.Mappings)
	if err != nil {
		log.Printf("Service: Reload rejected, keeping previous table: %v", err)
		return err
	}
	s.table.Store(table)

	nc := normConfig{
		window: time.Duration(cfg.Window()) * time.Millisecond,
		repeat: time.Duration(cfg.General.RepeatMs) * time.Millisecond,
	}
	select {
	case s.reconfig <- nc:
	default:
	}

	log.Printf("Service: Mapping reloaded (%d entries)", table.Size())
	return nil
}

// Pause stops or resumes dispatching. Events are still read (and fed to
// the API stream) so the configuration tool keeps seeing button presses.
func (s *Service) Pause(paused bool) {
	s.paused.Store(paused)
	if paused {
		log.Printf("Service: Dispatch paused")
	} else {
		log.Printf("Service: Dispatch resumed")
	}
}

// Paused reports whether dispatching is paused
func (s *Service) Paused() bool {
	return s.paused.Load()
}

// Status implements the API controller surface
func (s *Service) Status() api.Status {
	s.mu.Lock()
	devices := make([]api.DeviceStatus, 0, len(s.loops))
	for _, dl := range s.loops {
		r := dl.reader()
		devices = append(devices, api.DeviceStatus{
			Path:    dl.path,
			Name:    r.Name(),
			Grabbed: r.Grabbed(),
		})
	}
	s.mu.Unlock()

	return api.Status{
		Devices:  devices,
		Mappings: s.table.Load().Size(),
		Paused:   s.paused.Load(),
		UptimeS:  int64(time.Since(s.started).Seconds()),
	}
}

// Stop shuts the pipeline down: readers are closed (interrupting blocked
// reads and releasing grabs), workers get a grace period, held keys are
// released, and the virtual keyboard is destroyed.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		for _, dl := range s.loops {
			dl.reader().Close()
		}
		s.mu.Unlock()

		s.wg.Wait()
		s.pool.Shutdown(shutdownGrace)
		s.disp.Close()
		if s.kb != nil {
			s.kb.Close()
		}
		log.Printf("Service: Stopped")
	})
}

// Done is closed when the service has begun shutting down
func (s *Service) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error, if the service stopped on its own
func (s *Service) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.termErr
}
