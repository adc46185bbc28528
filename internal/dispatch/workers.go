package dispatch

import (
	"log"
	"sync"
	"time"
)

// Pool runs side-effecting actions off the event pipeline so a slow
// command or builtin never delays button processing. Submission is
// non-blocking: when the queue is full the task is dropped and reported,
// which the pipeline treats as an action execution failure.
type Pool struct {
	tasks  chan func()
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewPool starts workers goroutines over a bounded queue
func NewPool(workers, queue int) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if queue <= 0 {
		queue = 16
	}
	p := &Pool{tasks: make(chan func(), queue)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.invoke(task)
	}
}

func (p *Pool) invoke(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Pool: recovered panic in action task: %v", r)
		}
	}()
	task()
}

// Submit enqueues a task without blocking. Returns false if the queue is
// full or the pool is shut down.
func (p *Pool) Submit(task func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// Shutdown stops accepting tasks and waits up to grace for in-flight work
// to finish; anything still running after that is abandoned.
func (p *Pool) Shutdown(grace time.Duration) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		log.Printf("Pool: grace period elapsed, abandoning in-flight actions")
	}
}
