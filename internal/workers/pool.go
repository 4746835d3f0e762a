package workers

import (
	"fmt"
	"sync"

	"binary-options-bot/internal/logging"
)

type task struct {
	name string
	fn   func()
}

// Pool runs fire-and-forget background work on a bounded set of workers.
// Persistence and other non-critical-path tasks go through it so they can
// never block the trading loop; saturation drops the task with a warning
// instead of queueing unboundedly.
type Pool struct {
	queue    chan task
	wg       sync.WaitGroup
	mu       sync.Mutex
	stopped  bool
	dropped  int
	executed int
	logger   *logging.Logger
}

// NewPool creates a pool with the given worker count and queue depth
func NewPool(workerCount, queueDepth int, logger *logging.Logger) *Pool {
	if workerCount <= 0 {
		workerCount = 4
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}
	if logger == nil {
		logger = logging.WithComponent("workers")
	}

	p := &Pool{
		queue:  make(chan task, queueDepth),
		logger: logger,
	}
	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.queue {
		p.runOne(t)
	}
}

func (p *Pool) runOne(t task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("background task panicked", "task", t.name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	t.fn()
	p.mu.Lock()
	p.executed++
	p.mu.Unlock()
}

// Submit enqueues a task. Returns false when the pool is stopped or the
// queue is full; the task is dropped, never blocked on. The lock is
// held across the send so Stop cannot close the queue underneath it.
func (p *Pool) Submit(name string, fn func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}

	select {
	case p.queue <- task{name: name, fn: fn}:
		return true
	default:
		p.dropped++
		p.logger.Warn("worker queue saturated, task dropped", "task", name)
		return false
	}
}

// Stop drains the queue and waits for workers to finish
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

// Stats returns executed and dropped counters
func (p *Pool) Stats() (executed, dropped int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.executed, p.dropped
}
