// Package pool implements qached's fixed-size worker pool: a single FIFO
// job queue consumed by N long-lived workers, as specified in spec.md
// §4.6. It is a direct rendering of the original source's thread_pool.rs
// (an mpsc channel plus a fixed set of worker threads) using a buffered
// Go channel in place of the Rust mpsc::channel.
package pool

import (
	"errors"
	"sync"

	"github.com/h2owater425/qached/internal/logger"
)

// Job is a unit of work: a one-shot callable with no arguments and no
// return, owned by the queue until a worker consumes it.
type Job func()

// ErrClosed is returned by Execute once the pool has been shut down.
var ErrClosed = errors.New("pool is closed")

// Pool is a fixed-size set of workers draining a single job queue.
type Pool struct {
	jobs   chan Job
	wg     sync.WaitGroup
	log    *logger.Logger
	mu     sync.Mutex
	closed bool
}

// New starts a Pool of size workers. size must be at least 1. The pool is
// created once at server startup and lives for the process lifetime;
// closing it is the only teardown path (spec.md §4.6).
func New(size int, log *logger.Logger) (*Pool, error) {
	if size <= 0 {
		return nil, errors.New("size must be greater than zero")
	}

	p := &Pool{
		jobs: make(chan Job),
		log:  log,
	}

	p.wg.Add(size)
	for id := 0; id < size; id++ {
		go p.worker(id)
	}

	return p, nil
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.log.Debugf("worker", "worker %d got job", id)
		job()
		p.log.Debugf("worker", "worker %d finished job", id)
	}
	p.log.Debugf("worker", "worker %d shutdown", id)
}

// Execute enqueues job for a worker to run. It returns ErrClosed if the
// pool has already been shut down. The mutex is held for the full enqueue
// (spec.md §5: "a single inner mutex + condition is sufficient because
// submission is infrequent relative to work"), which also makes the
// closed-check and the send atomic with respect to Close.
func (p *Pool) Execute(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	p.jobs <- job
	return nil
}

// Close signals all workers to exit once their current job (if any)
// finishes, and blocks until every worker has returned. Calling Close more
// than once is a no-op.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.jobs)
	p.wg.Wait()
}
