// Package queue bounds how many upload tasks run at once.
//
// A Queue owns a fixed pool of workers. Submitted tasks wait in a FIFO list
// and are admitted in submission order as workers free up; completion order
// is not guaranteed. Each submission gets its own Future, so a failing task
// never affects its siblings or the queue. The queue does not retry.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/voyagehub/assetsync/internal/common"
	"github.com/voyagehub/assetsync/internal/logging"
)

const DefaultMaxConcurrent = 3

// Task is a unit of work. The context carries the submitter's values but
// not its cancellation: once admitted a task runs to completion.
type Task[T any] func(ctx context.Context) (T, error)

type job struct {
	run func()
}

type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []job
	running int
	closed  bool

	maxConcurrent int
	admitInterval time.Duration
	log           logging.Logger
	wg            sync.WaitGroup
}

type Option func(*Queue)

// WithAdmitInterval makes a worker pause after each task before admitting
// the next one, smoothing bursts against the remote API.
func WithAdmitInterval(d time.Duration) Option {
	return func(q *Queue) { q.admitInterval = d }
}

func WithLogger(l logging.Logger) Option {
	return func(q *Queue) { q.log = l }
}

// New starts a queue with maxConcurrent workers (DefaultMaxConcurrent when
// non-positive).
func New(maxConcurrent int, opts ...Option) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	q := &Queue{
		maxConcurrent: maxConcurrent,
		log:           logging.Discard(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.log = q.log.With("module", "upload_queue")
	q.cond = sync.NewCond(&q.mu)

	q.wg.Add(maxConcurrent)
	for i := 0; i < maxConcurrent; i++ {
		go q.worker()
	}
	return q
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		j := q.pending[0]
		q.pending[0] = job{}
		q.pending = q.pending[1:]
		q.running++
		q.mu.Unlock()

		j.run()

		q.mu.Lock()
		q.running--
		q.mu.Unlock()

		if q.admitInterval > 0 {
			time.Sleep(q.admitInterval)
		}
	}
}

func (q *Queue) enqueue(j job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.pending = append(q.pending, j)
	q.cond.Signal()
	return true
}

// Submit admits task into q and returns its Future. Submitting to a closed
// queue returns a Future already rejected with common.ErrQueueClosed.
func Submit[T any](ctx context.Context, q *Queue, task Task[T]) *Future[T] {
	f := newFuture[T]()
	runCtx := context.WithoutCancel(ctx)

	ok := q.enqueue(job{run: func() {
		defer func() {
			if p := recover(); p != nil {
				q.log.Error(runCtx, "upload task panicked", "panic", fmt.Sprint(p))
				var zero T
				f.resolve(zero, fmt.Errorf("task panicked: %v", p))
			}
		}()
		v, err := task(runCtx)
		f.resolve(v, err)
	}})
	if !ok {
		var zero T
		f.resolve(zero, common.NewOpError("submit", common.ErrQueueClosed, nil))
	}
	return f
}

// Stats reports how many tasks are running and how many are waiting.
func (q *Queue) Stats() (running, pending int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running, len(q.pending)
}

// MaxConcurrent is the worker count.
func (q *Queue) MaxConcurrent() int {
	return q.maxConcurrent
}

// Close stops accepting tasks, lets already queued tasks finish and waits
// for the workers to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	q.wg.Wait()
}
