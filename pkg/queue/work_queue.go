package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"promptapi/internal/util"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

var (
	ErrQueueClosed = errors.New("work queue closed")
	ErrQueueFull   = errors.New("work queue full")
)

// Task is one unit of work. The context is canceled when the queue closes.
type Task func(ctx context.Context) error

// Handle tracks a submitted task until it finishes.
type Handle struct {
	id   string
	done chan struct{}

	mu     sync.Mutex
	status string
	err    error
}

func newHandle(id string) *Handle {
	return &Handle{id: id, done: make(chan struct{}), status: StatusQueued}
}

// ID returns the task id given at submission.
func (h *Handle) ID() string { return h.id }

// Done is closed once the task has finished, failed or been canceled.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Status returns the current task status.
func (h *Handle) Status() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Err returns the task error after Done is closed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until the task finishes or ctx ends, returning the task error
// or the context error.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) setStatus(status string) {
	h.mu.Lock()
	h.status = status
	h.mu.Unlock()
}

func (h *Handle) finish(status string, err error) {
	h.mu.Lock()
	h.status = status
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

type job struct {
	handle    *Handle
	task      Task
	notBefore time.Time
}

// Config sizes the worker pool.
type Config struct {
	Workers int
	Size    int
	// Delay holds each task back for this long after submission.
	Delay time.Duration
}

// WorkQueue runs submitted tasks on a fixed pool of goroutines.
type WorkQueue struct {
	jobs   chan job
	delay  time.Duration
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New starts the workers. Call Close to stop them.
func New(cfg Config) *WorkQueue {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	size := cfg.Size
	if size <= 0 {
		size = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &WorkQueue{
		jobs:   make(chan job, size),
		delay:  cfg.Delay,
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.consumeLoop()
	}
	return q
}

// Submit enqueues task without blocking. An empty id gets a generated one.
func (q *WorkQueue) Submit(id string, task Task) (*Handle, error) {
	if task == nil {
		return nil, errors.New("task required")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = util.NewID()
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	h := newHandle(id)
	select {
	case q.jobs <- job{handle: h, task: task, notBefore: time.Now().Add(q.delay)}:
		return h, nil
	default:
		return nil, ErrQueueFull
	}
}

// Close cancels running and pending tasks and waits for the workers to exit.
func (q *WorkQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cancel()
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *WorkQueue) consumeLoop() {
	defer q.wg.Done()
	for j := range q.jobs {
		q.handleJob(j)
	}
}

func (q *WorkQueue) handleJob(j job) {
	if err := q.ctx.Err(); err != nil {
		j.handle.finish(StatusCanceled, err)
		return
	}
	if wait := time.Until(j.notBefore); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-q.ctx.Done():
			timer.Stop()
			j.handle.finish(StatusCanceled, q.ctx.Err())
			return
		case <-timer.C:
		}
	}
	j.handle.setStatus(StatusProcessing)
	if err := j.task(q.ctx); err != nil {
		if errors.Is(err, context.Canceled) && q.ctx.Err() != nil {
			j.handle.finish(StatusCanceled, err)
			return
		}
		j.handle.finish(StatusFailed, err)
		return
	}
	j.handle.finish(StatusDone, nil)
}
