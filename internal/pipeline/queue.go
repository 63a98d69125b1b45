package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned by Submit when the task buffer is full.
	ErrQueueFull = errors.New("work queue is full")
	// ErrQueueClosed is returned by Submit after Close.
	ErrQueueClosed = errors.New("work queue is closed")
)

// Task is a unit of background work.
type Task struct {
	// ID identifies the task in logs and failure callbacks.
	ID  string
	Run func(ctx context.Context) error
}

// PanicError is the error a task reports when its Run panicked.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Queue runs tasks on a fixed set of worker goroutines fed by a bounded buffer. A failing or
// panicking task never affects other tasks.
type Queue struct {
	tasks  chan Task
	wg     sync.WaitGroup
	logger *zap.Logger
	onDone func(Task, error)

	mu     sync.RWMutex
	closed bool
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueLogger sets the logger for the queue.
func WithQueueLogger(l *zap.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = l
	}
}

// OnTaskDone registers fn to run after every task with the task's error, if any.
func OnTaskDone(fn func(Task, error)) QueueOption {
	return func(q *Queue) {
		q.onDone = fn
	}
}

// NewQueue starts workers goroutines reading from a buffer of size tasks.
func NewQueue(workers, size int, opts ...QueueOption) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if size < 0 {
		size = 0
	}
	q := &Queue{tasks: make(chan Task, size), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = zap.NewNop()
	}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker()
	}
	return q
}

// Submit enqueues t without blocking.
func (q *Queue) Submit(t Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.tasks <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting tasks and waits for queued and running tasks to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for t := range q.tasks {
		err := q.run(t)
		if err != nil {
			q.logger.Warn("Task failed", zap.String("task", t.ID), zap.Error(err))
		}
		if q.onDone != nil {
			q.onDone(t, err)
		}
	}
}

// run executes t and converts a panic into a *PanicError. Background work is not cancelled
// once started, so tasks get a fresh context.
func (q *Queue) run(t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return t.Run(context.Background())
}
