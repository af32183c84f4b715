// Package queue runs exchange calls one at a time with a fixed pause between
// them.
package queue

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultSpacing is the minimum pause between the end of one task and the
// start of the next.
const DefaultSpacing = time.Second

// Task is one unit of exchange work. It runs on the worker goroutine.
type Task func()

type Options struct {
	Name    string
	Spacing time.Duration
}

type Queue struct {
	name    string
	spacing time.Duration

	mu     sync.Mutex
	tasks  []Task
	closed bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	executed  uint64
	lastStart int64
}

func New(opts Options) *Queue {
	spacing := opts.Spacing
	if spacing <= 0 {
		spacing = DefaultSpacing
	}
	name := opts.Name
	if name == "" {
		name = "exchange"
	}
	q := &Queue{
		name:    name,
		spacing: spacing,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go q.loop()
	return q
}

// Enqueue appends t and never blocks. It returns false once Close was called.
func (q *Queue) Enqueue(t Task) bool {
	if q == nil || t == nil {
		return false
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Len reports tasks waiting to start.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *Queue) Spacing() time.Duration { return q.spacing }

func (q *Queue) Executed() uint64 { return atomic.LoadUint64(&q.executed) }

func (q *Queue) LastStart() time.Time {
	ns := atomic.LoadInt64(&q.lastStart)
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Close stops accepting tasks and waits until the worker has run everything
// already queued, or ctx is done.
func (q *Queue) Close(ctx context.Context) error {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.stop)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) loop() {
	defer close(q.done)
	var lastEnd time.Time
	for {
		task, ok := q.pop()
		if !ok {
			select {
			case <-q.wake:
				continue
			case <-q.stop:
				if q.Len() == 0 {
					return
				}
				continue
			}
		}
		if !lastEnd.IsZero() {
			if wait := q.spacing - time.Since(lastEnd); wait > 0 {
				timer := time.NewTimer(wait)
				<-timer.C
			}
		}
		q.run(task)
		lastEnd = time.Now()
	}
}

func (q *Queue) pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, false
	}
	t := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return t, true
}

func (q *Queue) run(t Task) {
	atomic.StoreInt64(&q.lastStart, time.Now().UnixNano())
	defer atomic.AddUint64(&q.executed, 1)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("level=ERROR event=queue_task_panic queue=%q panic=%q", q.name, formatPanic(r))
		}
	}()
	t()
}

func formatPanic(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	if s, ok := r.(string); ok {
		return s
	}
	return "non-string panic"
}
