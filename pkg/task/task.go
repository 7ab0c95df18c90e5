// Package task runs units of work on a bounded pool and tracks their
// progress.
//
// A [Task] never stores its status; [Task.Status] derives it from the
// task's channels each time it is called, so a poll always sees the
// current state. Statuses only move forward:
//
//	waiting -> running -> done
//	waiting -> cancelled
//
// A task whose context is cancelled before it starts becomes cancelled.
// A task already running when the context is cancelled finishes normally
// and reports whatever its function returned. Use [Wait] to poll a batch
// and [Collect] to gather results in submission order.
package task

import (
	"context"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/matzehuels/cudaredist/pkg/errors"
	"github.com/matzehuels/cudaredist/pkg/observability"
)

// Status is the derived state of a task.
type Status int

const (
	Waiting Status = iota
	Running
	Done
	Cancelled
)

var statusNames = [...]string{"waiting", "running", "done", "cancelled"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// Icon returns a one-glyph symbol for progress displays.
func (s Status) Icon() string {
	switch s {
	case Waiting:
		return "💤"
	case Running:
		return "🕔"
	case Done:
		return "✅"
	case Cancelled:
		return "❌"
	}
	return "?"
}

// IsComplete reports whether s is terminal.
func (s Status) IsComplete() bool { return s == Done || s == Cancelled }

// Task is a unit of work submitted to a Pool.
type Task[A, T any] struct {
	ID    string
	Label string
	Input A

	started chan struct{}
	done    chan struct{}

	// Written before done is closed.
	cancelled bool
	value     T
	err       error
}

// Status derives the current status.
func (t *Task[A, T]) Status() Status {
	select {
	case <-t.done:
		if t.cancelled {
			return Cancelled
		}
		return Done
	default:
	}
	select {
	case <-t.started:
		return Running
	default:
		return Waiting
	}
}

// Done is closed when the task reaches a terminal status.
func (t *Task[A, T]) Done() <-chan struct{} { return t.done }

// Result blocks until the task completes and returns its outcome. A
// cancelled task returns the context's error.
func (t *Task[A, T]) Result() (T, error) {
	<-t.done
	return t.value, t.err
}

// Pool bounds how many tasks run at once.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// NewPool returns a pool running up to workers tasks concurrently.
// workers <= 0 means runtime.NumCPU().
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers)), size: workers}
}

// Size returns the concurrency limit.
func (p *Pool) Size() int { return p.size }

// Func is the work performed by a task.
type Func[A, T any] func(ctx context.Context, input A) (T, error)

// Submit schedules fn(ctx, input) on p and returns immediately.
func Submit[A, T any](ctx context.Context, p *Pool, label string, input A, fn Func[A, T]) *Task[A, T] {
	t := &Task[A, T]{
		ID:      uuid.NewString(),
		Label:   label,
		Input:   input,
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
	hooks := observability.Task()
	hooks.OnTaskStatus(ctx, t.ID, Waiting.String())

	go func() {
		defer close(t.done)
		if err := p.sem.Acquire(ctx, 1); err != nil {
			t.cancel(ctx, err)
			return
		}
		defer p.sem.Release(1)
		if err := ctx.Err(); err != nil {
			t.cancel(ctx, err)
			return
		}

		close(t.started)
		hooks.OnTaskStatus(ctx, t.ID, Running.String())
		t.value, t.err = run(ctx, fn, input)
		hooks.OnTaskStatus(ctx, t.ID, Done.String())
	}()
	return t
}

func (t *Task[A, T]) cancel(ctx context.Context, cause error) {
	t.cancelled = true
	t.err = errors.Wrap(errors.ErrCodeInternal, cause, "%s: cancelled before start", t.Label)
	observability.Task().OnTaskStatus(ctx, t.ID, Cancelled.String())
}

// run converts a panic in fn into an error so one bad unit cannot take
// down the pool.
func run[A, T any](ctx context.Context, fn Func[A, T], input A) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.ErrCodeInternal, "task panicked: %v", r)
		}
	}()
	return fn(ctx, input)
}

// Info describes one task for a View.
type Info struct {
	ID     string
	Label  string
	Status Status
}

// Progress is a point-in-time summary of a batch. Running lists running
// tasks first, then waiting ones; completed tasks are only counted.
type Progress struct {
	Total     int
	Done      int
	Cancelled int
	Running   int
	Pending   []Info
	Elapsed   time.Duration
}

// Complete reports whether every task is terminal.
func (p Progress) Complete() bool { return p.Done+p.Cancelled == p.Total }

// View receives progress updates from Wait.
type View interface {
	Update(Progress)
}

// ViewFunc adapts a function to View.
type ViewFunc func(Progress)

// Update implements View.
func (f ViewFunc) Update(p Progress) { f(p) }

// NopView discards updates.
type NopView struct{}

// Update implements View.
func (NopView) Update(Progress) {}

// DefaultInterval is the poll interval used when Wait is given zero.
const DefaultInterval = 100 * time.Millisecond

// Snapshot derives the progress of tasks.
func Snapshot[A, T any](tasks []*Task[A, T]) Progress {
	p := Progress{Total: len(tasks)}
	var waiting []Info
	for _, t := range tasks {
		s := t.Status()
		info := Info{ID: t.ID, Label: t.Label, Status: s}
		switch s {
		case Done:
			p.Done++
		case Cancelled:
			p.Cancelled++
		case Running:
			p.Running++
			p.Pending = append(p.Pending, info)
		case Waiting:
			waiting = append(waiting, info)
		}
	}
	p.Pending = append(p.Pending, waiting...)
	return p
}

// Wait polls tasks every interval, passing progress to view, until every
// task is complete. The final, complete progress is always delivered.
// Wait does not return early on cancellation: cancelling the context the
// tasks were submitted with drains waiting tasks, and Wait returns once
// running ones finish.
func Wait[A, T any](tasks []*Task[A, T], view View, interval time.Duration) {
	if view == nil {
		view = NopView{}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		p := Snapshot(tasks)
		p.Elapsed = time.Since(start)
		view.Update(p)
		if p.Complete() {
			return
		}
		<-ticker.C
	}
}

// CollectPolicy decides how Collect treats failed tasks.
type CollectPolicy int

const (
	// FailFast returns the first failure in submission order.
	FailFast CollectPolicy = iota
	// CollectAll returns every successful value and all failures joined.
	CollectAll
)

// ParseCollectPolicy parses "fail-fast" or "collect-all".
func ParseCollectPolicy(s string) (CollectPolicy, error) {
	switch s {
	case "fail-fast", "":
		return FailFast, nil
	case "collect-all":
		return CollectAll, nil
	}
	return 0, errors.New(errors.ErrCodeInvalidInput, "unknown collect policy %q (want fail-fast or collect-all)", s)
}

func (p CollectPolicy) String() string {
	if p == CollectAll {
		return "collect-all"
	}
	return "fail-fast"
}

// Collect blocks until every task completes and returns their values in
// submission order. Under CollectAll, values of failed tasks are omitted.
func Collect[A, T any](tasks []*Task[A, T], policy CollectPolicy) ([]T, error) {
	values := make([]T, 0, len(tasks))
	var errs []error
	for _, t := range tasks {
		v, err := t.Result()
		if err != nil {
			if policy == FailFast {
				return nil, err
			}
			errs = append(errs, err)
			continue
		}
		values = append(values, v)
	}
	return values, errors.Join(errs...)
}

// Batch configures Run.
type Batch struct {
	Pool     *Pool
	View     View
	Interval time.Duration
	Policy   CollectPolicy
}

// Run submits fn once per input, waits for all tasks and collects their
// values.
func Run[A, T any](ctx context.Context, b Batch, inputs []A, label func(A) string, fn Func[A, T]) ([]T, error) {
	pool := b.Pool
	if pool == nil {
		pool = NewPool(0)
	}
	tasks := make([]*Task[A, T], 0, len(inputs))
	for _, in := range inputs {
		tasks = append(tasks, Submit(ctx, pool, label(in), in, fn))
	}
	Wait(tasks, b.View, b.Interval)
	return Collect(tasks, b.Policy)
}
