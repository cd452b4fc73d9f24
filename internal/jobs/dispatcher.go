// Package jobs runs long transcodes in the background. Each job gets its own
// goroutine and an explicit Handle the caller can wait on; observers are told
// when a job starts and when it ends.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/freevideocut/cutagent/internal/logging"
)

// Kinds of background work.
const (
	KindThumbnails = "generate_thumbnails"
	KindSynthesis  = "synthesize"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var ErrClosed = errors.New("dispatcher closed")

// Func is the body of a job. The context it receives is never cancelled:
// once started, a job runs to completion.
type Func func(ctx context.Context) error

// Event reports a job state change to observers.
type Event struct {
	Job    *Handle
	Status Status
	Err    error
}

// Handle tracks one dispatched job.
type Handle struct {
	ID        string
	Kind      string
	Workspace string
	Target    string
	CreatedAt time.Time

	done chan struct{}
	err  error
}

// Done is closed when the job has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the job's error. It is only meaningful after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the job finishes or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatcher owns every in-flight job.
type Dispatcher struct {
	logger *slog.Logger
	base   context.Context

	mu        sync.Mutex
	wg        sync.WaitGroup
	closed    bool
	active    map[string]*Handle
	observers []func(Event)
}

func New(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logging.WithComponent(logger, "jobs"),
		base:   context.Background(),
		active: make(map[string]*Handle),
	}
}

// Observe registers fn to be called on every job event. Observers run on
// the job goroutine, before the handle's Done channel closes.
func (d *Dispatcher) Observe(fn func(Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, fn)
}

// Go starts fn in the background and returns its handle immediately. After
// Close, Go returns an already-finished handle failed with ErrClosed.
func (d *Dispatcher) Go(kind, workspace, target string, fn Func) *Handle {
	h := &Handle{
		ID:        uuid.New().String(),
		Kind:      kind,
		Workspace: workspace,
		Target:    target,
		CreatedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		h.err = ErrClosed
		close(h.done)
		return h
	}
	d.active[h.ID] = h
	d.wg.Add(1)
	d.mu.Unlock()

	go d.run(h, fn)
	return h
}

func (d *Dispatcher) run(h *Handle, fn Func) {
	defer d.wg.Done()

	logger := logging.WithJobID(d.logger, h.ID).With("kind", h.Kind, "workspace", h.Workspace)
	logger.Info("job started", "target", h.Target)
	d.emit(Event{Job: h, Status: StatusRunning})

	start := time.Now()
	err := d.call(h.Kind, fn)
	elapsed := time.Since(start)

	d.mu.Lock()
	delete(d.active, h.ID)
	d.mu.Unlock()

	// observers see the final state before any waiter wakes
	h.err = err
	defer close(h.done)

	if err != nil {
		logger.Warn("job failed", "error", err, "duration_ms", elapsed.Milliseconds())
		d.emit(Event{Job: h, Status: StatusFailed, Err: err})
		return
	}
	logger.Info("job completed", "duration_ms", elapsed.Milliseconds())
	d.emit(Event{Job: h, Status: StatusCompleted})
}

// call runs fn, turning a panic into an error so one bad job cannot take
// the agent down.
func (d *Dispatcher) call(kind string, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("job panic", "kind", kind, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(d.base)
}

func (d *Dispatcher) emit(ev Event) {
	d.mu.Lock()
	observers := append([]func(Event){}, d.observers...)
	d.mu.Unlock()
	for _, fn := range observers {
		fn(ev)
	}
}

// Active returns the in-flight jobs, oldest first.
func (d *Dispatcher) Active() []*Handle {
	d.mu.Lock()
	out := make([]*Handle, 0, len(d.active))
	for _, h := range d.active {
		out = append(out, h)
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Get returns the in-flight job with id, if any.
func (d *Dispatcher) Get(id string) (*Handle, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.active[id]
	return h, ok
}

// Close stops accepting new jobs. In-flight jobs keep running.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// Wait blocks until every in-flight job has finished or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
