// Package task implements the single-worker, two-priority task engine the
// rest of the core enqueues filesystem work onto.
package task

import (
	"context"
	"strings"
	"sync"

	l "github.com/sirupsen/logrus"
	"gitlab.com/mipimipi/cdscore/internal/cds"
)

var log *l.Entry = l.WithFields(l.Fields{"pkg": "task"})

// Kind enumerates the task types the engine dispatches.
type Kind int

const (
	KindAddFile Kind = iota
	KindRemoveObject
	KindRescanDirectory
	KindFetchOnline
)

// Task is the unit of work the engine runs. Cancellation is cooperative:
// implementations must poll Valid() at safe points (directory-entry
// boundaries in recursive walks, between subtree steps) and return promptly
// once it turns false.
type Task interface {
	Run(ctx context.Context) error
	Kind() Kind
	Path() string // empty when not path-addressed
	Cancellable() bool
}

// entry wraps a Task with the engine's own bookkeeping: monotonic id,
// parent id (for invalidate-by-parent), and the cooperative valid flag.
type entry struct {
	id       uint64
	parentID cds.ID
	t        Task

	mu     sync.Mutex
	valid  bool
	cancel context.CancelFunc
}

func (e *entry) Valid() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.valid
}

// invalidate marks the entry invalid and, if it is presently executing,
// cancels its per-task context so a Run implementation blocked on ctx.Done()
// (or polling ctx.Err() between directory-entry steps) unwinds promptly.
func (e *entry) invalidate() {
	e.mu.Lock()
	e.valid = false
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Snapshot is the UI-facing view of a queued or running task.
type Snapshot struct {
	ID       uint64
	ParentID cds.ID
	Kind     Kind
	Path     string
	Valid    bool
}

// Engine is a single-worker, two-priority FIFO task runner. q1 (default
// priority) is always drained before q2 (low priority).
type Engine struct {
	mu   sync.Mutex
	cond *sync.Cond

	q1, q2 []*entry
	nextID uint64

	current  *entry
	shutdown bool

	errs chan error
}

// New returns an Engine ready to have Run started on it.
func New() *Engine {
	e := &Engine{errs: make(chan error, 16)}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Errors surfaces unexpected (non-shutdown, non-invalidation) task errors to
// the caller's own control loop.
func (e *Engine) Errors() <-chan error { return e.errs }

// Enqueue stamps a monotonic id on t and appends it to q1 (or q2 if
// lowPriority), waking the worker.
func (e *Engine) Enqueue(t Task, parentID cds.ID, lowPriority bool) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	en := &entry{id: e.nextID, parentID: parentID, t: t, valid: true}
	if lowPriority {
		e.q2 = append(e.q2, en)
	} else {
		e.q1 = append(e.q1, en)
	}
	e.cond.Signal()
	return en.id
}

// CurrentTask returns a snapshot of the task presently executing, or false
// if the worker is idle.
func (e *Engine) CurrentTask() (Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return Snapshot{}, false
	}
	return snapshotOf(e.current), true
}

// TaskList returns a snapshot of every queued task (not including the
// currently running one), q1 then q2.
func (e *Engine) TaskList() []Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Snapshot, 0, len(e.q1)+len(e.q2))
	for _, en := range e.q1 {
		out = append(out, snapshotOf(en))
	}
	for _, en := range e.q2 {
		out = append(out, snapshotOf(en))
	}
	return out
}

func snapshotOf(en *entry) Snapshot {
	return Snapshot{ID: en.id, ParentID: en.parentID, Kind: en.t.Kind(), Path: en.t.Path(), Valid: en.Valid()}
}

// Invalidate sets valid=false on the current task if it matches taskID or
// its parentID, and on every queued task likewise. Cancellation is
// cooperative: tasks must observe Valid() at their own safe points.
func (e *Engine) Invalidate(taskID uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	matches := func(en *entry) bool { return en.id == taskID || cds.ID(taskID) == en.parentID }
	if e.current != nil && matches(e.current) {
		e.current.invalidate()
	}
	for _, en := range e.q1 {
		if matches(en) {
			en.invalidate()
		}
	}
	for _, en := range e.q2 {
		if matches(en) {
			en.invalidate()
		}
	}
}

// InvalidateAddTasksUnder marks every queued AddFile task whose path is a
// descendant of path. Called before a subtree removal so a concurrent
// recursive import does not add children of a doomed directory.
func (e *Engine) InvalidateAddTasksUnder(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	mark := func(en *entry) {
		if en.t.Kind() != KindAddFile {
			return
		}
		p := en.t.Path()
		if p == path || strings.HasPrefix(p, path+"/") {
			en.invalidate()
		}
	}
	if e.current != nil {
		mark(e.current)
	}
	for _, en := range e.q1 {
		mark(en)
	}
	for _, en := range e.q2 {
		mark(en)
	}
}

// Run drives the worker loop until ctx is cancelled or Shutdown is called.
// It must run in its own goroutine; wg.Done() fires on return.
func (e *Engine) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	go func() {
		<-ctx.Done()
		e.Shutdown()
	}()

	for {
		e.mu.Lock()
		for len(e.q1) == 0 && len(e.q2) == 0 && !e.shutdown {
			e.cond.Wait()
		}
		if e.shutdown && len(e.q1) == 0 && len(e.q2) == 0 {
			e.mu.Unlock()
			return
		}
		var en *entry
		if len(e.q1) > 0 {
			en, e.q1 = e.q1[0], e.q1[1:]
		} else {
			en, e.q2 = e.q2[0], e.q2[1:]
		}
		e.current = en
		e.mu.Unlock()

		taskCtx, cancel := context.WithCancel(ctx)
		en.mu.Lock()
		en.cancel = cancel
		en.mu.Unlock()

		e.runOne(taskCtx, en)
		cancel()

		e.mu.Lock()
		e.current = nil
		e.mu.Unlock()
	}
}

func (e *Engine) runOne(ctx context.Context, en *entry) {
	if !en.Valid() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("task %d panicked: %v", en.id, r)
		}
	}()

	err := en.t.Run(ctx)
	switch {
	case err == nil:
	case !en.Valid():
		// self-invalidated mid-run: complete silently
	case err == cds.ErrShutdownRequested:
		e.Shutdown()
	default:
		log.Errorf("task %d failed: %v", en.id, err)
		select {
		case e.errs <- err:
		default:
		}
	}
}

// Shutdown sets the shutdown flag, wakes the worker and lets it drain
// in-flight work observing the same flag at its cancellation checkpoints.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	e.shutdown = true
	e.cond.Broadcast()
	e.mu.Unlock()
}
