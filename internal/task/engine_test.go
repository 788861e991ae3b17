package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"gitlab.com/mipimipi/cdscore/internal/cds"
)

// fakeTask records how often it ran and closes done on its first run.
type fakeTask struct {
	kind Kind
	path string

	mu   sync.Mutex
	runs int
	done chan struct{}
}

func newFakeTask(kind Kind, path string) *fakeTask {
	return &fakeTask{kind: kind, path: path, done: make(chan struct{})}
}

func (f *fakeTask) Run(ctx context.Context) error {
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	close(f.done)
	return nil
}
func (f *fakeTask) Kind() Kind        { return f.kind }
func (f *fakeTask) Path() string      { return f.path }
func (f *fakeTask) Cancellable() bool { return true }

func (f *fakeTask) ran() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs > 0
}

func TestEnqueueOrderWithinPriority(t *testing.T) {
	e := New()
	id1 := e.Enqueue(newFakeTask(KindAddFile, "/a"), cds.InvalidID, false)
	id2 := e.Enqueue(newFakeTask(KindAddFile, "/b"), cds.InvalidID, false)
	if id2 <= id1 {
		t.Error("task ids must be monotonic")
	}
	list := e.TaskList()
	if len(list) != 2 || list[0].ID != id1 || list[1].ID != id2 {
		t.Errorf("queue order broken: %+v", list)
	}
}

func TestDefaultPriorityBeforeLow(t *testing.T) {
	e := New()
	e.Enqueue(newFakeTask(KindRescanDirectory, "/low"), cds.InvalidID, true)
	e.Enqueue(newFakeTask(KindAddFile, "/high"), cds.InvalidID, false)
	list := e.TaskList()
	if len(list) != 2 || list[0].Path != "/high" || list[1].Path != "/low" {
		t.Errorf("q1 must be listed (and drained) before q2: %+v", list)
	}
}

func TestInvalidateAddTasksUnder(t *testing.T) {
	e := New()
	c := newFakeTask(KindAddFile, "/a/b/c")
	d := newFakeTask(KindAddFile, "/a/b/d")
	other := newFakeTask(KindAddFile, "/a/bc")
	rm := newFakeTask(KindRemoveObject, "/a/b/c")
	e.Enqueue(c, cds.InvalidID, false)
	e.Enqueue(d, cds.InvalidID, false)
	e.Enqueue(other, cds.InvalidID, false)
	e.Enqueue(rm, cds.InvalidID, false)

	e.InvalidateAddTasksUnder("/a/b")

	list := e.TaskList()
	valid := map[string]bool{}
	for _, s := range list {
		valid[s.Path+kindSuffix(s.Kind)] = s.Valid
	}
	if valid["/a/b/c"] || valid["/a/b/d"] {
		t.Error("AddFile tasks under the removed path must be invalid")
	}
	if !valid["/a/bc"] {
		t.Error("sibling with shared name prefix must stay valid")
	}
	if !valid["/a/b/c:remove"] {
		t.Error("non-AddFile tasks must stay valid")
	}
}

func kindSuffix(k Kind) string {
	if k == KindRemoveObject {
		return ":remove"
	}
	return ""
}

// invalidated tasks must be skipped by the worker without running
func TestWorkerSkipsInvalidated(t *testing.T) {
	e := New()
	doomed := newFakeTask(KindAddFile, "/a/b/c")
	survivor := newFakeTask(KindAddFile, "/elsewhere")
	e.Enqueue(doomed, cds.InvalidID, false)
	e.Enqueue(survivor, cds.InvalidID, false)
	e.InvalidateAddTasksUnder("/a/b")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go e.Run(ctx, &wg)

	select {
	case <-survivor.done:
	case <-time.After(2 * time.Second):
		t.Fatal("survivor task never ran")
	}
	if doomed.ran() {
		t.Error("invalidated task must not run")
	}

	e.Shutdown()
	wg.Wait()
}

func TestShutdownDrainsAndReturns(t *testing.T) {
	e := New()
	done := newFakeTask(KindAddFile, "/x")
	e.Enqueue(done, cds.InvalidID, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go e.Run(ctx, &wg)

	<-done.done
	e.Shutdown()

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after shutdown")
	}
}
