package orchestrator

import (
	"context"

	"gitlab.com/mipimipi/cdscore/internal/autoscan"
	"gitlab.com/mipimipi/cdscore/internal/cds"
	"gitlab.com/mipimipi/cdscore/internal/task"
)

// ctxValid adapts a context.Context into importsvc.Task: the import pipeline
// polls Valid() between directory entries instead of taking a ctx parameter
// directly, so a single adapter bridges task.Engine's cancellation to it.
type ctxValid struct{ ctx context.Context }

func (c ctxValid) Valid() bool { return c.ctx.Err() == nil }

// addFileTask runs Orchestrator.runAddFile under the task engine.
type addFileTask struct {
	o        *Orchestrator
	location string
	opts     AddFileOptions
}

func newAddFileTask(o *Orchestrator, location string, opts AddFileOptions) *addFileTask {
	return &addFileTask{o: o, location: location, opts: opts}
}

func (t *addFileTask) Run(ctx context.Context) error {
	_, err := t.o.runAddFile(t.location, t.opts, ctxValid{ctx})
	return err
}
func (t *addFileTask) Kind() task.Kind   { return task.KindAddFile }
func (t *addFileTask) Path() string      { return t.location }
func (t *addFileTask) Cancellable() bool { return true }

// removeObjectTask runs Orchestrator.runRemoveObject under the task engine.
type removeObjectTask struct {
	o    *Orchestrator
	id   cds.ID
	path string
	opts RemoveOptions
}

func newRemoveObjectTask(o *Orchestrator, id cds.ID, path string, opts RemoveOptions) *removeObjectTask {
	return &removeObjectTask{o: o, id: id, path: path, opts: opts}
}

func (t *removeObjectTask) Run(ctx context.Context) error {
	_, err := t.o.runRemoveObject(t.id, t.path, t.opts)
	return err
}
func (t *removeObjectTask) Kind() task.Kind   { return task.KindRemoveObject }
func (t *removeObjectTask) Path() string      { return t.path }
func (t *removeObjectTask) Cancellable() bool { return false }

// rescanTask runs Orchestrator.runRescan under the task engine, tracking
// the owning autoscan.Directory's task count for the duration of the scan.
type rescanTask struct {
	o           *Orchestrator
	adir        *autoscan.Directory
	objectID    cds.ID
	descPath    string
	cancellable bool
}

func newRescanTask(o *Orchestrator, adir *autoscan.Directory, objectID cds.ID, descPath string, cancellable bool) *rescanTask {
	return &rescanTask{o: o, adir: adir, objectID: objectID, descPath: descPath, cancellable: cancellable}
}

func (t *rescanTask) Run(ctx context.Context) error {
	return t.o.runRescan(t.adir, t.objectID, t.descPath, ctxValid{ctx})
}
func (t *rescanTask) Kind() task.Kind   { return task.KindRescanDirectory }
func (t *rescanTask) Path() string      { return t.descPath }
func (t *rescanTask) Cancellable() bool { return t.cancellable }
