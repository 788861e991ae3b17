//go:build !linux

package inotify

import (
	"context"
	"sync"

	"gitlab.com/mipimipi/cdscore/internal/autoscan"
)

// Content is the orchestrator surface the watcher drives on platforms that
// support inotify. See watcher.go for the Linux implementation.
type Content interface {
	EnqueueAddFile(adir *autoscan.Directory, path string, recursive, rescanResource bool)
	RemoveByPath(adir *autoscan.Directory, path string, all bool)
	HandlePersistentAutoscanRemove(adir *autoscan.Directory)
}

// Watcher is inert on non-Linux platforms; only timed autoscans are
// available there.
type Watcher struct{}

func New(content Content) *Watcher { return &Watcher{} }

func (w *Watcher) Monitor(adir *autoscan.Directory)   {}
func (w *Watcher) Unmonitor(adir *autoscan.Directory) {}

func (w *Watcher) Run(ctx context.Context, wg *sync.WaitGroup) { wg.Done() }
