//go:build linux

package inotify

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rjeczalik/notify"
	l "github.com/sirupsen/logrus"

	"gitlab.com/mipimipi/cdscore/internal/autoscan"
)

var log *l.Entry = l.WithFields(l.Fields{"pkg": "inotify"})

// eventMask is the inotify event set every watch subscribes to.
const eventMask = notify.InCloseWrite | notify.InCreate | notify.InMovedFrom |
	notify.InMovedTo | notify.InDelete | notify.InDeleteSelf | notify.InMoveSelf

// Content is the orchestrator surface the watcher drives. The watcher never
// touches the database itself; every catalog mutation goes through these.
type Content interface {
	// EnqueueAddFile schedules an import of path on behalf of adir.
	EnqueueAddFile(adir *autoscan.Directory, path string, recursive, rescanResource bool)
	// RemoveByPath resolves path to an object and removes it; all selects
	// subtree removal.
	RemoveByPath(adir *autoscan.Directory, path string, all bool)
	// HandlePersistentAutoscanRemove is invoked when a persistent
	// autoscan's watched path disappeared and a non-existing monitor took
	// its place.
	HandlePersistentAutoscanRemove(adir *autoscan.Directory)
}

// Watcher runs the inotify event loop for every inotify-mode autoscan.
type Watcher struct {
	content Content

	mu       sync.Mutex
	wds      map[int]*wd
	byPath   map[string]int
	nextWd   int
	monitorQ []*autoscan.Directory
	removeQ  []*autoscan.Directory

	events chan notify.EventInfo
	ctl    chan struct{}
}

// New builds a Watcher; Run must be started on it before Monitor calls have
// any effect.
func New(content Content) *Watcher {
	return &Watcher{
		content: content,
		wds:     map[int]*wd{},
		byPath:  map[string]int{},
		events:  make(chan notify.EventInfo, 64),
		ctl:     make(chan struct{}, 1),
	}
}

// Monitor registers adir with the event loop. It only pushes onto a queue
// and wakes the loop; the actual watch installation happens on the loop
// goroutine so no lock is held while blocked on the kernel.
func (w *Watcher) Monitor(adir *autoscan.Directory) {
	w.mu.Lock()
	w.monitorQ = append(w.monitorQ, adir)
	w.mu.Unlock()
	w.wake()
}

// Unmonitor removes adir's watches on the loop's next pass.
func (w *Watcher) Unmonitor(adir *autoscan.Directory) {
	w.mu.Lock()
	w.removeQ = append(w.removeQ, adir)
	w.mu.Unlock()
	w.wake()
}

func (w *Watcher) wake() {
	select {
	case w.ctl <- struct{}{}:
	default:
	}
}

// Run drives the event loop until ctx is cancelled; wg.Done() fires on
// return.
func (w *Watcher) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer notify.Stop(w.events)

	log.Trace("running inotify watcher ...")

	for {
		w.drainQueues()

		select {
		case <-ctx.Done():
			log.Trace("inotify watcher stopped")
			return
		case <-w.ctl:
			// queues drained at the top of the loop
		case ev := <-w.events:
			w.handleEvent(ev)
		}
	}
}

func (w *Watcher) drainQueues() {
	w.mu.Lock()
	monitor := w.monitorQ
	remove := w.removeQ
	w.monitorQ, w.removeQ = nil, nil
	w.mu.Unlock()

	for _, adir := range monitor {
		if err := w.addAutoscanWatch(adir); err != nil {
			log.Error(errors.Wrapf(err, "cannot monitor '%s'", adir.Location))
		}
	}
	for _, adir := range remove {
		w.removeAutoscanWatch(adir)
	}
}

// addAutoscanWatch installs the watchpoint for adir's location plus move
// watches on every ancestor. A missing location on a persistent autoscan
// installs a non-existing monitor on the nearest existing ancestor instead.
func (w *Watcher) addAutoscanWatch(adir *autoscan.Directory) error {
	root := adir.Location
	target := root
	if adir.Recursive {
		target = filepath.Join(root, "...")
	}
	if err := notify.Watch(target, w.events, eventMask); err != nil {
		if !adir.Persistent {
			return errors.Wrapf(err, "cannot add watch for '%s'", root)
		}
		w.installNonExisting(adir)
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	startWd := w.registerLocked(root)
	w.wds[startWd].watches = append(w.wds[startWd].watches, &watch{
		kind:       watchAutoscan,
		adir:       adir,
		startPoint: true,
	})

	// move watches on every ancestor catch a rename-away of any parent
	for _, anc := range ancestors(root) {
		if err := notify.Watch(anc, w.events, notify.InMovedFrom|notify.InDelete); err != nil {
			continue
		}
		ancWd := w.registerLocked(anc)
		w.wds[ancWd].watches = append(w.wds[ancWd].watches, &watch{kind: watchMove, removeWd: startWd})
	}
	return nil
}

func (w *Watcher) registerLocked(path string) int {
	if id, ok := w.byPath[path]; ok {
		return id
	}
	w.nextWd++
	id := w.nextWd
	parent := 0
	if p := filepath.Dir(path); p != path {
		parent = w.byPath[p]
	}
	w.wds[id] = &wd{path: path, parentWd: parent}
	w.byPath[path] = id
	return id
}

func (w *Watcher) removeAutoscanWatch(adir *autoscan.Directory) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id, ok := w.byPath[adir.Location]
	if !ok {
		w.dropNonExistingLocked(adir)
		return
	}
	w.dropWdLocked(id)
}

// dropWdLocked removes a watched directory, its descendants' records and
// every ancestor move watch that referenced it.
func (w *Watcher) dropWdLocked(id int) {
	d, ok := w.wds[id]
	if !ok {
		return
	}
	for did, dd := range w.wds {
		if did != id && isPathUnder(dd.path, d.path) {
			delete(w.wds, did)
			delete(w.byPath, dd.path)
		}
		dd.removeMoveWatches(id)
	}
	delete(w.wds, id)
	delete(w.byPath, d.path)
}

// installNonExisting attaches a placeholder watch for adir to the nearest
// existing ancestor of its location. Create events on that ancestor trigger
// a promotion check.
func (w *Watcher) installNonExisting(adir *autoscan.Directory) {
	anchor, missing := nearestExisting(adir.Location, func(p string) bool {
		fi, err := os.Stat(p)
		return err == nil && fi.IsDir()
	})
	if err := notify.Watch(anchor, w.events, notify.InCreate|notify.InMovedTo); err != nil {
		log.Error(errors.Wrapf(err, "cannot watch ancestor '%s' for non-existing autoscan", anchor))
		return
	}

	w.mu.Lock()
	id := w.registerLocked(anchor)
	w.wds[id].watches = append(w.wds[id].watches, &watch{
		kind:            watchAutoscan,
		adir:            adir,
		nonexistingPath: missing,
	})
	w.mu.Unlock()

	log.Debugf("installed non-existing monitor for '%s' on '%s'", adir.Location, anchor)
}

func (w *Watcher) dropNonExistingLocked(adir *autoscan.Directory) {
	for _, d := range w.wds {
		kept := d.watches[:0]
		for _, wt := range d.watches {
			if wt.kind == watchAutoscan && wt.adir == adir && wt.nonexistingPath != nil {
				continue
			}
			kept = append(kept, wt)
		}
		d.watches = kept
	}
}

// handleEvent demultiplexes one inotify event per the processing rules:
// self-removal of a start point, new sub-directories, changed files, and
// promotion of non-existing monitors.
func (w *Watcher) handleEvent(ev notify.EventInfo) {
	path := ev.Path()
	event := ev.Event()

	log.Tracef("%s :: %s", event, path)

	adirWatch, startWd := w.responsibleAutoscan(path)

	switch {
	case event&(notify.InDeleteSelf|notify.InMoveSelf) != 0:
		if adirWatch != nil && adirWatch.adir.Location == path {
			w.handleStartPointGone(adirWatch.adir, startWd)
		}

	case event&(notify.InCreate|notify.InMovedTo) != 0:
		w.checkNonExistingPromotions()
		if adirWatch == nil {
			return
		}
		fi, err := os.Stat(path)
		if err != nil {
			return
		}
		if fi.IsDir() {
			hidden := strings.HasPrefix(filepath.Base(path), ".")
			if adirWatch.adir.Recursive && (!hidden || adirWatch.adir.Hidden) {
				w.content.EnqueueAddFile(adirWatch.adir, path, true, false)
			}
			return
		}
		w.content.EnqueueAddFile(adirWatch.adir, path, false, true)

	case event&notify.InCloseWrite != 0:
		if adirWatch == nil {
			return
		}
		w.content.EnqueueAddFile(adirWatch.adir, path, false, true)

	case event&(notify.InDelete|notify.InMovedFrom) != 0:
		if w.isWatchedStartPoint(path) {
			// rename/delete observed through an ancestor's move watch
			w.mu.Lock()
			id := w.byPath[path]
			var adir *autoscan.Directory
			if d := w.wds[id]; d != nil {
				if aw := d.autoscanWatch(); aw != nil {
					adir = aw.adir
				}
			}
			w.mu.Unlock()
			if adir != nil {
				w.handleStartPointGone(adir, id)
				return
			}
		}
		if adirWatch == nil {
			return
		}
		all := event&notify.InMovedTo == 0
		w.content.RemoveByPath(adirWatch.adir, path, all)
	}
}

// responsibleAutoscan selects the autoscan watch whose location is the
// longest prefix of path, plus its start-point wd.
func (w *Watcher) responsibleAutoscan(path string) (*watch, int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var best *watch
	bestWd := 0
	bestLen := -1
	for id, d := range w.wds {
		aw := d.autoscanWatch()
		if aw == nil || aw.nonexistingPath != nil {
			continue
		}
		loc := aw.adir.Location
		if isPathUnder(path, loc) && len(loc) > bestLen {
			best, bestWd, bestLen = aw, id, len(loc)
		}
	}
	return best, bestWd
}

func (w *Watcher) isWatchedStartPoint(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.byPath[path]
	if !ok {
		return false
	}
	d := w.wds[id]
	if d == nil {
		return false
	}
	aw := d.autoscanWatch()
	return aw != nil && aw.startPoint
}

// handleStartPointGone tears down the start point's watches. A persistent
// autoscan gets a non-existing monitor and the orchestrator is notified; a
// non-persistent one has its objects removed from the catalog.
func (w *Watcher) handleStartPointGone(adir *autoscan.Directory, startWd int) {
	w.mu.Lock()
	w.dropWdLocked(startWd)
	w.mu.Unlock()

	if adir.Persistent {
		w.installNonExisting(adir)
		w.content.HandlePersistentAutoscanRemove(adir)
		return
	}
	w.content.RemoveByPath(adir, adir.Location, true)
}

// checkNonExistingPromotions re-probes every non-existing monitor; any whose
// missing path now exists is promoted back into a real start-point watch and
// a full rescan of the reappeared tree is enqueued.
func (w *Watcher) checkNonExistingPromotions() {
	w.mu.Lock()
	var promote []*autoscan.Directory
	for _, d := range w.wds {
		kept := d.watches[:0]
		for _, wt := range d.watches {
			if wt.kind == watchAutoscan && wt.nonexistingPath != nil {
				if fi, err := os.Stat(wt.adir.Location); err == nil && fi.IsDir() {
					promote = append(promote, wt.adir)
					continue
				}
			}
			kept = append(kept, wt)
		}
		d.watches = kept
	}
	w.mu.Unlock()

	for _, adir := range promote {
		log.Debugf("promoting non-existing monitor for '%s'", adir.Location)
		if err := w.addAutoscanWatch(adir); err != nil {
			log.Error(err)
			continue
		}
		w.content.EnqueueAddFile(adir, adir.Location, true, true)
	}
}
