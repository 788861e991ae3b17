// Package orchestrator implements the content management facade the rest
// of the system depends on: addFile, removeObject, rescanDirectory,
// setAutoscanDirectory and the timer callback. It wires together the
// autoscan registry, task engine, import service, update aggregator and
// the database.
package orchestrator

import (
	"os"
	"time"

	l "github.com/sirupsen/logrus"

	"gitlab.com/mipimipi/cdscore/internal/autoscan"
	"gitlab.com/mipimipi/cdscore/internal/cds"
	"gitlab.com/mipimipi/cdscore/internal/database"
	"gitlab.com/mipimipi/cdscore/internal/importsvc"
	"gitlab.com/mipimipi/cdscore/internal/layout"
	"gitlab.com/mipimipi/cdscore/internal/task"
	"gitlab.com/mipimipi/cdscore/internal/timer"
	"gitlab.com/mipimipi/cdscore/internal/update"
)

var log *l.Entry = l.WithFields(l.Fields{"pkg": "orchestrator"})

// SessionNotifier is the UI-facing collaborator notified with finer
// granularity than UPnP subscribers need.
type SessionNotifier interface {
	ContainerChangedUI(ids []cds.ID)
}

// Monitor is the inotify watcher surface the orchestrator arms and disarms
// as autoscans change mode; nil on platforms without inotify.
type Monitor interface {
	Monitor(adir *autoscan.Directory)
	Unmonitor(adir *autoscan.Directory)
}

// Clock is the subscription timer driving timed autoscans.
type Clock interface {
	AddTimerSubscriber(sub timer.Subscriber, interval time.Duration, param timer.Parameter, once bool)
	RemoveTimerSubscriber(sub timer.Subscriber, param timer.Parameter, silent bool)
}

// Orchestrator is the content management facade: addFile, removeObject,
// rescans, autoscan administration and the timer callback.
type Orchestrator struct {
	db       database.Database
	tasks    *task.Engine
	imports  *importsvc.Service
	registry *autoscan.Registry
	updates  *update.Aggregator
	session  SessionNotifier
	layout   layout.Layout
	monitor  Monitor
	clock    Clock

	rootPath string
}

// New builds an Orchestrator. rootPath is the filesystem root containers'
// "Directories" placements are made relative to. monitor and clock may be
// nil; the corresponding autoscan modes are then unavailable.
func New(db database.Database, tasks *task.Engine, imports *importsvc.Service, registry *autoscan.Registry, updates *update.Aggregator, session SessionNotifier, lay layout.Layout, rootPath string) *Orchestrator {
	return &Orchestrator{db: db, tasks: tasks, imports: imports, registry: registry, updates: updates, session: session, layout: lay, rootPath: rootPath}
}

// SetMonitor wires the inotify watcher; called once during server assembly.
func (o *Orchestrator) SetMonitor(m Monitor) { o.monitor = m }

// SetClock wires the subscription timer; called once during server assembly.
func (o *Orchestrator) SetClock(c Clock) { o.clock = c }

// AddFileOptions configures one addFile call.
type AddFileOptions struct {
	Recursive      bool
	FollowSymlinks bool
	Hidden         bool
	NoMediaFile    string
	ForceRescan    bool

	Async       bool
	LowPriority bool
	Cancellable bool
}

// AddFile imports a file or directory. The synchronous path returns the
// created/updated object's id, or InvalidID on the asynchronous path (the
// caller learns the id later via the task's side effects).
func (o *Orchestrator) AddFile(location string, opts AddFileOptions) (cds.ID, error) {
	if opts.Async {
		o.tasks.Enqueue(newAddFileTask(o, location, opts), cds.InvalidID, opts.LowPriority)
		return cds.InvalidID, nil
	}
	return o.runAddFile(location, opts, alwaysValid{})
}

func (o *Orchestrator) runAddFile(location string, opts AddFileOptions, t importsvc.Task) (cds.ID, error) {
	settings := importsvc.Settings{
		Recursive:      opts.Recursive,
		FollowSymlinks: opts.FollowSymlinks,
		Hidden:         opts.Hidden,
		NoMediaFile:    opts.NoMediaFile,
		ForceRescan:    opts.ForceRescan,
	}

	parentID, affected, err := o.db.EnsurePathExistence(parentDirOf(location))
	if err != nil {
		return cds.InvalidID, err
	}
	if affected != cds.InvalidID {
		o.updates.ContainerChanged(affected, update.PolicySpec)
	}

	toDelete, err := o.imports.DoImport(location, settings, nil, t, o.rootPath, parentID, o.layout)
	if err != nil {
		return cds.InvalidID, err
	}
	if len(toDelete) > 0 {
		changed, err := o.db.RemoveObjects(toDelete)
		if err != nil {
			return cds.InvalidID, err
		}
		o.notifyChanged(changed)
	}

	obj, err := o.db.FindObjectByPath(location, "", database.FileTypeAny)
	if err != nil {
		return cds.InvalidID, nil
	}
	return obj.ID, nil
}

// UpdateObject routes an object mutation through the database and reports
// the affected parent container to the update aggregator. All catalog
// mutations outside the import pipeline go through here.
func (o *Orchestrator) UpdateObject(obj *cds.Object) error {
	affected, err := o.db.UpdateObject(obj)
	if err != nil {
		return err
	}
	if affected != cds.InvalidID {
		o.updates.ContainerChanged(affected, update.PolicySpec)
	}
	return nil
}

// RemoveOptions configures one removeObject call.
type RemoveOptions struct {
	RescanResource bool
	Async          bool
	All            bool
}

// RemoveObject deletes an object: it invalidates in-flight AddFile tasks
// under path before the database mutation proceeds (so a
// concurrent recursive import can't race a delete of its own subtree), tears
// down child autoscans, then delegates to Database.removeObject and fans the
// result out to the UI (fine granularity) and UPnP (coarse) paths
// separately.
func (o *Orchestrator) RemoveObject(adir *autoscan.Directory, id cds.ID, path string, opts RemoveOptions) ([]cds.ID, error) {
	if opts.Async {
		o.tasks.Enqueue(newRemoveObjectTask(o, id, path, opts), cds.InvalidID, false)
		return nil, nil
	}
	return o.runRemoveObject(id, path, opts)
}

func (o *Orchestrator) runRemoveObject(id cds.ID, path string, opts RemoveOptions) ([]cds.ID, error) {
	if path != "" {
		o.tasks.InvalidateAddTasksUnder(path)
		for _, removed := range o.registry.RemoveIfSubdir(path, false) {
			log.Debugf("removing child autoscan at %s", removed.Location)
		}
	}

	changed, err := o.db.RemoveObject(id, path, opts.All)
	if err != nil {
		return nil, err
	}
	o.notifyChanged(changed)
	return changed.UPnP, nil
}

func (o *Orchestrator) notifyChanged(changed database.ChangedContainers) {
	if o.session != nil && len(changed.UI) > 0 {
		o.session.ContainerChangedUI(changed.UI)
	}
	if len(changed.UPnP) > 0 {
		o.updates.ContainersChanged(changed.UPnP, update.PolicySpec)
	}
}

// RescanDirectory increments the autoscan's task count and enqueues a
// low-priority rescan task.
func (o *Orchestrator) RescanDirectory(adir *autoscan.Directory, objectID cds.ID, descPath string, cancellable bool) {
	adir.IncTaskCount()
	o.tasks.Enqueue(newRescanTask(o, adir, objectID, descPath, cancellable), objectID, true)
}

func (o *Orchestrator) runRescan(adir *autoscan.Directory, objectID cds.ID, descPath string, t importsvc.Task) error {
	defer adir.DecTaskCount()

	loc := descPath
	if loc == "" {
		loc = adir.Location
	}
	adir.SetCurrentLMT(loc, 0)
	defer func() {
		if adir.UpdateLMT() {
			log.Debugf("autoscan %d: committed new LMT", adir.ScanID)
		}
	}()

	settings := importsvc.Settings{
		Recursive:      adir.Recursive,
		FollowSymlinks: adir.FollowSymlinks,
		Hidden:         adir.Hidden,
	}
	existingChildren, err := o.db.GetObjects(objectID, false, false)
	if err != nil {
		return err
	}
	current := map[cds.ID]bool{}
	for _, c := range existingChildren {
		current[c.ID] = true
	}

	toDelete, err := o.imports.DoImport(loc, settings, current, t, o.rootPath, objectID, o.layout)
	if err != nil {
		return err
	}
	if len(toDelete) > 0 {
		changed, err := o.db.RemoveObjects(toDelete)
		if err != nil {
			return err
		}
		o.notifyChanged(changed)
	}

	if fi, statErr := stat(loc); statErr == nil {
		adir.SetCurrentLMT(loc, fi.mtime)
	}
	return nil
}

// SetAutoscanDirectory installs a new autoscan or updates an existing one:
// the new entry is persisted, registered and scanned immediately; an update
// copies the new fields onto the stored entry, cancels the old watch (timer
// or inotify) and re-arms according to the new mode.
func (o *Orchestrator) SetAutoscanDirectory(dir *autoscan.Directory) error {
	existing, ok := o.registry.Get(dir.ScanID)
	if !ok {
		if dir.Location == "" {
			// the FS_ROOT special case: default to the configured root path
			dir.Location = o.rootPath
		}
		if err := o.registry.CheckOverlapping(dir.Location); err != nil {
			return err
		}
		if err := o.db.CheckOverlappingAutoscans(autoscanRecord(dir)); err != nil {
			return err
		}
		if err := o.registry.Add(dir, autoscan.SentinelIndex); err != nil {
			return err
		}
		dbID, err := o.db.AddAutoscanDirectory(autoscanRecord(dir))
		if err != nil {
			o.registry.Remove(dir.ScanID)
			return err
		}
		dir.DatabaseID = dbID
		o.armAutoscan(dir)
		if objectID, err := o.resolveScanTarget(dir); err == nil {
			o.RescanDirectory(dir, objectID, "", true)
		}
		return nil
	}

	o.disarmAutoscan(existing)
	existing.Recursive = dir.Recursive
	existing.Hidden = dir.Hidden
	existing.FollowSymlinks = dir.FollowSymlinks
	existing.IntervalSeconds = dir.IntervalSeconds
	existing.Mode = dir.Mode
	existing.MediaTypeMask = dir.MediaTypeMask
	existing.ScanContent = dir.ScanContent
	if err := o.db.UpdateAutoscanDirectory(autoscanRecord(existing)); err != nil {
		return err
	}
	o.armAutoscan(existing)
	return nil
}

// RemoveAutoscanDirectory disarms and unregisters the autoscan with the
// given scan id, dropping its persisted record.
func (o *Orchestrator) RemoveAutoscanDirectory(scanID int) error {
	adir, ok := o.registry.Get(scanID)
	if !ok {
		return cds.NewNotFoundError("autoscan", "by scan id")
	}
	o.disarmAutoscan(adir)
	o.registry.Remove(scanID)
	return o.db.RemoveAutoscanDirectory(adir.DatabaseID)
}

// LoadAutoscans restores persisted autoscans from the database and re-arms
// them; called once at startup.
func (o *Orchestrator) LoadAutoscans() error {
	for _, mode := range []database.AutoscanMode{database.AutoscanModeTimed, database.AutoscanModeINotify} {
		recs, err := o.db.GetAutoscanList(mode)
		if err != nil {
			return err
		}
		for i, rec := range recs {
			adir := directoryFromRecord(rec)
			if err := o.registry.Add(adir, i); err != nil {
				log.Error(err)
				continue
			}
			o.armAutoscan(adir)
		}
	}
	return nil
}

func (o *Orchestrator) armAutoscan(adir *autoscan.Directory) {
	switch adir.Mode {
	case autoscan.ModeTimed:
		if o.clock != nil {
			interval := time.Duration(adir.IntervalSeconds) * time.Second
			o.clock.AddTimerSubscriber(o, interval, timer.Parameter{Kind: timer.IDAutoscan, ID: adir.ScanID}, false)
		}
	case autoscan.ModeINotify:
		if o.monitor != nil {
			o.monitor.Monitor(adir)
		}
	}
}

func (o *Orchestrator) disarmAutoscan(adir *autoscan.Directory) {
	switch adir.Mode {
	case autoscan.ModeTimed:
		if o.clock != nil {
			o.clock.RemoveTimerSubscriber(o, timer.Parameter{Kind: timer.IDAutoscan, ID: adir.ScanID}, true)
		}
	case autoscan.ModeINotify:
		if o.monitor != nil {
			o.monitor.Unmonitor(adir)
		}
	}
}

// TimerNotify implements the timer callback: for autoscan parameters it
// rescans only if no scan or task is already in flight for that autoscan,
// preventing overlapping rescans.
func (o *Orchestrator) TimerNotify(p timer.Parameter) {
	if p.Kind != timer.IDAutoscan {
		return
	}
	adir, ok := o.registry.Get(p.ID)
	if !ok {
		return
	}
	if adir.ActiveScanCount() != 0 || adir.TaskCount() != 0 {
		return
	}
	objectID, err := o.resolveScanTarget(adir)
	if err != nil {
		log.Error(err)
		return
	}
	o.RescanDirectory(adir, objectID, "", true)
}

// resolveScanTarget maps an autoscan's location to its container id,
// creating the physical container chain on first contact.
func (o *Orchestrator) resolveScanTarget(adir *autoscan.Directory) (cds.ID, error) {
	if id, err := o.db.FindObjectIDByPath(adir.Location, database.FileTypeDirectory); err == nil {
		return id, nil
	}
	id, affected, err := o.db.EnsurePathExistence(adir.Location)
	if err != nil {
		return cds.InvalidID, err
	}
	if affected != cds.InvalidID {
		o.updates.ContainerChanged(affected, update.PolicySpec)
	}
	return id, nil
}

// EnqueueAddFile implements the inotify watcher's Content surface: an
// asynchronous AddFile on behalf of adir with the autoscan's own settings.
func (o *Orchestrator) EnqueueAddFile(adir *autoscan.Directory, path string, recursive, rescanResource bool) {
	_, err := o.AddFile(path, AddFileOptions{
		Recursive:      recursive,
		FollowSymlinks: adir.FollowSymlinks,
		Hidden:         adir.Hidden,
		ForceRescan:    rescanResource,
		Async:          true,
		Cancellable:    true,
	})
	if err != nil {
		log.Error(err)
	}
}

// RemoveByPath resolves path to its object and removes it; events for paths
// the catalog never saw are dropped.
func (o *Orchestrator) RemoveByPath(adir *autoscan.Directory, path string, all bool) {
	id, err := o.db.FindObjectIDByPath(path, database.FileTypeAny)
	if err != nil {
		return
	}
	if _, err := o.RemoveObject(adir, id, path, RemoveOptions{Async: true, All: all}); err != nil {
		log.Error(err)
	}
}

// HandlePersistentAutoscanRemove is called when a persistent autoscan's
// watched path disappeared: its catalog objects are removed but the autoscan
// itself stays registered, waiting on its non-existing monitor.
func (o *Orchestrator) HandlePersistentAutoscanRemove(adir *autoscan.Directory) {
	id, err := o.db.FindObjectIDByPath(adir.Location, database.FileTypeDirectory)
	if err != nil {
		return
	}
	if _, err := o.RemoveObject(nil, id, adir.Location, RemoveOptions{Async: true, All: true}); err != nil {
		log.Error(err)
	}
}

func autoscanRecord(adir *autoscan.Directory) database.AutoscanRecord {
	mode := database.AutoscanModeTimed
	if adir.Mode == autoscan.ModeINotify {
		mode = database.AutoscanModeINotify
	}
	return database.AutoscanRecord{
		ScanID:          adir.ScanID,
		DatabaseID:      adir.DatabaseID,
		Location:        adir.Location,
		Mode:            mode,
		Recursive:       adir.Recursive,
		Hidden:          adir.Hidden,
		FollowSymlinks:  adir.FollowSymlinks,
		IntervalSeconds: adir.IntervalSeconds,
		Persistent:      adir.Persistent,
	}
}

func directoryFromRecord(rec database.AutoscanRecord) *autoscan.Directory {
	mode := autoscan.ModeTimed
	if rec.Mode == database.AutoscanModeINotify {
		mode = autoscan.ModeINotify
	}
	adir := autoscan.NewDirectory(rec.Location, mode)
	adir.ScanID = rec.ScanID
	adir.DatabaseID = rec.DatabaseID
	adir.Recursive = rec.Recursive
	adir.Hidden = rec.Hidden
	adir.FollowSymlinks = rec.FollowSymlinks
	adir.IntervalSeconds = rec.IntervalSeconds
	adir.Persistent = rec.Persistent
	return adir
}

type alwaysValid struct{}

func (alwaysValid) Valid() bool { return true }

type statResult struct {
	isDir bool
	mtime int64
}

func stat(path string) (statResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return statResult{}, err
	}
	return statResult{isDir: info.IsDir(), mtime: info.ModTime().Unix()}, nil
}

func parentDirOf(location string) string {
	for i := len(location) - 1; i >= 0; i-- {
		if location[i] == '/' {
			if i == 0 {
				return "/"
			}
			return location[:i]
		}
	}
	return location
}
