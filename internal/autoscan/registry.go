package autoscan

import (
	"sync"

	"gitlab.com/mipimipi/cdscore/internal/cds"
)

// SentinelIndex tells Add to append rather than install at a specific list
// position.
const SentinelIndex = -1

// Registry maintains two indexes over the same set of autoscan Directories:
// a sequential list for UI ordering, and a scanId -> entry map for event
// routing.
type Registry struct {
	mu       sync.Mutex
	list     []*Directory
	byScanID map[int]*Directory
	nextID   int
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byScanID: map[int]*Directory{}}
}

// Add installs dir. If index == SentinelIndex it is appended and assigned a
// fresh scan id; otherwise it is installed at the given list index (used
// when reloading persisted autoscans, which already carry a scan id) and
// marked persistent. A duplicate location is rejected.
func (r *Registry) Add(dir *Directory, index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.list {
		if d.Location == dir.Location {
			return &cds.DuplicateAutoscanError{Location: dir.Location}
		}
	}

	if index == SentinelIndex {
		dir.ScanID = r.nextID
		r.nextID++
		r.list = append(r.list, dir)
	} else {
		dir.Persistent = true
		if index >= len(r.list) {
			r.list = append(r.list, dir)
		} else {
			r.list = append(r.list[:index], append([]*Directory{dir}, r.list[index:]...)...)
		}
		if dir.ScanID >= r.nextID {
			r.nextID = dir.ScanID + 1
		}
	}
	r.byScanID[dir.ScanID] = dir
	return nil
}

// Get looks up a Directory by scan id.
func (r *Registry) Get(scanID int) (*Directory, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byScanID[scanID]
	return d, ok
}

// GetByLocation looks up a Directory by its watched path.
func (r *Registry) GetByLocation(location string) (*Directory, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.list {
		if d.Location == location {
			return d, true
		}
	}
	return nil, false
}

// List returns a snapshot of every registered Directory, in registry order.
func (r *Registry) List() []*Directory {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Directory, len(r.list))
	copy(out, r.list)
	return out
}

// Remove drops the Directory with the given scan id.
func (r *Registry) Remove(scanID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byScanID, scanID)
	for i, d := range r.list {
		if d.ScanID == scanID {
			r.list = append(r.list[:i], r.list[i+1:]...)
			return
		}
	}
}

// RemoveIfSubdir removes and returns every entry whose location has parent
// as a prefix (or equals it), skipping persistent ones unless
// includePersistent is set. It is used when a directory above an autoscan is
// deleted: the dangling autoscans must be torn down along with it.
//
// An autoscan whose location exactly equals parent and which is persistent
// is also skipped unless includePersistent is set - the caller handles that
// boundary case (a persistent autoscan watching a path that is itself being
// removed) through the non-existing-monitor path rather than outright
// deletion here.
func (r *Registry) RemoveIfSubdir(parent string, includePersistent bool) []*Directory {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []*Directory
	var kept []*Directory
	for _, d := range r.list {
		if d.isUnder(parent) {
			if d.Persistent && !includePersistent {
				kept = append(kept, d)
				continue
			}
			removed = append(removed, d)
			delete(r.byScanID, d.ScanID)
			continue
		}
		kept = append(kept, d)
	}
	r.list = kept
	return removed
}

// CheckOverlapping reports whether loc would overlap an already-registered
// autoscan's subtree (one location is a prefix of, or equal to, the other).
func (r *Registry) CheckOverlapping(loc string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.list {
		if d.Location == loc || hasPathPrefix(loc, d.Location) || hasPathPrefix(d.Location, loc) {
			return &cds.OverlappingAutoscanError{Location: loc, Existing: d.Location}
		}
	}
	return nil
}
