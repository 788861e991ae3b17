// Package autoscan tracks the set of filesystem locations the server
// watches for changes, either via periodic polling (Timed) or inotify, and
// the bookkeeping (scan ids, last-modified times, persistence across the
// watched path disappearing) each one carries.
package autoscan

import (
	"sync"
)

// Mode selects how a Directory is monitored.
type Mode int

const (
	ModeTimed Mode = iota
	ModeINotify
)

// InvalidScanID marks a Directory that has not yet been registered.
const InvalidScanID = -1

// Directory is one watched location, its monitoring configuration and its
// runtime scan-tracking state.
type Directory struct {
	ScanID     int
	DatabaseID int
	Location   string

	Mode Mode

	Recursive       bool
	Hidden          bool
	FollowSymlinks  bool
	IntervalSeconds int // Timed only
	MediaTypeMask   int
	ScanContent     map[string]bool // upnp class -> scan enabled

	// Persistent autoscans survive the watched path disappearing by
	// spawning "non-existing" monitors on ancestor directories.
	Persistent bool

	mu                       sync.Mutex
	taskCount                int
	activeScanCount          uint
	lastModifiedPreviousScan int64
	lastModifiedCurrentScan  int64
	perPathLMT               map[string]int64
}

// NewDirectory builds a Directory in its initial, unregistered state.
func NewDirectory(location string, mode Mode) *Directory {
	return &Directory{
		ScanID:      InvalidScanID,
		DatabaseID:  -1,
		Location:    location,
		Mode:        mode,
		ScanContent: map[string]bool{},
		perPathLMT:  map[string]int64{},
	}
}

// TaskCount returns the number of pending/running tasks spawned on behalf of
// this autoscan.
func (d *Directory) TaskCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.taskCount
}

// IncTaskCount/DecTaskCount adjust the pending task bookkeeping used by
// timerNotify to avoid enqueuing overlapping rescans.
func (d *Directory) IncTaskCount() {
	d.mu.Lock()
	d.taskCount++
	d.mu.Unlock()
}

func (d *Directory) DecTaskCount() {
	d.mu.Lock()
	if d.taskCount > 0 {
		d.taskCount--
	}
	d.mu.Unlock()
}

// ActiveScanCount reports how many directory locations under this autoscan
// currently have an in-progress scan.
func (d *Directory) ActiveScanCount() uint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeScanCount
}

// SetCurrentLMT records one directory entry's observed mtime during a scan.
// Calling it with lmt == 0 marks the start of scanning loc; calling it again
// with the real mtime marks that loc's scan as finished. This two-phase
// protocol lets UpdateLMT know, by checking activeScanCount, whether every
// sub-path of a recursive scan has reported in before committing a new
// "previous" LMT.
func (d *Directory) SetCurrentLMT(loc string, lmt int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstScan, activeScan bool
	if loc != "" {
		prev, seen := d.perPathLMT[loc]
		if !seen || prev > 0 {
			firstScan = true
		}
		if !seen || prev == 0 {
			activeScan = true
		}
		d.perPathLMT[loc] = lmt
	}
	if lmt == 0 {
		if firstScan {
			d.activeScanCount++
		}
		return
	}
	if activeScan && d.activeScanCount > 0 {
		d.activeScanCount--
	}
	if lmt > d.lastModifiedCurrentScan {
		d.lastModifiedCurrentScan = lmt
	}
}

// UpdateLMT commits lastModifiedCurrentScan into lastModifiedPreviousScan
// once every in-progress sub-scan has finished (activeScanCount == 0),
// returning true when it actually committed so the caller can persist it.
func (d *Directory) UpdateLMT() (committed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.activeScanCount != 0 {
		return false
	}
	d.lastModifiedPreviousScan = d.lastModifiedCurrentScan
	return true
}

// PreviousLMT returns the last committed mtime for loc, falling back to the
// autoscan-wide previous LMT when loc has no entry of its own.
func (d *Directory) PreviousLMT(loc string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if loc != "" {
		if v, ok := d.perPathLMT[loc]; ok && v > 0 {
			return v
		}
	}
	return d.lastModifiedPreviousScan
}

// isUnder reports whether d.Location is at or below path, used by
// RemoveIfSubdir.
func (d *Directory) isUnder(path string) bool {
	return d.Location == path || hasPathPrefix(d.Location, path)
}

func hasPathPrefix(path, prefix string) bool {
	if len(path) <= len(prefix) {
		return false
	}
	if path[:len(prefix)] != prefix {
		return false
	}
	return path[len(prefix)] == '/'
}
