// Package inotify implements the filesystem event loop behind inotify-mode
// autoscans: watch bookkeeping per directory, move detection on ancestor
// directories, and persistent "non-existing" monitors that re-arm an
// autoscan once its vanished path reappears.
package inotify

import (
	"strings"

	"gitlab.com/mipimipi/cdscore/internal/autoscan"
)

// watchKind tags the two watch variants a directory can carry.
type watchKind int

const (
	watchAutoscan watchKind = iota
	// watchMove is attached to ancestors of a start point to catch a
	// rename-away of any parent directory.
	watchMove
)

// watch is one monitoring record attached to a watched directory.
type watch struct {
	kind watchKind

	// autoscan variant
	adir       *autoscan.Directory
	startPoint bool
	// nonexistingPath holds the missing path's segments below this
	// directory while the watch stands in for a persistent autoscan whose
	// location disappeared.
	nonexistingPath []string

	// move variant: the start-point wd to tear down when the watched
	// ancestor is renamed away.
	removeWd int
}

// wd is one watched directory and the records attached to it.
type wd struct {
	path     string
	parentWd int
	watches  []*watch
}

// autoscanWatch returns the directory's autoscan record, if any.
func (d *wd) autoscanWatch() *watch {
	for _, w := range d.watches {
		if w.kind == watchAutoscan {
			return w
		}
	}
	return nil
}

func (d *wd) removeMoveWatches(removeWd int) {
	kept := d.watches[:0]
	for _, w := range d.watches {
		if w.kind == watchMove && w.removeWd == removeWd {
			continue
		}
		kept = append(kept, w)
	}
	d.watches = kept
}

// pathSegments splits an absolute path into its components.
func pathSegments(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// isPathUnder reports whether path is at or below root.
func isPathUnder(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+"/")
}

// ancestors yields every ancestor directory of path, nearest first,
// stopping at (and including) "/".
func ancestors(path string) []string {
	var out []string
	for {
		i := strings.LastIndexByte(path, '/')
		if i < 0 {
			break
		}
		if i == 0 {
			out = append(out, "/")
			break
		}
		path = path[:i]
		out = append(out, path)
	}
	return out
}

// nearestExisting returns the deepest ancestor of path that exists, probed
// through exists, and the remaining missing segments below it.
func nearestExisting(path string, exists func(string) bool) (string, []string) {
	if exists(path) {
		return path, nil
	}
	var missing []string
	cur := path
	for {
		i := strings.LastIndexByte(cur, '/')
		if i < 0 {
			return "/", pathSegments(path)
		}
		missing = append([]string{cur[i+1:]}, missing...)
		if i == 0 {
			return "/", missing
		}
		cur = cur[:i]
		if exists(cur) {
			return cur, missing
		}
	}
}
