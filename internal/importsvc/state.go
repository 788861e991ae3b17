// Package importsvc implements the import pipeline: filesystem discovery,
// per-path state tracking, classification into CdsObjects, container tree
// construction, fan-art propagation and layout invocation.
package importsvc

import (
	"gitlab.com/mipimipi/cdscore/internal/cds"
)

// State is a ContentState's position in its monotonic lifecycle. Attempts to
// move a cache entry backwards are ignored - once a path is Created it can
// still progress to WithLayout, but never regress to New.
type State int

const (
	StateNew State = iota
	StateLoaded
	StateCreated
	StateExisting
	StateWithLayout
	StateToDelete
	StateLayoutDeleted
	StateBroken
)

// ItemType classifies a cached file for the dominant-media-mode vote a
// container's child count takes (see ContentState.ItemCounter).
type ItemType int

const (
	ItemAudio ItemType = iota
	ItemVideo
	ItemImage
	ItemPlaylist
	ItemFolder
	ItemUnknown
)

// DirEntry is the minimal stat-carrying view of one filesystem path the
// import pipeline caches; a thin wrapper so tests can fabricate entries
// without touching a real filesystem.
type DirEntry struct {
	Path  string
	IsDir bool
	MTime int64
	Size  int64
}

// ContentState is the per-path bookkeeping the import pipeline accumulates
// across doImport's stages.
type ContentState struct {
	State  State
	Entry  DirEntry
	MTime  int64
	Object *cds.Object // resolved once createContainers/createItems run
	Broken error

	// FirstObject is the first non-container child seen under this
	// directory, used as assignFanArt's donor when no sidecar art exists.
	FirstObject *cds.Object
	// ParentObject is this path's resolved container, once known.
	ParentObject *cds.Object

	ItemCounter map[ItemType]int
}

// setState advances st to next unless next is behind st in the lifecycle
// (states only move forward).
func (st *ContentState) setState(next State) {
	if next >= st.State {
		st.State = next
	}
}

// Cache is the per-import-run state cache: cleared at the start of every
// doImport invocation, keyed by absolute filesystem path.
type Cache struct {
	byPath map[string]*ContentState
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{byPath: map[string]*ContentState{}}
}

// Reset clears the cache for a fresh import run.
func (c *Cache) Reset() { c.byPath = map[string]*ContentState{} }

// Get returns the cache entry for path, creating it in StateNew if absent.
func (c *Cache) Get(path string) *ContentState {
	st, ok := c.byPath[path]
	if !ok {
		st = &ContentState{State: StateNew, ItemCounter: map[ItemType]int{}}
		c.byPath[path] = st
	}
	return st
}

// Advance moves the cache entry for path to next, respecting the monotonic
// ordering rule.
func (c *Cache) Advance(path string, next State) {
	c.Get(path).setState(next)
}

// Paths returns every cached path, in no particular order.
func (c *Cache) Paths() []string {
	out := make([]string, 0, len(c.byPath))
	for p := range c.byPath {
		out = append(out, p)
	}
	return out
}

// Entries returns every cache entry alongside its path.
func (c *Cache) Entries() map[string]*ContentState { return c.byPath }
