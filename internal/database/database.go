// Package database declares the persistence contract the core consumes,
// together with Memory, an in-process implementation of it. An SQL engine
// behind the same contract is an external collaborator, wired in by whoever
// assembles the server.
package database

import (
	"gitlab.com/mipimipi/cdscore/internal/cds"
)

// ChangedContainers splits the set of container ids a mutation affected into
// two views: ui wants finer granularity (every touched ancestor) than upnp,
// which only needs ids whose updateID actually incremented.
type ChangedContainers struct {
	UI   []cds.ID
	UPnP []cds.ID
}

// FileType narrows a path lookup to a particular CdsObject variant.
type FileType int

const (
	FileTypeAny FileType = iota
	FileTypeDirectory
	FileTypeFile
)

// AutoscanMode narrows AutoscanDirectory queries.
type AutoscanMode int

const (
	AutoscanModeTimed AutoscanMode = iota
	AutoscanModeINotify
)

// AutoscanRecord is the persisted shape of an autoscan directory - the
// subset of autoscan.Directory the database layer needs to store and
// reload across restarts.
type AutoscanRecord struct {
	ScanID          int
	DatabaseID      int
	Location        string
	Mode            AutoscanMode
	Recursive       bool
	Hidden          bool
	FollowSymlinks  bool
	IntervalSeconds int
	Persistent      bool
}

// PlayStatus is the persisted playback bookkeeping record for one (group,
// item) pair.
type PlayStatus struct {
	PlayCount    int
	LastPlayed   int64
	LastPosition int64
}

// Database is the contract the core consumes for all persistence. It is
// specified by behavior: every method is assumed safe to call concurrently
// from independent goroutines; cross-call atomicity (e.g. "commit then bump
// updateID" happening as one unit) is the implementation's responsibility,
// not the caller's.
type Database interface {
	AddObject(obj *cds.Object) (id cds.ID, affectedContainer cds.ID, err error)
	AddContainer(parentID cds.ID, virtualPath string, container *cds.Object) (id cds.ID, created bool, err error)
	UpdateObject(obj *cds.Object) (affectedContainer cds.ID, err error)
	RemoveObject(id cds.ID, path string, all bool) (ChangedContainers, error)
	RemoveObjects(ids []cds.ID) (ChangedContainers, error)

	LoadObject(id cds.ID) (*cds.Object, error)
	LoadObjectByServiceID(serviceID, group string) (*cds.Object, error)
	FindObjectByPath(path string, group string, fileType FileType) (*cds.Object, error)
	FindObjectIDByPath(path string, fileType FileType) (cds.ID, error)

	GetChildCount(id cds.ID, includeContainers, includeItems, hideFSRoot bool) (int, error)
	GetObjects(parentID cds.ID, withoutContainer bool, full bool) ([]*cds.Object, error)
	GetRefObjects(id cds.ID) ([]cds.ID, error)

	// IncrementUpdateIDs atomically bumps the updateID of every container in
	// ids and returns the UPnP CSV form "id1,updId1,id2,updId2,...".
	IncrementUpdateIDs(ids map[cds.ID]struct{}) (string, error)

	GetAutoscanList(mode AutoscanMode) ([]AutoscanRecord, error)
	AddAutoscanDirectory(rec AutoscanRecord) (databaseID int, err error)
	UpdateAutoscanDirectory(rec AutoscanRecord) error
	RemoveAutoscanDirectory(databaseID int) error
	GetAutoscanDirectory(objectID cds.ID) (AutoscanRecord, bool, error)
	// CheckOverlappingAutoscans must return an error if rec's location
	// overlaps an already-registered autoscan's subtree.
	CheckOverlappingAutoscans(rec AutoscanRecord) error

	// EnsurePathExistence walks path from the filesystem root, creating any
	// missing storage-folder containers along the way.
	EnsurePathExistence(path string) (containerID cds.ID, affectedContainer cds.ID, err error)

	SavePlayStatus(group string, id cds.ID, status PlayStatus) error
	GetPlayStatus(group string, id cds.ID) (PlayStatus, error)
}
