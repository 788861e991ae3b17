// Package cds implements the Content Directory Service object model: items,
// containers, external items, resources, metadata and the flag bitset that
// together form the catalog the rest of the core operates on.
package cds

// ID identifies a CdsObject within the catalog. It mirrors the UPnP
// Content Directory's object id space: a signed 32 bit integer with a
// handful of reserved values.
type ID int32

// Reserved object ids.
const (
	InvalidID ID = -1
	RootID    ID = 0
	FSRootID  ID = 1
)

// Valid reports whether id is usable as a user object id, i.e. not negative
// except for InvalidID itself.
func (id ID) Valid() bool { return id == InvalidID || id >= 0 }
