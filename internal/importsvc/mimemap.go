package importsvc

import (
	"strconv"
	"strings"

	"gitlab.com/mipimipi/cdscore/internal/cds"
)

// FilterOp is one of the comparison operators an upnpMap entry's filter
// conjunction may use against an item's metadata/aux fields.
type FilterOp int

const (
	FilterEQ FilterOp = iota
	FilterNE
	FilterLT
	FilterGT
)

// Filter is one predicate in an upnpMap entry's conjunction: (field op
// value), evaluated against the item's metadata and aux data.
type Filter struct {
	Field string
	Op    FilterOp
	Value string
}

// matches evaluates the filter against obj. Numeric comparisons (<, >) parse
// both sides as integers and fail closed (no match) if either side isn't
// numeric - the config grammar reserves <,> for numeric fields such as
// track number.
func (f Filter) matches(obj *cds.Object) bool {
	actual := fieldValue(obj, f.Field)
	switch f.Op {
	case FilterEQ:
		return actual == f.Value
	case FilterNE:
		return actual != f.Value
	case FilterLT, FilterGT:
		a, errA := strconv.Atoi(actual)
		b, errB := strconv.Atoi(f.Value)
		if errA != nil || errB != nil {
			return false
		}
		if f.Op == FilterLT {
			return a < b
		}
		return a > b
	}
	return false
}

func fieldValue(obj *cds.Object, field string) string {
	if v := obj.Metadata.Get(field); v != "" {
		return v
	}
	if v, ok := obj.AuxData[field]; ok {
		return v
	}
	switch field {
	case "title":
		return obj.Title
	case "location":
		return obj.Location
	}
	return ""
}

// UpnpMapEntry is one (mimePrefix, upnpClass, filters) triple from
// IMPORT_MAPPINGS_MIMETYPE_TO_UPNP_CLASS_LIST. Filters are ANDed; the first
// entry whose mime prefix matches and whose filters all pass wins.
type UpnpMapEntry struct {
	MimePrefix string
	UpnpClass  string
	Filters    []Filter
}

func (e UpnpMapEntry) isMatch(mimeType string, obj *cds.Object) bool {
	if !strings.HasPrefix(mimeType, e.MimePrefix) {
		return false
	}
	for _, f := range e.Filters {
		if !f.matches(obj) {
			return false
		}
	}
	return true
}

// MimeMap resolves a mime type (and, via the upnpMap conjunction, item
// metadata) to a UPnP class, with a three-step fallback:
// configured upnpMap entries in order, then a direct mimetype->class map,
// then a wildcard "audio/*"-style entry.
type MimeMap struct {
	UpnpMap  []UpnpMapEntry    // ordered; first match wins
	Direct   map[string]string // exact mimetype -> upnp class
	Wildcard map[string]string // mime type prefix ("audio/", "video/", "image/") -> upnp class
}

// NewMimeMap returns a MimeMap with the stock direct/wildcard
// fallbacks and no upnpMap entries.
func NewMimeMap() *MimeMap {
	return &MimeMap{
		Direct: map[string]string{
			"application/ogg":       "object.item.audioItem.musicTrack",
			"audio/x-mpegurl":       "object.item.playlistItem",
			"audio/mpegurl":         "object.item.playlistItem",
			"application/x-mpegurl": "object.item.playlistItem",
		},
		Wildcard: map[string]string{
			"audio/": "object.item.audioItem.musicTrack",
			"video/": "object.item.videoItem",
			"image/": "object.item.imageItem.photo",
		},
	}
}

// UpnpClassFor resolves the UPnP class for a mime type. isMatch is
// deterministic because UpnpMap is walked in slice order with no mutation of
// shared state.
func (m *MimeMap) UpnpClassFor(mimeType string, obj *cds.Object) string {
	for _, e := range m.UpnpMap {
		if e.isMatch(mimeType, obj) {
			return e.UpnpClass
		}
	}
	if cls, ok := m.Direct[mimeType]; ok {
		return cls
	}
	for prefix, cls := range m.Wildcard {
		if strings.HasPrefix(mimeType, prefix) {
			return cls
		}
	}
	return "object.item"
}
