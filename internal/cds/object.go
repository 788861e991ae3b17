package cds

import "strings"

// Kind distinguishes the three CdsObject variants. All three share one
// struct rather than being separate types; Kind selects which of
// ContainerAttrs/ItemAttrs is populated.
type Kind int

const (
	KindContainer Kind = iota
	KindItem
	KindExternalItem
)

// PlayStatus tracks per-user playback bookkeeping for an item, persisted via
// Database.savePlayStatus/getPlayStatus.
type PlayStatus struct {
	PlayCount    int
	LastPlayed   int64 // unix seconds, zero if never played
	LastPosition int64 // seconds into the resource
}

// AutoscanType records which, if any, autoscan mode watches a container.
type AutoscanType int

const (
	AutoscanNone AutoscanType = iota
	AutoscanTimed
	AutoscanINotify
)

// ContainerAttrs holds the fields only meaningful for KindContainer objects.
type ContainerAttrs struct {
	UpdateID     int
	ChildCount   int // -1 == unknown
	AutoscanType AutoscanType
}

// ItemAttrs holds the fields only meaningful for KindItem / KindExternalItem
// objects.
type ItemAttrs struct {
	MimeType    string
	PartNumber  int
	TrackNumber int
	ServiceID   string
	PlayStatus  PlayStatus
}

// Object is a Content Directory Service object: an item, container, or
// external item, depending on Kind. Only one of Container/Item is non-nil,
// selected by Kind.
type Object struct {
	ID       ID
	ParentID ID
	RefID    ID // points at the "real" object for virtual copies; InvalidID otherwise

	Title      string
	UpnpClass  string
	Location   string // absolute FS path, or a URL for KindExternalItem
	MTime      int64  // file mtime, unix seconds
	UTime      int64  // database update time, unix seconds
	SizeOnDisk uint64

	Virtual      bool
	Flags        Flag
	SortPriority int

	Metadata  MetaList
	AuxData   AuxData
	Resources []*Resource

	Kind      Kind
	Container *ContainerAttrs
	Item      *ItemAttrs
}

// CreateObject builds a zero-value object of the requested kind, with
// default flags and (for containers) an unknown child count.
func CreateObject(kind Kind) *Object {
	o := &Object{
		ID:       InvalidID,
		ParentID: InvalidID,
		RefID:    InvalidID,
		Flags:    DefaultFlags,
		Kind:     kind,
	}
	switch kind {
	case KindContainer:
		o.Container = &ContainerAttrs{ChildCount: -1, AutoscanType: AutoscanNone}
	case KindItem, KindExternalItem:
		o.Item = &ItemAttrs{}
	}
	return o
}

// IsContainer reports whether o is a Container variant.
func (o *Object) IsContainer() bool { return o.Kind == KindContainer }

// IsItem reports whether o is an Item or ExternalItem variant.
func (o *Object) IsItem() bool { return o.Kind == KindItem || o.Kind == KindExternalItem }

// IsExternalItem reports whether o is specifically the ExternalItem variant.
func (o *Object) IsExternalItem() bool { return o.Kind == KindExternalItem }

// IsSubClass performs the UPnP class subtype check: classes are
// dot-separated hierarchies ("object.item.audioItem.musicTrack") and a
// literal string prefix over segments is their intended subtype relation.
func (o *Object) IsSubClass(prefix string) bool {
	if o.UpnpClass == prefix {
		return true
	}
	return strings.HasPrefix(o.UpnpClass, prefix+".")
}

// SetFlag, ClearFlag and ChangeFlag operate on the flag bitset.
func (o *Object) SetFlag(mask Flag)      { o.Flags |= mask }
func (o *Object) ClearFlag(mask Flag)    { o.Flags &^= mask }
func (o *Object) HasFlag(mask Flag) bool { return o.Flags&mask != 0 }
func (o *Object) ChangeFlag(mask Flag, value bool) {
	if value {
		o.SetFlag(mask)
	} else {
		o.ClearFlag(mask)
	}
}

// AddResource appends a resource and assigns it resId = current size, per
// the resId-monotonicity invariant.
func (o *Object) AddResource(r *Resource) {
	r.ResID = len(o.Resources)
	o.Resources = append(o.Resources, r)
}

// GetResourceByID returns the resource occupying the given resId slot, or
// nil. Unlike the handler/purpose lookups this is an exact indexed access.
func (o *Object) GetResourceByID(resID int) *Resource {
	for _, r := range o.Resources {
		if r.ResID == resID {
			return r
		}
	}
	return nil
}

// GetResourceByHandler returns the first resource produced by the given
// content handler.
func (o *Object) GetResourceByHandler(h HandlerType) *Resource {
	for _, r := range o.Resources {
		if r.HandlerType == h {
			return r
		}
	}
	return nil
}

// GetResourceByPurpose returns the first resource serving the given
// purpose.
func (o *Object) GetResourceByPurpose(p Purpose) *Resource {
	for _, r := range o.Resources {
		if r.Purpose == p {
			return r
		}
	}
	return nil
}

// RemoveResourceByHandler deletes the first resource produced by the given
// handler, if any. Remaining resources keep their resId - callers that need
// contiguous ids must rebuild via AddResource from scratch.
func (o *Object) RemoveResourceByHandler(h HandlerType) {
	for i, r := range o.Resources {
		if r.HandlerType == h {
			o.Resources = append(o.Resources[:i], o.Resources[i+1:]...)
			return
		}
	}
}

// CopyTo deep-copies every public field, including independent clones of
// every resource, onto dst.
func (o *Object) CopyTo(dst *Object) {
	dst.ID = o.ID
	dst.ParentID = o.ParentID
	dst.RefID = o.RefID
	dst.Title = o.Title
	dst.UpnpClass = o.UpnpClass
	dst.Location = o.Location
	dst.MTime = o.MTime
	dst.UTime = o.UTime
	dst.SizeOnDisk = o.SizeOnDisk
	dst.Virtual = o.Virtual
	dst.Flags = o.Flags
	dst.SortPriority = o.SortPriority
	dst.Metadata = o.Metadata.Clone()
	dst.AuxData = o.AuxData.Clone()
	dst.Resources = make([]*Resource, len(o.Resources))
	for i, r := range o.Resources {
		dst.Resources[i] = r.Clone()
	}
	dst.Kind = o.Kind
	if o.Container != nil {
		c := *o.Container
		dst.Container = &c
	} else {
		dst.Container = nil
	}
	if o.Item != nil {
		it := *o.Item
		dst.Item = &it
	} else {
		dst.Item = nil
	}
}

// Clone returns a fresh object with CopyTo'd contents.
func (o *Object) Clone() *Object {
	dst := &Object{}
	o.CopyTo(dst)
	return dst
}

// Equals compares two objects for identity-relevant equality. When exactly
// is false, only the fields visible through DIDL-Lite are compared
// (id, title, class, resources, metadata); when true, location, mtime,
// size, the virtual flag and auxdata and flag bits are compared too.
func (o *Object) Equals(other *Object, exactly bool) bool {
	if other == nil {
		return false
	}
	if o.ID != other.ID || o.Title != other.Title || o.UpnpClass != other.UpnpClass {
		return false
	}
	if !o.resourcesEqual(other) {
		return false
	}
	if !metaEqual(o.Metadata, other.Metadata) {
		return false
	}
	if !exactly {
		return true
	}
	if o.Location != other.Location || o.MTime != other.MTime || o.SizeOnDisk != other.SizeOnDisk {
		return false
	}
	if o.Virtual != other.Virtual || o.Flags != other.Flags {
		return false
	}
	if len(o.AuxData) != len(other.AuxData) {
		return false
	}
	for k, v := range o.AuxData {
		if other.AuxData[k] != v {
			return false
		}
	}
	return true
}

func (o *Object) resourcesEqual(other *Object) bool {
	if len(o.Resources) != len(other.Resources) {
		return false
	}
	for i, r := range o.Resources {
		or := other.Resources[i]
		if r.HandlerType != or.HandlerType || r.Purpose != or.Purpose || r.ResID != or.ResID {
			return false
		}
	}
	return true
}

func metaEqual(a, b MetaList) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Validate checks the minimum requirements for an object to be inserted
// into the catalog: a non-empty title and upnp class.
func (o *Object) Validate() error {
	if strings.TrimSpace(o.Title) == "" {
		return NewInvalidObjectError(o.ID, "missing title")
	}
	if strings.TrimSpace(o.UpnpClass) == "" {
		return NewInvalidObjectError(o.ID, "missing upnp class")
	}
	return nil
}
