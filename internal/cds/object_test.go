package cds

import (
	"testing"
)

func newTestItem() *Object {
	o := CreateObject(KindItem)
	o.ID = 42
	o.ParentID = 7
	o.Title = "Song"
	o.UpnpClass = "object.item.audioItem.musicTrack"
	o.Location = "/m/a.mp3"
	o.MTime = 1590000000
	o.SizeOnDisk = 12345
	o.Item.MimeType = "audio/mpeg"
	o.Metadata.Add("upnp:artist", "X")
	o.Metadata.Add("upnp:genre", "Rock")
	o.Metadata.Add("upnp:genre", "Pop")
	o.AuxData = AuxData{"scratch": "1"}

	r := NewResource(HandlerID3, PurposeContent)
	r.Attributes[AttrSize] = "12345"
	o.AddResource(r)
	o.AddResource(NewResource(HandlerID3, PurposeThumbnail))
	return o
}

func TestCreateObjectDefaults(t *testing.T) {
	c := CreateObject(KindContainer)
	if c.Flags != DefaultFlags {
		t.Errorf("fresh object flags = %#x, want RESTRICTED", uint32(c.Flags))
	}
	if c.Container == nil || c.Container.ChildCount != -1 {
		t.Error("fresh container must have unknown child count")
	}
	if c.ID != InvalidID || c.ParentID != InvalidID || c.RefID != InvalidID {
		t.Error("fresh object ids must be invalid")
	}
}

func TestResourceIDMonotonicity(t *testing.T) {
	o := newTestItem()
	o.AddResource(NewResource(HandlerSubtitle, PurposeSubtitle))
	for i, r := range o.Resources {
		if r.ResID != i {
			t.Errorf("resources[%d].ResID = %d", i, r.ResID)
		}
	}
}

func TestCopyToEqualsExactly(t *testing.T) {
	o := newTestItem()
	c := o.Clone()
	if !o.Equals(c, true) {
		t.Error("clone must equal its source exactly")
	}
	// resource identity on the copy is independent
	c.Resources[0].Attributes[AttrSize] = "1"
	if o.Resources[0].Attributes[AttrSize] != "12345" {
		t.Error("mutating a cloned resource changed the original")
	}
}

func TestEqualsExactlyDetectsDifferences(t *testing.T) {
	o := newTestItem()
	c := o.Clone()
	c.MTime++
	if o.Equals(c, true) {
		t.Error("exact comparison must detect mtime change")
	}
	if !o.Equals(c, false) {
		t.Error("loose comparison must ignore mtime")
	}
}

func TestIsSubClass(t *testing.T) {
	o := newTestItem()
	for _, prefix := range []string{"object.item", "object.item.audioItem", "object.item.audioItem.musicTrack"} {
		if !o.IsSubClass(prefix) {
			t.Errorf("IsSubClass(%q) = false", prefix)
		}
	}
	if o.IsSubClass("object.item.audio") {
		t.Error("prefix check must respect segment boundaries")
	}
	if o.IsSubClass("object.container") {
		t.Error("item is not a container subclass")
	}
}

func TestSingleValuedMetadata(t *testing.T) {
	var m MetaList
	m.Add("upnp:album", "First")
	m.Add("upnp:album", "Second")
	if got := m.Group("upnp:album"); len(got) != 1 || got[0] != "Second" {
		t.Errorf("single-valued key kept %v", got)
	}
	m.Add("upnp:genre", "Rock")
	m.Add("upnp:genre", "Pop")
	if got := m.Group("upnp:genre"); len(got) != 2 {
		t.Errorf("multi-valued key lost values: %v", got)
	}
}

func TestMetadataGroupOrder(t *testing.T) {
	var m MetaList
	m.Add("upnp:artist", "X")
	m.Add("upnp:genre", "Rock")
	m.Add("upnp:genre", "Pop")
	keys, groups := m.Groups()
	if len(keys) != 2 || keys[0] != "upnp:artist" || keys[1] != "upnp:genre" {
		t.Errorf("keys not in first-seen order: %v", keys)
	}
	if g := groups["upnp:genre"]; len(g) != 2 || g[0] != "Rock" || g[1] != "Pop" {
		t.Errorf("values not in insertion order: %v", g)
	}
}

func TestValidate(t *testing.T) {
	o := CreateObject(KindItem)
	if err := o.Validate(); err == nil {
		t.Error("empty object must not validate")
	}
	o.Title = "t"
	if err := o.Validate(); err == nil {
		t.Error("object without class must not validate")
	}
	o.UpnpClass = "object.item"
	if err := o.Validate(); err != nil {
		t.Errorf("valid object rejected: %v", err)
	}
}

func TestFlagAPI(t *testing.T) {
	o := CreateObject(KindItem)
	o.ChangeFlag(FlagSearchable, true)
	if !o.HasFlag(FlagSearchable) {
		t.Error("ChangeFlag(true) did not set")
	}
	o.ChangeFlag(FlagSearchable, false)
	if o.HasFlag(FlagSearchable) {
		t.Error("ChangeFlag(false) did not clear")
	}
}
