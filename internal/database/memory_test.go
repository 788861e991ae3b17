package database

import (
	"testing"

	"gitlab.com/mipimipi/cdscore/internal/cds"
)

func addItem(t *testing.T, m *Memory, parent cds.ID, title, location string) cds.ID {
	t.Helper()
	o := cds.CreateObject(cds.KindItem)
	o.Title = title
	o.UpnpClass = "object.item.audioItem.musicTrack"
	o.Location = location
	o.ParentID = parent
	id, _, err := m.AddObject(o)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func addContainer(t *testing.T, m *Memory, parent cds.ID, title, location string) cds.ID {
	t.Helper()
	o := cds.CreateObject(cds.KindContainer)
	o.Title = title
	o.UpnpClass = "object.container.storageFolder"
	o.Location = location
	o.ParentID = parent
	id, _, err := m.AddObject(o)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestAddAndLoad(t *testing.T) {
	m := NewMemory()
	id := addItem(t, m, cds.FSRootID, "Song", "/m/a.mp3")

	loaded, err := m.LoadObject(id)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Title != "Song" || loaded.ParentID != cds.FSRootID {
		t.Errorf("loaded = %+v", loaded)
	}
	// a load returns a copy; mutations must not leak back
	loaded.Title = "mutated"
	again, _ := m.LoadObject(id)
	if again.Title != "Song" {
		t.Error("LoadObject leaked a shared reference")
	}
}

func TestFindByPath(t *testing.T) {
	m := NewMemory()
	id := addItem(t, m, cds.FSRootID, "Song", "/m/a.mp3")

	got, err := m.FindObjectIDByPath("/m/a.mp3", FileTypeFile)
	if err != nil || got != id {
		t.Errorf("FindObjectIDByPath = %d, %v", got, err)
	}
	if _, err := m.FindObjectByPath("/m/a.mp3", "", FileTypeDirectory); err == nil {
		t.Error("file must not resolve as a directory")
	}
	if _, err := m.FindObjectByPath("/nope", "", FileTypeAny); err == nil {
		t.Error("unknown path must not resolve")
	}
}

func TestRemoveCascades(t *testing.T) {
	m := NewMemory()
	dir := addContainer(t, m, cds.FSRootID, "m", "/m")
	sub := addContainer(t, m, dir, "sub", "/m/sub")
	item := addItem(t, m, sub, "Song", "/m/sub/a.mp3")

	changed, err := m.RemoveObject(dir, "/m", true)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []cds.ID{dir, sub, item} {
		if _, err := m.LoadObject(id); err == nil {
			t.Errorf("object %d survived the cascade", id)
		}
	}
	// UPnP set carries the parents whose child lists changed
	if len(changed.UPnP) == 0 {
		t.Error("no UPnP-changed containers reported")
	}
	// UI set carries every touched ancestor, so it is at least as large
	if len(changed.UI) < len(changed.UPnP) {
		t.Errorf("UI set (%v) smaller than UPnP set (%v)", changed.UI, changed.UPnP)
	}
}

func TestChildCountTracksChildren(t *testing.T) {
	m := NewMemory()
	dir := addContainer(t, m, cds.FSRootID, "m", "/m")
	addItem(t, m, dir, "a", "/m/a.mp3")
	addItem(t, m, dir, "b", "/m/b.mp3")

	c, _ := m.LoadObject(dir)
	if c.Container.ChildCount != 2 {
		t.Errorf("childCount = %d, want 2", c.Container.ChildCount)
	}
	n, _ := m.GetChildCount(dir, true, true, false)
	if n != 2 {
		t.Errorf("GetChildCount = %d", n)
	}
}

func TestIncrementUpdateIDsCSV(t *testing.T) {
	m := NewMemory()
	a := addContainer(t, m, cds.FSRootID, "a", "/a")
	b := addContainer(t, m, cds.FSRootID, "b", "/b")

	csv, err := m.IncrementUpdateIDs(map[cds.ID]struct{}{a: {}, b: {}})
	if err != nil {
		t.Fatal(err)
	}
	want := ""
	if a < b {
		want = "2,1,3,1"
	} else {
		want = "3,1,2,1"
	}
	if csv != want {
		t.Errorf("CSV = %q, want %q", csv, want)
	}

	// a second bump increments again
	csv, _ = m.IncrementUpdateIDs(map[cds.ID]struct{}{a: {}})
	if csv != "2,2" {
		t.Errorf("second bump CSV = %q", csv)
	}
	// ids the catalog does not know are skipped, not errors
	csv, err = m.IncrementUpdateIDs(map[cds.ID]struct{}{999: {}})
	if err != nil || csv != "" {
		t.Errorf("unknown id: csv=%q err=%v", csv, err)
	}
}

func TestEnsurePathExistence(t *testing.T) {
	m := NewMemory()
	id, _, err := m.EnsurePathExistence("/media/music/rock")
	if err != nil {
		t.Fatal(err)
	}
	obj, err := m.LoadObject(id)
	if err != nil || obj.Location != "/media/music/rock" {
		t.Errorf("deepest container = %+v, %v", obj, err)
	}
	// idempotent: a re-run resolves the same id
	again, _, err := m.EnsurePathExistence("/media/music/rock")
	if err != nil || again != id {
		t.Errorf("re-run = %d, want %d", again, id)
	}
}

func TestAddContainerByVirtualPath(t *testing.T) {
	m := NewMemory()
	c := cds.CreateObject(cds.KindContainer)
	c.Title = "Audio"
	c.UpnpClass = "object.container"
	c.Virtual = true
	c.ParentID = cds.RootID

	id1, created, err := m.AddContainer(cds.RootID, "/Audio", c)
	if err != nil || !created {
		t.Fatalf("first AddContainer: %d %v %v", id1, created, err)
	}
	id2, created, err := m.AddContainer(cds.RootID, "/Audio", c.Clone())
	if err != nil || created || id2 != id1 {
		t.Errorf("second AddContainer: %d %v %v", id2, created, err)
	}
}

func TestCheckOverlappingAutoscans(t *testing.T) {
	m := NewMemory()
	if _, err := m.AddAutoscanDirectory(AutoscanRecord{Location: "/media/music", Mode: AutoscanModeTimed}); err != nil {
		t.Fatal(err)
	}
	if err := m.CheckOverlappingAutoscans(AutoscanRecord{Location: "/media/music/rock"}); err == nil {
		t.Error("nested autoscan must be rejected")
	}
	if err := m.CheckOverlappingAutoscans(AutoscanRecord{Location: "/media"}); err == nil {
		t.Error("enclosing autoscan must be rejected")
	}
	if err := m.CheckOverlappingAutoscans(AutoscanRecord{Location: "/other"}); err != nil {
		t.Errorf("disjoint autoscan rejected: %v", err)
	}
}

func TestPlayStatusRoundTrip(t *testing.T) {
	m := NewMemory()
	id := addItem(t, m, cds.FSRootID, "Song", "/m/a.mp3")
	want := PlayStatus{PlayCount: 3, LastPlayed: 1700000000, LastPosition: 42}
	if err := m.SavePlayStatus("g", id, want); err != nil {
		t.Fatal(err)
	}
	got, err := m.GetPlayStatus("g", id)
	if err != nil || got != want {
		t.Errorf("GetPlayStatus = %+v, %v", got, err)
	}
}
