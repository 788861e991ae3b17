package autoscan

import (
	"testing"

	"gitlab.com/mipimipi/cdscore/internal/cds"
)

func TestAddAssignsScanIDs(t *testing.T) {
	r := NewRegistry()
	a := NewDirectory("/music", ModeTimed)
	b := NewDirectory("/video", ModeINotify)
	if err := r.Add(a, SentinelIndex); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(b, SentinelIndex); err != nil {
		t.Fatal(err)
	}
	if a.ScanID == b.ScanID {
		t.Error("scan ids must be unique")
	}
	if got, ok := r.Get(b.ScanID); !ok || got != b {
		t.Error("Get by scan id failed")
	}
}

func TestAddRejectsDuplicateLocation(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(NewDirectory("/music", ModeTimed), SentinelIndex); err != nil {
		t.Fatal(err)
	}
	err := r.Add(NewDirectory("/music", ModeINotify), SentinelIndex)
	if _, ok := err.(*cds.DuplicateAutoscanError); !ok {
		t.Errorf("duplicate location: got %v, want DuplicateAutoscanError", err)
	}
}

func TestAddAtIndexMarksPersistent(t *testing.T) {
	r := NewRegistry()
	d := NewDirectory("/music", ModeTimed)
	d.ScanID = 5
	if err := r.Add(d, 0); err != nil {
		t.Fatal(err)
	}
	if !d.Persistent {
		t.Error("install-at-index must mark the entry persistent")
	}
	// fresh ids must not collide with the reloaded one
	next := NewDirectory("/video", ModeTimed)
	if err := r.Add(next, SentinelIndex); err != nil {
		t.Fatal(err)
	}
	if next.ScanID <= 5 {
		t.Errorf("fresh scan id %d collides with reloaded id 5", next.ScanID)
	}
}

func TestRemoveIfSubdir(t *testing.T) {
	r := NewRegistry()
	a := NewDirectory("/media/music", ModeTimed)
	b := NewDirectory("/media/video", ModeTimed)
	c := NewDirectory("/other", ModeTimed)
	for _, d := range []*Directory{a, b, c} {
		if err := r.Add(d, SentinelIndex); err != nil {
			t.Fatal(err)
		}
	}

	removed := r.RemoveIfSubdir("/media", false)
	if len(removed) != 2 {
		t.Fatalf("removed %d entries, want 2", len(removed))
	}
	if _, ok := r.Get(a.ScanID); ok {
		t.Error("removed entry still resolvable by scan id")
	}
	if _, ok := r.Get(c.ScanID); !ok {
		t.Error("unrelated entry was removed")
	}
}

func TestRemoveIfSubdirSkipsPersistent(t *testing.T) {
	r := NewRegistry()
	p := NewDirectory("/media/music", ModeINotify)
	p.Persistent = true
	if err := r.Add(p, SentinelIndex); err != nil {
		t.Fatal(err)
	}

	if removed := r.RemoveIfSubdir("/media", false); len(removed) != 0 {
		t.Error("persistent entry removed without includePersistent")
	}
	// the location-equals-parent boundary follows the same branch
	if removed := r.RemoveIfSubdir("/media/music", false); len(removed) != 0 {
		t.Error("persistent entry at exactly the removed path must be skipped")
	}
	if removed := r.RemoveIfSubdir("/media", true); len(removed) != 1 {
		t.Error("includePersistent must remove persistent entries")
	}
}

func TestCheckOverlapping(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(NewDirectory("/media/music", ModeTimed), SentinelIndex); err != nil {
		t.Fatal(err)
	}
	for _, loc := range []string{"/media/music", "/media/music/rock", "/media"} {
		if err := r.CheckOverlapping(loc); err == nil {
			t.Errorf("CheckOverlapping(%q) = nil, want error", loc)
		}
	}
	if err := r.CheckOverlapping("/media/musica"); err != nil {
		t.Errorf("sibling with shared name prefix must not overlap: %v", err)
	}
}
