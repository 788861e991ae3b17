package importsvc

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"gitlab.com/mipimipi/cdscore/internal/cds"
	"gitlab.com/mipimipi/cdscore/internal/database"
)

// countingDB wraps Memory to count UpdateObject calls, for the fan-art
// idempotence property.
type countingDB struct {
	*database.Memory
	updates int
}

func (c *countingDB) UpdateObject(obj *cds.Object) (cds.ID, error) {
	c.updates++
	return c.Memory.UpdateObject(obj)
}

func storedContainer(t *testing.T, db database.Database, title string) *cds.Object {
	t.Helper()
	c := cds.CreateObject(cds.KindContainer)
	c.Title = title
	c.UpnpClass = "object.container.storageFolder"
	c.ParentID = cds.FSRootID
	id, _, err := db.AddObject(c)
	if err != nil {
		t.Fatal(err)
	}
	c.ID = id
	return c
}

func donorItem(t *testing.T, db database.Database, title string) *cds.Object {
	t.Helper()
	o := cds.CreateObject(cds.KindItem)
	o.Title = title
	o.UpnpClass = "object.item.audioItem.musicTrack"
	o.Location = "/m/" + title + ".mp3"
	o.ParentID = cds.FSRootID
	thumb := cds.NewResource(cds.HandlerID3, cds.PurposeThumbnail)
	o.AddResource(thumb)
	id, _, err := db.AddObject(o)
	if err != nil {
		t.Fatal(err)
	}
	o.ID = id
	return o
}

func fanArtService(db database.Database) *Service {
	s := New(db, NewMimeMap(), nil, Config{ContainerImageParentCount: 3, ContainerImageMinDepth: 0})
	s.containerMap = map[string]cds.ID{}
	s.containersWithFanArt = map[cds.ID]bool{}
	return s
}

func TestAssignFanArtBorrowsDonorThumbnail(t *testing.T) {
	db := database.NewMemory()
	s := fanArtService(db)
	c := storedContainer(t, db, "album")
	donor := donorItem(t, db, "track")

	s.assignFanArt(c, donor, ItemAudio, true, 1, 2)

	r := c.GetResourceByPurpose(cds.PurposeThumbnail)
	if r == nil {
		t.Fatal("no thumbnail assigned")
	}
	if got := r.Attributes[cds.AttrFanArtObjID]; got != strconv.Itoa(int(donor.ID)) {
		t.Errorf("FANART_OBJ_ID = %q", got)
	}
	if got := r.Attributes[cds.AttrFanArtResID]; got != "0" {
		t.Errorf("FANART_RES_ID = %q", got)
	}
}

func TestAssignFanArtIdempotent(t *testing.T) {
	db := &countingDB{Memory: database.NewMemory()}
	s := fanArtService(db)
	c := storedContainer(t, db, "album")
	donor := donorItem(t, db, "track")

	s.assignFanArt(c, donor, ItemAudio, true, 1, 2)
	first := db.updates
	if first == 0 {
		t.Fatal("initial assignment did not persist")
	}

	s.assignFanArt(c, donor, ItemAudio, true, 1, 2)
	if db.updates != first {
		t.Errorf("re-invocation performed %d extra updates", db.updates-first)
	}

	// even across a fresh run cache, a container already carrying a valid
	// donor reference performs no update
	s.containersWithFanArt = map[cds.ID]bool{}
	s.assignFanArt(c, donor, ItemAudio, true, 1, 2)
	if db.updates != first {
		t.Errorf("fresh-cache re-invocation performed %d extra updates", db.updates-first)
	}
}

func TestAssignFanArtClearsStaleDonor(t *testing.T) {
	db := database.NewMemory()
	s := fanArtService(db)
	c := storedContainer(t, db, "album")

	stale := cds.NewResource(cds.HandlerID3, cds.PurposeThumbnail)
	stale.Attributes[cds.AttrFanArtObjID] = "999"
	c.AddResource(stale)

	s.assignFanArt(c, nil, ItemAudio, false, 1, 2)
	if r := c.GetResourceByPurpose(cds.PurposeThumbnail); r != nil {
		t.Error("stale donor reference survived")
	}
}

func TestAssignFanArtImageDirUsesSidecarOnly(t *testing.T) {
	db := database.NewMemory()
	s := fanArtService(db)
	c := storedContainer(t, db, "photos")
	donor := donorItem(t, db, "pic")

	s.assignFanArt(c, donor, ItemImage, true, 1, 2)
	if c.GetResourceByPurpose(cds.PurposeThumbnail) != nil {
		t.Error("image-dominated directory borrowed an item thumbnail")
	}
}

func TestAssignFanArtSidecarFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "folder.jpg"), []byte("jpg"), 0644); err != nil {
		t.Fatal(err)
	}

	db := database.NewMemory()
	s := fanArtService(db)
	c := storedContainer(t, db, "album")
	c.Location = dir

	s.assignFanArt(c, nil, ItemAudio, true, 1, 2)
	r := c.GetResourceByPurpose(cds.PurposeThumbnail)
	if r == nil {
		t.Fatal("sidecar art not picked up")
	}
	if r.HandlerType != cds.HandlerContainerArt {
		t.Errorf("handler = %v, want container-art", r.HandlerType)
	}
	if got := r.Attributes[cds.AttrResourceFile]; got != filepath.Join(dir, "folder.jpg") {
		t.Errorf("resource file = %q", got)
	}
}
