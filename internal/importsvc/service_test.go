package importsvc

import (
	"os"
	"path/filepath"
	"testing"

	"gitlab.com/mipimipi/cdscore/internal/cds"
	"gitlab.com/mipimipi/cdscore/internal/database"
	"gitlab.com/mipimipi/cdscore/internal/layout"
)

type validTask struct{}

func (validTask) Valid() bool { return true }

// stubMeta injects the tag metadata a real extractor would read from the
// file, so the layout placements can be asserted end to end.
type stubMeta struct{}

func (stubMeta) ExtractMetaData(obj *cds.Object, entry DirEntry) error {
	res := cds.NewResource(cds.HandlerID3, cds.PurposeContent)
	res.Attributes[cds.AttrResourceFile] = entry.Path
	obj.AddResource(res)

	if !obj.IsSubClass("object.item.audioItem") {
		return nil
	}
	obj.Metadata.Set("dc:title", "Song")
	obj.Metadata.Add("upnp:artist", "X")
	obj.Metadata.Set("upnp:album", "Y")
	obj.Metadata.Set("dc:date", "2020-05-01")
	obj.Metadata.Add("upnp:genre", "Rock")
	obj.Metadata.Add("upnp:genre", "Pop")

	thumb := cds.NewResource(cds.HandlerID3, cds.PurposeThumbnail)
	obj.AddResource(thumb)
	return nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func findChild(t *testing.T, db database.Database, parent cds.ID, title string) *cds.Object {
	t.Helper()
	children, err := db.GetObjects(parent, false, true)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range children {
		if c.Title == title {
			return c
		}
	}
	return nil
}

func requireChild(t *testing.T, db database.Database, parent cds.ID, title string) *cds.Object {
	t.Helper()
	c := findChild(t, db, parent, title)
	if c == nil {
		t.Fatalf("container %d has no child titled %q", parent, title)
	}
	return c
}

func newTestService(db database.Database) *Service {
	return New(db, NewMimeMap(), stubMeta{}, Config{DefaultDate: true})
}

func TestDoImportBuildsPhysicalAndVirtualTrees(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "m", "a.mp3"), "not really audio")

	db := database.NewMemory()
	s := newTestService(db)

	toDelete, err := s.DoImport(root, Settings{Recursive: true}, nil, validTask{}, root, cds.FSRootID, layout.NewBuiltin())
	if err != nil {
		t.Fatal(err)
	}
	if len(toDelete) != 0 {
		t.Errorf("fresh import wants to delete %v", toDelete)
	}

	// physical mirror
	item, err := db.FindObjectByPath(filepath.Join(root, "m", "a.mp3"), "", database.FileTypeFile)
	if err != nil {
		t.Fatalf("imported item not in catalog: %v", err)
	}
	if item.UpnpClass != "object.item.audioItem.musicTrack" {
		t.Errorf("item class = %q", item.UpnpClass)
	}
	if _, err := db.FindObjectByPath(filepath.Join(root, "m"), "", database.FileTypeDirectory); err != nil {
		t.Errorf("directory container not in catalog: %v", err)
	}

	// virtual tree: the builtin audio placements
	audio := requireChild(t, db, cds.RootID, "Audio")
	requireChild(t, db, audio.ID, "All Audio")
	artists := requireChild(t, db, audio.ID, "Artists")
	x := requireChild(t, db, artists.ID, "X")
	requireChild(t, db, x.ID, "All Songs")
	album := requireChild(t, db, x.ID, "Y")
	if album.UpnpClass != "object.container.album.musicAlbum" {
		t.Errorf("album class = %q", album.UpnpClass)
	}
	albums := requireChild(t, db, audio.ID, "Albums")
	requireChild(t, db, albums.ID, "Y")
	genres := requireChild(t, db, audio.ID, "Genres")
	requireChild(t, db, genres.ID, "Rock")
	requireChild(t, db, genres.ID, "Pop")
	year := requireChild(t, db, audio.ID, "Year")
	requireChild(t, db, year.ID, "2020")
	dirs := requireChild(t, db, audio.ID, "Directories")
	requireChild(t, db, dirs.ID, "m")
}

func TestDoImportReconcile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.mp3"), "x")

	db := database.NewMemory()
	s := newTestService(db)

	// a child id no longer backed by the filesystem must be flagged for
	// deletion; a still-existing one must not
	if _, err := s.DoImport(root, Settings{Recursive: true}, nil, validTask{}, root, cds.FSRootID, nil); err != nil {
		t.Fatal(err)
	}
	kept, err := db.FindObjectIDByPath(filepath.Join(root, "keep.mp3"), database.FileTypeFile)
	if err != nil {
		t.Fatal(err)
	}

	current := map[cds.ID]bool{kept: true, 999: true}
	toDelete, err := s.DoImport(root, Settings{Recursive: true}, current, validTask{}, root, cds.FSRootID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(toDelete) != 1 || toDelete[0] != 999 {
		t.Errorf("toDelete = %v, want [999]", toDelete)
	}
}

func TestDoImportHonorsNoMediaFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "hidden", ".nomedia"), "")
	writeFile(t, filepath.Join(root, "hidden", "a.mp3"), "x")

	db := database.NewMemory()
	s := newTestService(db)

	if _, err := s.DoImport(root, Settings{Recursive: true, NoMediaFile: ".nomedia"}, nil, validTask{}, root, cds.FSRootID, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := db.FindObjectByPath(filepath.Join(root, "hidden", "a.mp3"), "", database.FileTypeFile); err == nil {
		t.Error("file inside a nomedia directory was imported")
	}
	// the marked directory itself is hidden wholesale, not just its content
	if _, err := db.FindObjectByPath(filepath.Join(root, "hidden"), "", database.FileTypeDirectory); err == nil {
		t.Error("nomedia directory itself was created as a container")
	}
}

func TestDoImportSkipsDotFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".secret.mp3"), "x")
	writeFile(t, filepath.Join(root, "visible.mp3"), "x")

	db := database.NewMemory()
	s := newTestService(db)

	if _, err := s.DoImport(root, Settings{Recursive: true}, nil, validTask{}, root, cds.FSRootID, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := db.FindObjectByPath(filepath.Join(root, ".secret.mp3"), "", database.FileTypeFile); err == nil {
		t.Error("dot file imported without the hidden setting")
	}
	if _, err := db.FindObjectByPath(filepath.Join(root, "visible.mp3"), "", database.FileTypeFile); err != nil {
		t.Errorf("visible file missing: %v", err)
	}
}

func TestTitleForReadableNames(t *testing.T) {
	s := New(database.NewMemory(), NewMimeMap(), nil, Config{ReadableNames: true})
	cases := map[string]string{
		"/m/My_Great_Song.mp3": "My Great Song",
		"/m/_leading.mp3":      "_leading",
		"/m/trailing_.mp3":     "trailing_",
		"/m/ab.mp3":            "ab",
	}
	for path, want := range cases {
		if got := s.titleFor(path, Settings{}); got != want {
			t.Errorf("titleFor(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestAddContainerTreeIdempotent(t *testing.T) {
	db := database.NewMemory()
	s := newTestService(db)
	s.containerMap = map[string]cds.ID{}
	s.containersWithFanArt = map[cds.ID]bool{}

	chain := layout.ContainerChain{Path: []string{"Audio", "Albums", "Y"}}
	var created1 []cds.ID
	id1, err := s.addContainerTree(cds.RootID, chain, nil, &created1)
	if err != nil {
		t.Fatal(err)
	}
	if len(created1) != 3 {
		t.Errorf("first run created %d containers, want 3", len(created1))
	}

	// a re-run resolves the same leaf and creates nothing
	s.containerMap = map[string]cds.ID{} // drop the per-run cache to force db lookups
	var created2 []cds.ID
	id2, err := s.addContainerTree(cds.RootID, chain, nil, &created2)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("re-run resolved a different leaf: %d != %d", id2, id1)
	}
	if len(created2) != 0 {
		t.Errorf("re-run created %d containers, want 0", len(created2))
	}
}

func TestEscapeInVirtualPath(t *testing.T) {
	if got := layout.Escape("AC/DC"); got != `AC\/DC` {
		t.Errorf("Escape(AC/DC) = %q", got)
	}
	if got := layout.Escape("plain"); got != "plain" {
		t.Errorf("Escape(plain) = %q", got)
	}
}

func TestDisambiguateVirtualDirectoryKeys(t *testing.T) {
	db := database.NewMemory()
	s := New(db, NewMimeMap(), nil, Config{
		VirtualDirectoryKeys: [][]string{nil, {"upnp:artist"}},
	})
	s.containerMap = map[string]cds.ID{}
	s.containersWithFanArt = map[cds.ID]bool{}

	ref := cds.CreateObject(cds.KindItem)
	ref.Title = "t"
	ref.UpnpClass = "object.item.audioItem.musicTrack"
	ref.Metadata.Add("upnp:artist", "X")

	if got := s.disambiguate("Greatest Hits", ref, 1); got != "Greatest Hits@X" {
		t.Errorf("disambiguate = %q", got)
	}
	if got := s.disambiguate("Albums", ref, 0); got != "Albums" {
		t.Errorf("level without keys must pass through, got %q", got)
	}
}
