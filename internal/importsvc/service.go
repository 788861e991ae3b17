package importsvc

import (
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"gitlab.com/mipimipi/cdscore/internal/cds"
	"gitlab.com/mipimipi/cdscore/internal/database"
	"gitlab.com/mipimipi/cdscore/internal/layout"
)

// MetadataService extracts tags/embedded art from a file into an object's
// metadata and resources. The core only depends on this narrow interface;
// the concrete extractors are pluggable.
type MetadataService interface {
	ExtractMetaData(obj *cds.Object, entry DirEntry) error
}

// Task is the narrow view of the enclosing task.Task the import pipeline
// polls for cooperative cancellation at directory-entry boundaries.
type Task interface {
	Valid() bool
}

// Config bundles the import options the service consults during a run.
type Config struct {
	ReadableNames             bool // underscores -> spaces in stems derived from filenames
	DefaultDate               bool // append a synthesized dc:date from mtime when extraction found none
	ContainerImageParentCount int
	ContainerImageMinDepth    int
	VirtualDirectoryKeys      [][]string // each inner list: metadata fields (or "LOCATION") to append with '@' for disambiguation
	LayoutMapping             []LayoutRegex
}

// LayoutRegex is one configured layout-mapping substitution applied to a
// virtual path segment before it's looked up/created. Patterns use the
// standard library's RE2 syntax.
type LayoutRegex struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// Service runs the import pipeline.
type Service struct {
	db      database.Database
	mimeMap *MimeMap
	meta    MetadataService
	cfg     Config

	playlists PlaylistParser

	cache                *Cache
	containerMap         map[string]cds.ID // per-run cache, read-through against the database
	containersWithFanArt map[cds.ID]bool
}

// New builds a Service.
func New(db database.Database, mimeMap *MimeMap, meta MetadataService, cfg Config) *Service {
	return &Service{db: db, mimeMap: mimeMap, meta: meta, cfg: cfg, cache: NewCache()}
}

// DoImport runs the full pipeline against location and returns the set of
// pre-existing child ids (from currentContent) that should now be deleted,
// i.e. currentContent minus every id still reachable through an Existing
// state entry.
func (s *Service) DoImport(location string, settings Settings, currentContent map[cds.ID]bool, task Task, rootPath string, parentContainerID cds.ID, lay layout.Layout) (toDelete []cds.ID, err error) {
	s.cache.Reset()
	s.containerMap = map[string]cds.ID{}
	s.containersWithFanArt = map[cds.ID]bool{}

	st := s.cache.Get(location)
	isDirTop := false
	if fi, statErr := stat(location); statErr == nil {
		isDirTop = fi.isDir
		st.Entry = DirEntry{Path: location, IsDir: fi.isDir, MTime: fi.mtime, Size: fi.size}
		st.MTime = fi.mtime
	}
	st.setState(StateNew)

	if isDirTop {
		if err := s.readDir(location, settings); err != nil {
			return nil, err
		}
	} else {
		if err := s.readFile(location, rootPath, settings); err != nil {
			return nil, err
		}
	}

	s.removeHidden(settings)

	if err := s.createContainers(parentContainerID, rootPath, task); err != nil {
		return nil, err
	}
	if err := s.createItems(settings, rootPath, task); err != nil {
		return nil, err
	}
	s.updateFanArt()
	if lay != nil {
		if err := s.fillLayout(lay, rootPath); err != nil {
			return nil, err
		}
	}

	return s.reconcile(currentContent), nil
}

// reconcile removes every id still referenced through an Existing cache
// entry from currentContent; whatever remains must be deleted.
func (s *Service) reconcile(currentContent map[cds.ID]bool) []cds.ID {
	remaining := map[cds.ID]bool{}
	for id, v := range currentContent {
		remaining[id] = v
	}
	for _, st := range s.cache.Entries() {
		if st.State == StateExisting && st.Object != nil {
			delete(remaining, st.Object.ID)
		}
	}
	out := make([]cds.ID, 0, len(remaining))
	for id := range remaining {
		out = append(out, id)
	}
	return out
}

// createContainers finds every cached directory in the database by path or
// creates it as a new physical storageFolder container.
func (s *Service) createContainers(parentContainerID cds.ID, rootPath string, task Task) error {
	for path, st := range s.cache.Entries() {
		if !task.Valid() {
			return cds.ErrShutdownRequested
		}
		if !st.Entry.IsDir || st.State == StateBroken {
			continue
		}

		existing, err := s.db.FindObjectByPath(path, "", database.FileTypeDirectory)
		if err != nil {
			if !isNotFound(err) {
				return err
			}
			existing = nil
		}

		if existing != nil {
			if st.Entry.MTime > existing.MTime {
				existing.MTime = st.Entry.MTime
				if _, err := s.db.UpdateObject(existing); err != nil {
					return err
				}
			}
			st.Object = existing
			st.setState(StateExisting)
			continue
		}

		parentID, err := s.resolveParentContainer(path, parentContainerID)
		if err != nil {
			return err
		}

		c := cds.CreateObject(cds.KindContainer)
		c.Title = filepath.Base(path)
		c.UpnpClass = "object.container.storageFolder"
		c.Location = path
		c.ParentID = parentID
		c.MTime = st.Entry.MTime

		id, _, err := s.db.AddObject(c)
		if err != nil {
			return err
		}
		c.ID = id
		st.Object = c
		st.setState(StateCreated)
	}
	return nil
}

func (s *Service) resolveParentContainer(path string, fallback cds.ID) (cds.ID, error) {
	parentPath := filepath.Dir(path)
	if st, ok := s.cache.Entries()[parentPath]; ok && st.Object != nil {
		return st.Object.ID, nil
	}
	return fallback, nil
}

func isNotFound(err error) bool {
	_, ok := err.(*cds.NotFoundError)
	return ok
}

// createItems classifies and inserts/updates every cached file.
func (s *Service) createItems(settings Settings, rootPath string, task Task) error {
	for path, st := range s.cache.Entries() {
		if !task.Valid() {
			return cds.ErrShutdownRequested
		}
		if st.Entry.IsDir || st.State == StateBroken {
			continue
		}

		mimeType := s.guessMime(path)

		existing, err := s.db.FindObjectByPath(path, "", database.FileTypeFile)
		if err != nil && !isNotFound(err) {
			return err
		}

		var obj *cds.Object
		if existing != nil && (st.Entry.MTime != existing.MTime || path != existing.Location || settings.ForceRescan) {
			obj = existing
			obj.Metadata.Clear()
			obj.AuxData = cds.AuxData{}
			obj.Resources = nil
			obj.Title = s.titleFor(path, settings)
			obj.Location = path
			obj.MTime = st.Entry.MTime
			// reclassify before extraction: the stored class may be stale
			// when the file's mime type changed since the previous scan,
			// and the extractor gates on it
			obj.UpnpClass = s.mimeMap.UpnpClassFor(mimeType, obj)
			if s.meta != nil {
				if err := s.meta.ExtractMetaData(obj, st.Entry); err != nil {
					s.wrapBroken(path, err)
					continue
				}
			}
			s.updateItemData(obj, mimeType)
			if _, err := s.db.UpdateObject(obj); err != nil {
				return err
			}
			st.setState(StateExisting)
		} else if existing != nil {
			obj = existing
			st.setState(StateExisting)
		} else {
			obj = cds.CreateObject(cds.KindItem)
			obj.Title = s.titleFor(path, settings)
			obj.Location = path
			obj.MTime = st.Entry.MTime
			obj.Item.MimeType = mimeType
			obj.UpnpClass = s.mimeMap.UpnpClassFor(mimeType, obj)

			parentID, err := s.resolveParentContainer(path, cds.InvalidID)
			if err != nil {
				return err
			}
			obj.ParentID = parentID

			if s.meta != nil {
				if err := s.meta.ExtractMetaData(obj, st.Entry); err != nil {
					s.wrapBroken(path, err)
					continue
				}
			}
			s.updateItemData(obj, mimeType)

			id, _, err := s.db.AddObject(obj)
			if err != nil {
				return err
			}
			obj.ID = id
			st.setState(StateCreated)
		}

		st.Object = obj
		s.bookkeep(path, obj)
	}
	return nil
}

func (s *Service) guessMime(path string) string {
	if mt := mime.TypeByExtension(filepath.Ext(path)); mt != "" {
		return mt
	}
	if mt, err := mimetype.DetectFile(path); err == nil {
		return mt.String()
	}
	return "application/octet-stream"
}

// titleFor derives a display title from a filename, optionally converting
// underscores to spaces in "readable names" mode (never at the first or
// last character of the stem).
func (s *Service) titleFor(path string, settings Settings) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if !s.cfg.ReadableNames {
		return filepath.Base(path)
	}
	if len(stem) < 3 {
		return stem
	}
	runes := []rune(stem)
	for i := 1; i < len(runes)-1; i++ {
		if runes[i] == '_' {
			runes[i] = ' '
		}
	}
	return string(runes)
}

// updateItemData appends a default dc:date derived from mtime (when no date
// was extracted and DefaultDate is enabled) and reapplies the upnpMap
// classification, since some filter predicates depend on metadata the
// extractor just populated.
func (s *Service) updateItemData(obj *cds.Object, mimeType string) {
	if s.cfg.DefaultDate && obj.Metadata.Get("dc:date") == "" {
		obj.Metadata.Add("dc:date", time.Unix(obj.MTime, 0).UTC().Format("2006-01-02"))
	}
	obj.UpnpClass = s.mimeMap.UpnpClassFor(mimeType, obj)
}

func (s *Service) bookkeep(path string, obj *cds.Object) {
	dir := filepath.Dir(path)
	dst, ok := s.cache.Entries()[dir]
	if !ok {
		return
	}
	dst.ItemCounter[itemTypeOf(obj)]++
	if dst.FirstObject == nil {
		dst.FirstObject = obj
	}
	if dst.Object != nil && obj.MTime > dst.Object.MTime {
		dst.Object.MTime = obj.MTime
	}
}

func itemTypeOf(obj *cds.Object) ItemType {
	switch {
	case obj.IsSubClass("object.item.audioItem"):
		return ItemAudio
	case obj.IsSubClass("object.item.videoItem"):
		return ItemVideo
	case obj.IsSubClass("object.item.imageItem"):
		return ItemImage
	case obj.IsSubClass("object.item.playlistItem"):
		return ItemPlaylist
	default:
		return ItemUnknown
	}
}

// dominantMode returns the media type that should drive a container's
// derived class/icon: any type with 4 or more items overrides "Mixed".
func dominantMode(counter map[ItemType]int) (ItemType, bool) {
	for t, n := range counter {
		if n >= 4 {
			return t, true
		}
	}
	return ItemUnknown, false
}
