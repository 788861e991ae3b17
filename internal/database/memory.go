package database

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gitlab.com/mipimipi/cdscore/internal/cds"
)

// Memory is an in-process Database implementation. It backs the server when
// no SQL engine is wired in and gives tests a real substrate; nothing is
// persisted across restarts.
type Memory struct {
	mu sync.Mutex

	objects  map[cds.ID]*cds.Object
	children map[cds.ID][]cds.ID
	byPath   map[string]cds.ID
	byVPath  map[string]cds.ID // virtual container path -> id
	nextID   cds.ID

	updateIDs map[cds.ID]int

	autoscans  map[int]AutoscanRecord
	nextDBID   int
	playStatus map[string]PlayStatus
}

// NewMemory builds a Memory database seeded with the root and filesystem
// root containers.
func NewMemory() *Memory {
	m := &Memory{
		objects:    map[cds.ID]*cds.Object{},
		children:   map[cds.ID][]cds.ID{},
		byPath:     map[string]cds.ID{},
		byVPath:    map[string]cds.ID{},
		updateIDs:  map[cds.ID]int{},
		autoscans:  map[int]AutoscanRecord{},
		playStatus: map[string]PlayStatus{},
		nextID:     cds.FSRootID + 1,
	}

	root := cds.CreateObject(cds.KindContainer)
	root.ID = cds.RootID
	root.ParentID = cds.InvalidID
	root.Title = "Root"
	root.UpnpClass = "object.container"
	m.objects[cds.RootID] = root

	fsRoot := cds.CreateObject(cds.KindContainer)
	fsRoot.ID = cds.FSRootID
	fsRoot.ParentID = cds.RootID
	fsRoot.Title = "PC Directory"
	fsRoot.UpnpClass = "object.container.storageFolder"
	m.objects[cds.FSRootID] = fsRoot
	m.children[cds.RootID] = []cds.ID{cds.FSRootID}

	return m
}

// AddObject inserts obj, assigns its id and returns the parent container
// whose child set changed.
func (m *Memory) AddObject(obj *cds.Object) (cds.ID, cds.ID, error) {
	if err := obj.Validate(); err != nil {
		return cds.InvalidID, cds.InvalidID, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	stored := obj.Clone()
	stored.ID = id
	m.objects[id] = stored
	m.children[stored.ParentID] = append(m.children[stored.ParentID], id)
	if stored.Location != "" && !stored.Virtual && !stored.IsExternalItem() {
		m.byPath[stored.Location] = id
	}
	m.bumpChildCountLocked(stored.ParentID)
	return id, stored.ParentID, nil
}

// AddContainer inserts container under parentID unless the virtual path is
// already known, returning the (existing or new) id and whether a create
// happened.
func (m *Memory) AddContainer(parentID cds.ID, virtualPath string, container *cds.Object) (cds.ID, bool, error) {
	m.mu.Lock()
	if id, ok := m.byVPath[virtualPath]; ok {
		m.mu.Unlock()
		return id, false, nil
	}
	m.mu.Unlock()

	id, _, err := m.AddObject(container)
	if err != nil {
		return cds.InvalidID, false, err
	}
	m.mu.Lock()
	m.byVPath[virtualPath] = id
	m.mu.Unlock()
	return id, true, nil
}

// UpdateObject replaces the stored object and reports its parent as
// affected.
func (m *Memory) UpdateObject(obj *cds.Object) (cds.ID, error) {
	if err := obj.Validate(); err != nil {
		return cds.InvalidID, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.objects[obj.ID]
	if !ok {
		return cds.InvalidID, cds.NewNotFoundError("object", fmt.Sprint(obj.ID))
	}
	if old.Location != "" && old.Location != obj.Location {
		delete(m.byPath, old.Location)
	}
	stored := obj.Clone()
	m.objects[obj.ID] = stored
	if stored.Location != "" && !stored.Virtual && !stored.IsExternalItem() {
		m.byPath[stored.Location] = obj.ID
	}
	return stored.ParentID, nil
}

// RemoveObject deletes id; all cascades to every descendant. The returned
// sets drive the UI (every touched ancestor) and UPnP (parents whose child
// lists changed) eventing paths.
func (m *Memory) RemoveObject(id cds.ID, path string, all bool) (ChangedContainers, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked([]cds.ID{id}, all)
}

// RemoveObjects deletes every id in ids with subtree cascade.
func (m *Memory) RemoveObjects(ids []cds.ID) (ChangedContainers, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(ids, true)
}

func (m *Memory) removeLocked(ids []cds.ID, all bool) (ChangedContainers, error) {
	var changed ChangedContainers
	seenUI := map[cds.ID]bool{}
	seenUPnP := map[cds.ID]bool{}

	var drop func(id cds.ID)
	drop = func(id cds.ID) {
		obj, ok := m.objects[id]
		if !ok {
			return
		}
		for _, child := range append([]cds.ID{}, m.children[id]...) {
			drop(child)
		}
		delete(m.children, id)
		delete(m.objects, id)
		if obj.Location != "" {
			delete(m.byPath, obj.Location)
		}
		for vp, vid := range m.byVPath {
			if vid == id {
				delete(m.byVPath, vp)
			}
		}
		// unlink from parent
		siblings := m.children[obj.ParentID]
		for i, sib := range siblings {
			if sib == id {
				m.children[obj.ParentID] = append(siblings[:i], siblings[i+1:]...)
				break
			}
		}
		m.bumpChildCountLocked(obj.ParentID)
		if !seenUPnP[obj.ParentID] {
			seenUPnP[obj.ParentID] = true
			changed.UPnP = append(changed.UPnP, obj.ParentID)
		}
		for p := obj.ParentID; p != cds.InvalidID; {
			if !seenUI[p] {
				seenUI[p] = true
				changed.UI = append(changed.UI, p)
			}
			parent, ok := m.objects[p]
			if !ok {
				break
			}
			p = parent.ParentID
		}
	}

	for _, id := range ids {
		if !all {
			if obj, ok := m.objects[id]; ok && obj.IsContainer() && len(m.children[id]) > 0 {
				continue
			}
		}
		drop(id)
	}
	return changed, nil
}

func (m *Memory) bumpChildCountLocked(id cds.ID) {
	if c, ok := m.objects[id]; ok && c.Container != nil {
		c.Container.ChildCount = len(m.children[id])
	}
}

// LoadObject returns a copy of the object with the given id.
func (m *Memory) LoadObject(id cds.ID) (*cds.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[id]
	if !ok {
		return nil, cds.NewNotFoundError("object", fmt.Sprint(id))
	}
	return obj.Clone(), nil
}

// LoadObjectByServiceID resolves an item by its online-service id.
func (m *Memory) LoadObjectByServiceID(serviceID, group string) (*cds.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, obj := range m.objects {
		if obj.Item != nil && obj.Item.ServiceID == serviceID {
			return obj.Clone(), nil
		}
	}
	return nil, cds.NewNotFoundError("object", serviceID)
}

// FindObjectByPath resolves a filesystem path to its non-virtual object.
func (m *Memory) FindObjectByPath(path string, group string, fileType FileType) (*cds.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byPath[path]
	if !ok {
		return nil, cds.NewNotFoundError("object by path", path)
	}
	obj := m.objects[id]
	if fileType == FileTypeDirectory && !obj.IsContainer() {
		return nil, cds.NewNotFoundError("directory by path", path)
	}
	if fileType == FileTypeFile && obj.IsContainer() {
		return nil, cds.NewNotFoundError("file by path", path)
	}
	return obj.Clone(), nil
}

// FindObjectIDByPath is FindObjectByPath returning only the id.
func (m *Memory) FindObjectIDByPath(path string, fileType FileType) (cds.ID, error) {
	obj, err := m.FindObjectByPath(path, "", fileType)
	if err != nil {
		return cds.InvalidID, err
	}
	return obj.ID, nil
}

// GetChildCount counts id's children, optionally filtered by kind.
func (m *Memory) GetChildCount(id cds.ID, includeContainers, includeItems, hideFSRoot bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, child := range m.children[id] {
		obj := m.objects[child]
		if hideFSRoot && child == cds.FSRootID {
			continue
		}
		if obj.IsContainer() && !includeContainers {
			continue
		}
		if obj.IsItem() && !includeItems {
			continue
		}
		count++
	}
	return count, nil
}

// GetObjects returns parentID's children, sorted by sort priority then
// title, containers first.
func (m *Memory) GetObjects(parentID cds.ID, withoutContainer bool, full bool) ([]*cds.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*cds.Object
	for _, child := range m.children[parentID] {
		obj := m.objects[child]
		if withoutContainer && obj.IsContainer() {
			continue
		}
		out = append(out, obj.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsContainer() != out[j].IsContainer() {
			return out[i].IsContainer()
		}
		if out[i].SortPriority != out[j].SortPriority {
			return out[i].SortPriority > out[j].SortPriority
		}
		return out[i].Title < out[j].Title
	})
	return out, nil
}

// GetRefObjects returns the ids of every virtual copy referencing id.
func (m *Memory) GetRefObjects(id cds.ID) ([]cds.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []cds.ID
	for oid, obj := range m.objects {
		if obj.RefID == id {
			out = append(out, oid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// IncrementUpdateIDs bumps the update id of every container in ids and
// returns the UPnP CSV wire form "id1,updId1,id2,updId2,...".
func (m *Memory) IncrementUpdateIDs(ids map[cds.ID]struct{}) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ordered := make([]cds.ID, 0, len(ids))
	for id := range ids {
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	var parts []string
	for _, id := range ordered {
		obj, ok := m.objects[id]
		if !ok {
			continue
		}
		m.updateIDs[id]++
		if obj.Container != nil {
			obj.Container.UpdateID = m.updateIDs[id]
		}
		parts = append(parts, fmt.Sprintf("%d,%d", int32(id), m.updateIDs[id]))
	}
	return strings.Join(parts, ","), nil
}

// GetAutoscanList returns the persisted autoscans for mode.
func (m *Memory) GetAutoscanList(mode AutoscanMode) ([]AutoscanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AutoscanRecord
	for _, rec := range m.autoscans {
		if rec.Mode == mode {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DatabaseID < out[j].DatabaseID })
	return out, nil
}

// AddAutoscanDirectory persists rec and assigns its database id.
func (m *Memory) AddAutoscanDirectory(rec AutoscanRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextDBID++
	rec.DatabaseID = m.nextDBID
	m.autoscans[rec.DatabaseID] = rec
	return rec.DatabaseID, nil
}

// UpdateAutoscanDirectory replaces the stored record.
func (m *Memory) UpdateAutoscanDirectory(rec AutoscanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.autoscans[rec.DatabaseID]; !ok {
		return cds.NewNotFoundError("autoscan", fmt.Sprint(rec.DatabaseID))
	}
	m.autoscans[rec.DatabaseID] = rec
	return nil
}

// RemoveAutoscanDirectory drops the stored record.
func (m *Memory) RemoveAutoscanDirectory(databaseID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.autoscans, databaseID)
	return nil
}

// GetAutoscanDirectory looks up the autoscan whose location matches the
// object with the given id.
func (m *Memory) GetAutoscanDirectory(objectID cds.ID) (AutoscanRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[objectID]
	if !ok {
		return AutoscanRecord{}, false, nil
	}
	for _, rec := range m.autoscans {
		if rec.Location == obj.Location {
			return rec, true, nil
		}
	}
	return AutoscanRecord{}, false, nil
}

// CheckOverlappingAutoscans rejects rec when its location overlaps an
// already persisted autoscan's subtree.
func (m *Memory) CheckOverlappingAutoscans(rec AutoscanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.autoscans {
		if other.DatabaseID == rec.DatabaseID {
			continue
		}
		if other.Location == rec.Location ||
			strings.HasPrefix(rec.Location, other.Location+"/") ||
			strings.HasPrefix(other.Location, rec.Location+"/") {
			return &cds.OverlappingAutoscanError{Location: rec.Location, Existing: other.Location}
		}
	}
	return nil
}

// EnsurePathExistence walks path from the filesystem root, creating any
// missing storage-folder containers along the way.
func (m *Memory) EnsurePathExistence(path string) (cds.ID, cds.ID, error) {
	m.mu.Lock()
	if id, ok := m.byPath[path]; ok {
		m.mu.Unlock()
		return id, cds.InvalidID, nil
	}
	m.mu.Unlock()

	parent := cds.FSRootID
	affected := cds.InvalidID
	cur := ""
	for _, seg := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
		if seg == "" {
			continue
		}
		cur = cur + "/" + seg
		m.mu.Lock()
		id, ok := m.byPath[cur]
		m.mu.Unlock()
		if ok {
			parent = id
			continue
		}
		c := cds.CreateObject(cds.KindContainer)
		c.Title = filepath.Base(cur)
		c.UpnpClass = "object.container.storageFolder"
		c.Location = cur
		c.ParentID = parent
		id, aff, err := m.AddObject(c)
		if err != nil {
			return cds.InvalidID, cds.InvalidID, err
		}
		parent = id
		affected = aff
	}
	return parent, affected, nil
}

// SavePlayStatus persists the playback bookkeeping for (group, id).
func (m *Memory) SavePlayStatus(group string, id cds.ID, status PlayStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playStatus[playStatusKey(group, id)] = status
	return nil
}

// GetPlayStatus returns the stored playback bookkeeping for (group, id).
func (m *Memory) GetPlayStatus(group string, id cds.ID) (PlayStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playStatus[playStatusKey(group, id)], nil
}

func playStatusKey(group string, id cds.ID) string {
	return fmt.Sprintf("%s/%d", group, int32(id))
}
