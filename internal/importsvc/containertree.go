package importsvc

import (
	"strings"

	"gitlab.com/mipimipi/cdscore/internal/cds"
	"gitlab.com/mipimipi/cdscore/internal/layout"
)

// addContainerTree walks chain, a path through the virtual tree (e.g.
// ["Audio","Artists","X","Album"]), creating any missing level and
// returning the deepest (leaf) container's id.
func (s *Service) addContainerTree(parentID cds.ID, chain layout.ContainerChain, refItem *cds.Object, createdIDs *[]cds.ID) (cds.ID, error) {
	var virtualPath strings.Builder
	cur := parentID
	var curMTime int64
	if refItem != nil {
		curMTime = refItem.MTime
	}

	for i, title := range chain.Path {
		escaped := layout.Escape(title)
		escaped = s.applyLayoutMapping(escaped)
		escaped = s.disambiguate(escaped, refItem, i)

		virtualPath.WriteByte('/')
		virtualPath.WriteString(escaped)
		vp := virtualPath.String()

		if id, ok := s.containerMap[vp]; ok {
			cur = id
			continue
		}

		class := "object.container.storageFolder"
		if i == len(chain.Path)-1 && chain.UpnpClass != "" {
			class = chain.UpnpClass
		}
		c := cds.CreateObject(cds.KindContainer)
		c.Title = title
		c.UpnpClass = class
		c.Virtual = true
		c.ParentID = cur
		if refItem != nil {
			c.MTime = curMTime
		}

		id, created, err := s.db.AddContainer(cur, vp, c)
		if err != nil {
			return cds.InvalidID, err
		}
		s.containerMap[vp] = id
		if created {
			*createdIDs = append(*createdIDs, id)
		}
		cur = id

		loaded, err := s.db.LoadObject(id)
		if err == nil {
			s.assignFanArt(loaded, refItem, ItemUnknown, false, i+1, i+1)
		}
	}
	return cur, nil
}

// applyLayoutMapping applies every configured IMPORT_LAYOUT_MAPPING regex
// substitution to a single virtual-path segment, in configured order.
func (s *Service) applyLayoutMapping(segment string) string {
	for _, m := range s.cfg.LayoutMapping {
		if m.Pattern == nil {
			continue
		}
		if m.Pattern.MatchString(segment) {
			segment = m.Pattern.ReplaceAllString(segment, m.Replacement)
		}
	}
	return segment
}

// disambiguate appends configured "virtual directory key" tag values with
// '@' so e.g. two albums both titled "Greatest Hits" by different artists
// don't collapse into one virtual container.
func (s *Service) disambiguate(segment string, refItem *cds.Object, level int) string {
	if refItem == nil || level >= len(s.cfg.VirtualDirectoryKeys) {
		return segment
	}
	keys := s.cfg.VirtualDirectoryKeys[level]
	if len(keys) == 0 {
		return segment
	}
	var b strings.Builder
	b.WriteString(segment)
	for _, k := range keys {
		var v string
		if k == "LOCATION" {
			v = refItem.Location
		} else {
			v = refItem.Metadata.Get(k)
		}
		if v != "" {
			b.WriteByte('@')
			b.WriteString(v)
		}
	}
	return b.String()
}

// fillLayout hands every item marked Created to the layout engine and
// realizes every returned placement via addContainerTree plus a ref copy
// insert. Playlist items are delegated to the playlist parser instead.
func (s *Service) fillLayout(lay layout.Layout, rootPath string) error {
	refObjects := layout.RefObjects{}
	for _, st := range s.cache.Entries() {
		if st.State != StateCreated || st.Object == nil || !st.Object.IsItem() {
			continue
		}
		obj := st.Object
		contentType := contentTypeOf(obj)

		if contentType == "playlist" {
			if s.playlists != nil {
				if err := s.importPlaylist(obj); err != nil {
					continue
				}
				st.setState(StateWithLayout)
			}
			continue
		}

		res, err := lay.ProcessCdsObject(obj, st.ParentObject, rootPath, contentType, nil, refObjects)
		if err != nil {
			// a layout failure for one object never blocks siblings
			continue
		}

		var createdIDs []cds.ID
		for _, p := range res.Placements {
			leafID, err := s.addContainerTree(cds.RootID, p.Chain, obj, &createdIDs)
			if err != nil {
				continue
			}
			if err := s.addRefCopy(obj, leafID, p.RefTitle); err != nil {
				continue
			}
		}
		st.setState(StateWithLayout)
	}
	return nil
}

func contentTypeOf(obj *cds.Object) string {
	switch {
	case obj.IsSubClass("object.item.playlistItem"):
		return "playlist"
	case obj.Item != nil && strings.Contains(obj.Item.MimeType, "ogg"):
		return "ogg"
	default:
		return ""
	}
}

// addRefCopy inserts a virtual reference copy of obj under parentID, with
// refTitle overriding the title when non-empty (the builtin layout's
// "full name" placements).
func (s *Service) addRefCopy(obj *cds.Object, parentID cds.ID, refTitle string) error {
	ref := obj.Clone()
	ref.ID = cds.InvalidID
	ref.ParentID = parentID
	ref.RefID = obj.ID
	ref.Virtual = true
	ref.SetFlag(cds.FlagUseResourceRef)
	if refTitle != "" {
		ref.Title = refTitle
	}
	id, _, err := s.db.AddObject(ref)
	if err != nil {
		return err
	}
	ref.ID = id
	return nil
}
