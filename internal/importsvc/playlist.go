package importsvc

import (
	"path/filepath"
	"strings"

	"gitlab.com/mipimipi/cdscore/internal/cds"
	"gitlab.com/mipimipi/cdscore/internal/database"
	"gitlab.com/mipimipi/cdscore/internal/layout"
)

// PlaylistEntry is one resolved playlist line handed back by the external
// playlist parser.
type PlaylistEntry struct {
	Path  string
	Title string
}

// PlaylistParser is the external collaborator playlist items are delegated
// to instead of the layout engine.
type PlaylistParser interface {
	Parse(path string) ([]PlaylistEntry, error)
}

// SetPlaylistParser wires the playlist collaborator; without one, playlist
// items are imported as plain items but produce no virtual playlist tree.
func (s *Service) SetPlaylistParser(p PlaylistParser) { s.playlists = p }

// importPlaylist realizes a playlist item as a virtual container under
// /Playlists whose children are reference copies of the resolved tracks.
// Remote entries become external items; local entries that are not (yet) in
// the catalog are skipped rather than imported out of band.
func (s *Service) importPlaylist(obj *cds.Object) error {
	entries, err := s.playlists.Parse(obj.Location)
	if err != nil {
		return err
	}

	name := strings.TrimSuffix(filepath.Base(obj.Location), filepath.Ext(obj.Location))
	var createdIDs []cds.ID
	listID, err := s.addContainerTree(cds.RootID, layout.ContainerChain{
		Path:      []string{"Playlists", name},
		UpnpClass: "object.container.playlistContainer",
	}, obj, &createdIDs)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if strings.HasPrefix(entry.Path, "http://") || strings.HasPrefix(entry.Path, "https://") {
			ext := cds.CreateObject(cds.KindExternalItem)
			ext.Title = entry.Title
			if ext.Title == "" {
				ext.Title = filepath.Base(entry.Path)
			}
			ext.Location = entry.Path
			ext.UpnpClass = "object.item.audioItem.musicTrack"
			ext.ParentID = listID
			ext.Virtual = true
			ext.SetFlag(cds.FlagPlaylistRef)
			if _, _, err := s.db.AddObject(ext); err != nil {
				continue
			}
			continue
		}

		target, err := s.db.FindObjectByPath(entry.Path, "", database.FileTypeFile)
		if err != nil {
			continue
		}
		ref := target.Clone()
		ref.ID = cds.InvalidID
		ref.ParentID = listID
		ref.RefID = target.ID
		ref.Virtual = true
		ref.SetFlag(cds.FlagUseResourceRef | cds.FlagPlaylistRef)
		if entry.Title != "" {
			ref.Title = entry.Title
		}
		if _, _, err := s.db.AddObject(ref); err != nil {
			continue
		}
	}
	return nil
}
