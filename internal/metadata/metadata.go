// Package metadata implements the metadata service the import pipeline
// calls for every discovered file: audio tag extraction, embedded cover art
// handling and playlist parsing.
package metadata

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/dhowden/tag"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	l "github.com/sirupsen/logrus"

	"gitlab.com/mipimipi/cdscore/internal/cds"
	"gitlab.com/mipimipi/cdscore/internal/importsvc"
)

var log *l.Entry = l.WithFields(l.Fields{"pkg": "metadata"})

// thumbnail edge length in pixels; DLNA JPEG_TN allows up to 160x160
const thumbnailSize = 160

// Service extracts tags and cover art from media files. Extracted art is
// resized once and cached in memory, keyed by an id the HTTP layer uses to
// serve it.
type Service struct {
	// CaseSensitiveTags controls whether multi-valued tags (genres) that
	// differ only in case are kept apart or folded together.
	CaseSensitiveTags bool

	mu       sync.Mutex
	pictures map[uint64][]byte
	nextPic  uint64
}

// New builds a Service with an empty picture cache.
func New() *Service {
	return &Service{pictures: map[uint64][]byte{}}
}

// Picture returns the cached cover art bytes for id, or nil.
func (s *Service) Picture(id uint64) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pictures[id]
}

// ExtractMetaData implements importsvc.MetadataService: it populates obj's
// metadata and resources from the file's tags. Files without readable tags
// still get a content resource; tag errors are not fatal to the import of
// the entry.
func (s *Service) ExtractMetaData(obj *cds.Object, entry importsvc.DirEntry) error {
	res := cds.NewResource(cds.HandlerID3, cds.PurposeContent)
	res.Attributes[cds.AttrResourceFile] = entry.Path
	res.Attributes[cds.AttrSize] = strconv.FormatInt(entry.Size, 10)
	obj.AddResource(res)
	obj.SizeOnDisk = uint64(entry.Size)

	if !obj.IsSubClass("object.item.audioItem") {
		return nil
	}

	f, err := os.Open(entry.Path)
	if err != nil {
		return errors.Wrapf(err, "cannot open '%s' for tag extraction", entry.Path)
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		log.Debugf("no readable tags in '%s': %v", entry.Path, err)
		return nil
	}

	s.applyTags(obj, m)
	s.applyPicture(obj, m)
	return nil
}

func (s *Service) applyTags(obj *cds.Object, m tag.Metadata) {
	if t := s.fold(m.Title()); t != "" {
		obj.Metadata.Set("dc:title", t)
		obj.Title = t
	}
	if a := s.fold(m.Artist()); a != "" {
		obj.Metadata.Add("upnp:artist", a)
	}
	if aa := s.fold(m.AlbumArtist()); aa != "" && aa != s.fold(m.Artist()) {
		obj.Metadata.Add("upnp:artist@role[AlbumArtist]", aa)
	}
	if al := s.fold(m.Album()); al != "" {
		obj.Metadata.Set("upnp:album", al)
	}
	if c := s.fold(m.Composer()); c != "" {
		obj.Metadata.Add("upnp:composer", c)
	}
	seen := map[string]bool{}
	for _, g := range splitGenres(s.fold(m.Genre())) {
		key := g
		if !s.CaseSensitiveTags {
			key = strings.ToLower(g)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		obj.Metadata.Add("upnp:genre", g)
	}
	if y := m.Year(); y > 0 {
		obj.Metadata.Set("dc:date", fmt.Sprintf("%04d-01-01", y))
	}
	if n, _ := m.Track(); n > 0 && obj.Item != nil {
		obj.Item.TrackNumber = n
	}
	if d, _ := m.Disc(); d > 0 && obj.Item != nil {
		obj.Item.PartNumber = d
	}
}

// applyPicture resizes any embedded cover art down to thumbnail size, caches
// the JPEG bytes and attaches a Thumbnail resource pointing at the cache
// entry.
func (s *Service) applyPicture(obj *cds.Object, m tag.Metadata) {
	pic := m.Picture()
	if pic == nil || len(pic.Data) == 0 {
		return
	}
	img, err := imaging.Decode(bytes.NewReader(pic.Data))
	if err != nil {
		log.Debugf("cannot decode cover art: %v", err)
		return
	}
	thumb := imaging.Fit(img, thumbnailSize, thumbnailSize, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 85}); err != nil {
		log.Debugf("cannot encode thumbnail: %v", err)
		return
	}

	s.mu.Lock()
	s.nextPic++
	id := s.nextPic
	s.pictures[id] = buf.Bytes()
	s.mu.Unlock()

	r := cds.NewResource(cds.HandlerID3, cds.PurposeThumbnail)
	r.Parameters["pic_id"] = strconv.FormatUint(id, 10)
	r.Attributes[cds.AttrResolution] = fmt.Sprintf("%dx%d", thumb.Bounds().Dx(), thumb.Bounds().Dy())
	obj.AddResource(r)
}

func (s *Service) fold(v string) string { return strings.TrimSpace(v) }

// splitGenres splits multi-genre tag values on the separators taggers
// commonly use.
func splitGenres(g string) []string {
	if g == "" {
		return nil
	}
	var out []string
	for _, part := range strings.FieldsFunc(g, func(r rune) bool { return r == ';' || r == '\x00' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
