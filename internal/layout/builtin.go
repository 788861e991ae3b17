package layout

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"gitlab.com/mipimipi/cdscore/internal/cds"
)

// BoxConfig names and enables one named bucket of the builtin layout (e.g.
// "Audio/Genres"). Disabled boxes are
// skipped entirely - no placement is emitted for them.
type BoxConfig struct {
	Enabled bool
	Title   string // localized display title; not read by the builtin placements, which always use the box's default English name
}

// GenreMapping is one mapGenre rule: a regular expression matched against a
// genre value and its replacement. Case-insensitive matching is expressed
// with the (?i) flag in the pattern.
type GenreMapping struct {
	From *regexp.Regexp
	To   string
}

// Builtin implements Layout with a fixed set of virtual placements per
// media class, each built by assembling a chain and handing it to the
// caller.
type Builtin struct {
	Boxes map[string]BoxConfig
	// GenreMap rewrites a genre value before it is used as a path segment,
	// e.g. folding "Hip-Hop" variants to a single canonical bucket.
	GenreMap []GenreMapping
	// FullName enables the "/Audio/All - full name" / per-artist full-name
	// placements using a synthesized "Artist - Album - Title" title.
	FullName bool
}

// NewBuiltin returns a Builtin with every box enabled and no genre
// mapping.
func NewBuiltin() *Builtin {
	return &Builtin{Boxes: map[string]BoxConfig{}}
}

func (b *Builtin) boxEnabled(name string) bool {
	c, ok := b.Boxes[name]
	return !ok || c.Enabled
}

func (b *Builtin) mapGenre(genre string) string {
	for _, m := range b.GenreMap {
		if m.From.MatchString(genre) {
			return m.From.ReplaceAllString(genre, m.To)
		}
	}
	return genre
}

func chain(class string, segs ...string) ContainerChain {
	return ContainerChain{Path: segs, UpnpClass: class}
}

// ProcessCdsObject dispatches on mime type and content type:
// video/image/audio by mime prefix, OGG by content type using the
// OggTheora flag to disambiguate audio vs. video OGG.
func (b *Builtin) ProcessCdsObject(obj *cds.Object, parent *cds.Object, rootPath string, contentType string, containerTypeMap map[string]string, refObjects RefObjects) (Result, error) {
	mime := ""
	if obj.Item != nil {
		mime = obj.Item.MimeType
	}

	switch {
	case strings.HasPrefix(mime, "video"):
		return b.addVideo(obj, rootPath), nil
	case strings.HasPrefix(mime, "image"):
		return b.addImage(obj, rootPath), nil
	case strings.HasPrefix(mime, "audio") && contentType != "playlist":
		return b.addAudio(obj, rootPath), nil
	case contentType == "ogg":
		if obj.HasFlag(cds.FlagOggTheora) {
			return b.addVideo(obj, rootPath), nil
		}
		return b.addAudio(obj, rootPath), nil
	}
	return Result{}, nil
}

func relDir(location, rootPath string) string {
	if rootPath == "" {
		return Escape(path.Base(path.Dir(location)))
	}
	rel, err := relativeTo(path.Dir(location), rootPath)
	if err != nil {
		return ""
	}
	return rel
}

func relativeTo(p, root string) (string, error) {
	p = strings.TrimSuffix(p, "/")
	root = strings.TrimSuffix(root, "/")
	if p == root {
		return "", nil
	}
	if !strings.HasPrefix(p, root+"/") {
		return "", fmt.Errorf("%s is not under %s", p, root)
	}
	return strings.TrimPrefix(p, root+"/"), nil
}

func (b *Builtin) addAudio(obj *cds.Object, rootPath string) Result {
	if !b.boxEnabled("Audio") {
		return Result{}
	}

	title := orDefault(obj.Metadata.Get("dc:title"), obj.Title)
	artist := orDefault(obj.Metadata.Get("upnp:artist"), "Unknown")
	album := orDefault(obj.Metadata.Get("upnp:album"), "Unknown")
	date := orDefault(obj.Metadata.Get("dc:date"), "Unknown")
	dateKey := yearOf(date)
	if dateKey == "" {
		dateKey = "Unknown"
	}
	composer := orDefault(obj.Metadata.Get("upnp:composer"), "None")

	var placements []Placement
	placements = append(placements, Placement{Chain: chain("", "Audio", "All Audio")})
	placements = append(placements, Placement{Chain: chain("", "Audio", "Artists", Escape(artist), "All Songs")})
	placements = append(placements, Placement{Chain: chain("object.container.album.musicAlbum", "Audio", "Artists", Escape(artist), Escape(album))})
	placements = append(placements, Placement{Chain: chain("object.container.album.musicAlbum", "Audio", "Albums", Escape(album))})

	for _, genre := range obj.Metadata.Group("upnp:genre") {
		g := b.mapGenre(genre)
		if g == "" {
			continue
		}
		placements = append(placements, Placement{Chain: chain("object.container.genre.musicGenre", "Audio", "Genres", Escape(g))})
	}

	placements = append(placements, Placement{Chain: chain("", "Audio", "Composers", Escape(composer))})
	placements = append(placements, Placement{Chain: chain("", "Audio", "Year", Escape(dateKey))})

	if b.FullName {
		full := fmt.Sprintf("%s - %s - %s", artist, album, title)
		placements = append(placements, Placement{Chain: chain("", "Audio", "All - full name"), RefTitle: full})
		placements = append(placements, Placement{Chain: chain("", "Audio", "Artists", Escape(artist), "All - full name"), RefTitle: full})
	}

	if dir := relDir(obj.Location, rootPath); dir != "" {
		placements = append(placements, Placement{Chain: chain("", "Audio", "Directories", dir)})
	}

	return Result{Placements: placements}
}

func (b *Builtin) addVideo(obj *cds.Object, rootPath string) Result {
	if !b.boxEnabled("Video") {
		return Result{}
	}
	var placements []Placement
	placements = append(placements, Placement{Chain: chain("", "Video", "All Video")})

	date := obj.Metadata.Get("dc:date")
	if date != "" {
		placements = append(placements, Placement{Chain: chain("", "Video", "Date", Escape(date))})
		if y, m := yearOf(date), monthOf(date); y != "" && m != "" {
			placements = append(placements, Placement{Chain: chain("", "Video", "Year", y, m)})
		}
	}
	if dir := relDir(obj.Location, rootPath); dir != "" {
		placements = append(placements, Placement{Chain: chain("", "Video", "Directories", dir)})
	}
	return Result{Placements: placements}
}

func (b *Builtin) addImage(obj *cds.Object, rootPath string) Result {
	if !b.boxEnabled("Photos") {
		return Result{}
	}
	var placements []Placement
	placements = append(placements, Placement{Chain: chain("", "Photos", "All Photos")})

	date := obj.Metadata.Get("dc:date")
	if date != "" {
		placements = append(placements, Placement{Chain: chain("", "Photos", "Date", Escape(date))})
		if y, m := yearOf(date), monthOf(date); y != "" && m != "" {
			placements = append(placements, Placement{Chain: chain("", "Photos", "Year", y, m)})
		}
	}
	if dir := relDir(obj.Location, rootPath); dir != "" {
		placements = append(placements, Placement{Chain: chain("", "Photos", "Directories", dir)})
	}
	return Result{Placements: placements}
}
