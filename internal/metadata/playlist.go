package metadata

import (
	"net/url"
	"os"
	p "path"
	"strings"

	"github.com/pkg/errors"
	"github.com/ushis/m3u"
)

// PlaylistEntry is one resolved playlist line: a local absolute path or a
// remote http(s) URL, plus the display title when the playlist carried one.
type PlaylistEntry struct {
	Path  string
	Title string
}

// ParsePlaylist reads an m3u playlist and returns its entries. Relative
// local paths are resolved against the playlist's own directory; entries
// with unsupported schemes are skipped.
func ParsePlaylist(path string) ([]PlaylistEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open playlist file '%s'", path)
	}
	defer f.Close()

	playlist, err := m3u.Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot parse playlist '%s'", path)
	}

	var entries []PlaylistEntry
	for _, item := range playlist {
		entry := strings.TrimSpace(item.Path)
		if entry == "" {
			continue
		}
		if !p.IsAbs(entry) {
			uri, err := url.ParseRequestURI(entry)
			if err != nil {
				dir, _ := p.Split(path)
				entry = p.Join(dir, entry)
			} else {
				if uri.Scheme != "" && uri.Scheme != "http" && uri.Scheme != "https" {
					log.Errorf("playlist item '%s' has invalid scheme '%s': ignore it", entry, uri.Scheme)
					continue
				}
				if uri.Scheme == "" && uri.Host != "" {
					log.Errorf("playlist item '%s' has empty scheme but host is not empty: ignore it", entry)
					continue
				}
			}
		}
		entries = append(entries, PlaylistEntry{Path: entry, Title: item.Title})
	}
	return entries, nil
}
