package importsvc

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"gitlab.com/mipimipi/cdscore/internal/cds"
)

// statResult is the subset of os.FileInfo DoImport needs to seed the cache
// entry for its top-level location before readDir/readFile take over.
type statResult struct {
	isDir bool
	mtime int64
	size  int64
}

func stat(path string) (statResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return statResult{}, err
	}
	return statResult{isDir: info.IsDir(), mtime: info.ModTime().Unix(), size: info.Size()}, nil
}

// Settings configures one DoImport invocation: the subset of the import
// options a single call needs.
type Settings struct {
	Recursive      bool
	FollowSymlinks bool
	Hidden         bool // include dot-files
	NoMediaFile    string
	ForceRescan    bool
}

// readDir walks dir, caching every entry it finds into the cache in
// StateNew. When settings.Recursive is false only dir's direct children are
// cached (still as StateNew so createContainers/createItems can process
// them uniformly with the recursive case).
func (s *Service) readDir(dir string, settings Settings) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &cds.IOError{Path: dir, Err: err}
	}

	// sort for deterministic fan-art/first-object selection across runs
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	if hasNoMediaFile(entries, settings.NoMediaFile) && !settings.Hidden {
		return nil
	}

	s.cache.Advance(dir, StateNew)

	for _, de := range entries {
		name := de.Name()
		if !settings.Hidden && strings.HasPrefix(name, ".") {
			continue
		}
		full := filepath.Join(dir, name)

		info, err := de.Info()
		if err != nil {
			s.cache.Get(full).State = StateBroken
			s.cache.Get(full).Broken = &cds.IOError{Path: full, Err: err}
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			if !settings.FollowSymlinks {
				continue
			}
			resolved, err := filepath.EvalSymlinks(full)
			if err != nil {
				continue
			}
			info, err = os.Stat(resolved)
			if err != nil {
				continue
			}
		}

		// a subdirectory carrying the marker is hidden wholesale: it must
		// not even enter the cache, or it would surface as a container
		if info.IsDir() && !settings.Hidden && dirHasNoMediaFile(full, settings.NoMediaFile) {
			continue
		}

		entry := DirEntry{Path: full, IsDir: info.IsDir(), MTime: info.ModTime().Unix(), Size: info.Size()}
		st := s.cache.Get(full)
		st.Entry = entry
		st.MTime = entry.MTime
		st.setState(StateNew)

		if info.IsDir() {
			if settings.Recursive {
				if err := s.readDir(full, settings); err != nil {
					if ioErr, ok := err.(*cds.IOError); ok {
						st.State = StateBroken
						st.Broken = ioErr
						continue
					}
					return err
				}
			}
		}
	}
	return nil
}

// hasNoMediaFile reports whether entries contains the configured marker
// filename, which hides the entire directory from import.
func hasNoMediaFile(entries []os.DirEntry, marker string) bool {
	if marker == "" {
		return false
	}
	for _, de := range entries {
		if de.Name() == marker {
			return true
		}
	}
	return false
}

// dirHasNoMediaFile peeks into dir for the marker, so a parent loop can
// skip a hidden subdirectory before caching it.
func dirHasNoMediaFile(dir, marker string) bool {
	if marker == "" {
		return false
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	return hasNoMediaFile(entries, marker)
}

// readFile caches location and every ancestor directory up to rootPath, so a
// single-file import still has its container chain available.
func (s *Service) readFile(location, rootPath string, settings Settings) error {
	info, err := os.Stat(location)
	if err != nil {
		return &cds.IOError{Path: location, Err: err}
	}
	entry := DirEntry{Path: location, IsDir: false, MTime: info.ModTime().Unix(), Size: info.Size()}
	st := s.cache.Get(location)
	st.Entry = entry
	st.MTime = entry.MTime
	st.setState(StateNew)

	dir := filepath.Dir(location)
	for {
		di, err := os.Stat(dir)
		if err != nil {
			return &cds.IOError{Path: dir, Err: err}
		}
		dst := s.cache.Get(dir)
		dst.Entry = DirEntry{Path: dir, IsDir: true, MTime: di.ModTime().Unix()}
		dst.setState(StateNew)
		if dir == rootPath || dir == "/" || dir == "." {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return nil
}

// removeHidden prunes dot-file cache entries when settings.Hidden is false.
// It does not check for the noMediaFile marker; when settings.Hidden is false,
// readDir already keeps directories carrying it out of the cache.
func (s *Service) removeHidden(settings Settings) {
	for path, st := range s.cache.Entries() {
		base := filepath.Base(path)
		if !settings.Hidden && strings.HasPrefix(base, ".") {
			delete(s.cache.Entries(), path)
			continue
		}
		if st.State == StateBroken {
			continue
		}
	}
}

// wrapBroken records err against path's cache entry without aborting the
// overall run - per-entry failures stay local.
func (s *Service) wrapBroken(path string, err error) {
	st := s.cache.Get(path)
	st.State = StateBroken
	st.Broken = errors.Wrapf(err, "import failed for %s", path)
}
