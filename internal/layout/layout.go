// Package layout implements the Layout interface the import service invokes
// to place items into one or more virtual browse trees, plus the builtin
// implementation with its ABC-box and initial-letter partition helpers.
package layout

import (
	"strings"

	"gitlab.com/mipimipi/cdscore/internal/cds"
)

// ContainerChain is a path through the virtual tree the layout wants
// created, one CdsObject per level, deepest last. addContainerTree (owned by
// the import service) walks it and creates any missing containers.
type ContainerChain struct {
	Path      []string // display titles, not yet escaped
	UpnpClass string   // class of the deepest (leaf) container; "" uses the default storageFolder class
}

// Placement is one spot the layout wants a (possibly ref-ed) copy of an item
// placed at.
type Placement struct {
	Chain ContainerChain
	// RefTitle, if non-empty, overrides the title used for the virtual copy
	// at this placement (e.g. the "Artist - Album - Title" full-name form).
	RefTitle string
}

// Result is everything ProcessCdsObject decided to do with one object.
type Result struct {
	Placements []Placement
}

// RefObjects is an accumulator used across a single Layout.ProcessCdsObject
// call: some placements (e.g. "/Audio/Artists/{artist}/{album}") want every
// track of the same album to reference the same already-created container
// rather than re-resolving it, which the caller (addContainerTree) handles
// via its own containerMap; Layout only needs to describe the chain.
type RefObjects = map[string]cds.ID

// Layout places an imported object into zero or more virtual containers.
// Implementations must not mutate obj; they describe placements for the
// caller (ImportService.fillLayout) to realize via addContainerTree/addObject.
type Layout interface {
	ProcessCdsObject(obj *cds.Object, parent *cds.Object, rootPath string, contentType string, containerTypeMap map[string]string, refObjects RefObjects) (Result, error)
}

// escapeChar protects '/' inside a title before it is joined into a
// virtual container path.
const (
	escapeChar    = '\\'
	pathSeparator = '/'
)

// Escape protects any literal separator character inside title so it can be
// safely joined into a virtual container path.
func Escape(title string) string {
	if !strings.ContainsRune(title, pathSeparator) && !strings.ContainsRune(title, escapeChar) {
		return title
	}
	var b strings.Builder
	for _, r := range title {
		if r == pathSeparator || r == escapeChar {
			b.WriteRune(escapeChar)
		}
		b.WriteRune(r)
	}
	return b.String()
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func yearOf(date string) string {
	if len(date) >= 4 {
		return date[:4]
	}
	return ""
}

func monthOf(date string) string {
	if len(date) >= 7 {
		return date[5:7]
	}
	return ""
}
