package layout

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"gitlab.com/mipimipi/cdscore/internal/cds"
)

// abcAlphabet is the ordered partition of A-Z used to derive every other
// box-type: box-type 26 is one bucket per letter, box-type 1 collapses them
// all into a single bucket, and intermediate types split the alphabet into
// that many contiguous runs.
const abcAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// ABCBox partitions s into a bucket label according to boxType (the number
// of buckets the 26-letter alphabet is split into, 1..26) using sep as the
// label's external/internal separator marker. Digits and non-letters map to
// their own "0-9" / "#" buckets.
func ABCBox(s string, boxType int, sep string) string {
	if boxType < 1 {
		boxType = 1
	}
	if boxType > 26 {
		boxType = 26
	}

	c := leadingRune(s)
	switch {
	case c == 0:
		return "#"
	case unicode.IsDigit(c):
		return "0-9"
	case !unicode.IsLetter(c):
		return "#"
	}

	u := mapInitial(c)
	idx := strings.IndexRune(abcAlphabet, u)
	if idx < 0 {
		return "#"
	}

	if boxType == 26 {
		return string(u)
	}
	if boxType == 1 {
		return "-" + abcAlphabet + "-"
	}

	bucketSize := 26.0 / float64(boxType)
	bucket := int(float64(idx) / bucketSize)
	if bucket >= boxType {
		bucket = boxType - 1
	}
	lo := int(float64(bucket) * bucketSize)
	hi := int(float64(bucket+1)*bucketSize) - 1
	if hi >= 26 {
		hi = 25
	}
	if lo == hi {
		return string(abcAlphabet[lo])
	}
	return string(abcAlphabet[lo]) + sep + string(abcAlphabet[hi])
}

func leadingRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

// mapInitial normalizes a leading rune to an uppercase A-Z latin letter,
// folding common diacritics (ä -> A) via Unicode NFD decomposition + mark
// removal.
func mapInitial(r rune) rune {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicodeMark)), norm.NFC), string(r))
	if err != nil || folded == "" {
		return unicode.ToUpper(r)
	}
	return unicode.ToUpper([]rune(folded)[0])
}

var unicodeMark = unicodeMarkRangeTable()

func unicodeMarkRangeTable() *unicode.RangeTable {
	return unicode.Mn
}

// Structured wraps Builtin and additionally partitions the Artists/Albums/
// Genres/Composers axes through ABCBox, so e.g. "/Audio/Artists/A-C/Artist/Album"
// replaces the flat "/Audio/Artists/Artist/Album" placement.
type Structured struct {
	*Builtin
	BoxType   int
	Separator string
}

// NewStructured wraps b with an ABC-box partition of the given box type.
func NewStructured(b *Builtin, boxType int, sep string) *Structured {
	return &Structured{Builtin: b, BoxType: boxType, Separator: sep}
}

// ProcessCdsObject delegates to Builtin and then inserts an ABC-box bucket
// segment right after "Artists"/"Albums"/"Genres"/"Composers" in every placement whose
// chain starts with one of those axis names.
func (s *Structured) ProcessCdsObject(obj *cds.Object, parent *cds.Object, rootPath string, contentType string, containerTypeMap map[string]string, refObjects RefObjects) (Result, error) {
	res, err := s.Builtin.ProcessCdsObject(obj, parent, rootPath, contentType, containerTypeMap, refObjects)
	if err != nil {
		return res, err
	}
	for i := range res.Placements {
		res.Placements[i].Chain = s.bucketed(res.Placements[i].Chain)
	}
	return res, nil
}

var bucketedAxes = map[string]bool{"Artists": true, "Albums": true, "Genres": true, "Composers": true}

func (s *Structured) bucketed(c ContainerChain) ContainerChain {
	if len(c.Path) < 3 || !bucketedAxes[c.Path[1]] {
		return c
	}
	bucket := ABCBox(c.Path[2], s.BoxType, s.Separator)
	out := make([]string, 0, len(c.Path)+1)
	out = append(out, c.Path[0], c.Path[1], bucket)
	out = append(out, c.Path[2:]...)
	return ContainerChain{Path: out, UpnpClass: c.UpnpClass}
}

// AudioInitial further partitions by the initial letter of the axis value
// (mapInitial-normalized) rather than a contiguous alphabet range, used when
// box-config requests one bucket per distinct initial rather than ranges.
type AudioInitial struct {
	*Builtin
}

// NewAudioInitial wraps b with per-initial-letter bucketing.
func NewAudioInitial(b *Builtin) *AudioInitial {
	return &AudioInitial{Builtin: b}
}

func (a *AudioInitial) ProcessCdsObject(obj *cds.Object, parent *cds.Object, rootPath string, contentType string, containerTypeMap map[string]string, refObjects RefObjects) (Result, error) {
	res, err := a.Builtin.ProcessCdsObject(obj, parent, rootPath, contentType, containerTypeMap, refObjects)
	if err != nil {
		return res, err
	}
	for i := range res.Placements {
		c := &res.Placements[i].Chain
		if len(c.Path) < 3 || !bucketedAxes[c.Path[1]] {
			continue
		}
		initial := string(mapInitial(leadingRune(c.Path[2])))
		if initial == "\x00" || initial == "" {
			initial = "#"
		}
		out := make([]string, 0, len(c.Path)+1)
		out = append(out, c.Path[0], c.Path[1], initial)
		out = append(out, c.Path[2:]...)
		c.Path = out
	}
	return res, nil
}
