package didl

import (
	"gitlab.com/mipimipi/cdscore/internal/cds"
)

// QuirkFlag is one bit in a client's quirk mask. Profiles and rendering
// branches test against it to work around specific renderer bugs.
type QuirkFlag uint64

const (
	// QuirkSamsungBookmark restores the Samsung-specific playback position
	// element (sec:dcmInfo) on items with a saved play position.
	QuirkSamsungBookmark QuirkFlag = 1 << iota
	// QuirkPVSubtitles emits pv:subtitleFileType/pv:subtitleFileUri
	// attributes on the primary content resource in addition to the
	// sec:CaptionInfoEx element.
	QuirkPVSubtitles
	// QuirkSimpleDate truncates dc:date values to plain YYYY-MM-DD.
	QuirkSimpleDate
	// QuirkStrictXML escapes title and metadata values with the strict
	// escaping table (quotes and apostrophes included).
	QuirkStrictXML
	// QuirkNoThumbnails suppresses thumbnail resources entirely.
	QuirkNoThumbnails
)

// Quirks is a per-client rendering policy bundle, selected by the caller by
// matching the HTTP user agent or subnet. Quirks never mutate the object
// being rendered; they only alter how it is serialized.
type Quirks struct {
	Flags QuirkFlag

	// MimeMappings overrides the mime type announced in protocolInfo for
	// specific source mime types (some renderers only accept e.g.
	// "audio/mp4" spelled as "audio/x-m4a").
	MimeMappings map[string]string

	// CaptionInfoCount caps how many sec:CaptionInfoEx elements are
	// emitted. A negative value means unlimited.
	CaptionInfoCount int

	// MultiValue controls whether multi-valued metadata keys are rendered
	// as one element per value (true, the default) or joined into a single
	// element by Separator.
	MultiValue bool
	Separator  string

	// TitleLimit truncates dc:title to at most this many bytes, cut at a
	// valid UTF-8 boundary with a trailing ellipsis. Zero disables.
	TitleLimit int

	// SupportedPurposes filters which resource purposes the client is sent.
	// A nil map accepts everything.
	SupportedPurposes map[cds.Purpose]bool

	// Group scopes resource URLs for per-client caching.
	Group string
}

// DefaultQuirks is the policy used for clients with no matched quirk entry.
func DefaultQuirks() Quirks {
	return Quirks{
		CaptionInfoCount: -1,
		MultiValue:       true,
		Separator:        " / ",
	}
}

// HasFlag reports whether the client's quirk mask carries flag.
func (q Quirks) HasFlag(flag QuirkFlag) bool { return q.Flags&flag != 0 }

// acceptsPurpose reports whether the client is sent resources of purpose p.
func (q Quirks) acceptsPurpose(p cds.Purpose) bool {
	if q.HasFlag(QuirkNoThumbnails) && p == cds.PurposeThumbnail {
		return false
	}
	if q.SupportedPurposes == nil {
		return true
	}
	return q.SupportedPurposes[p]
}

// mapMime applies the client's mime overrides to a source mime type.
func (q Quirks) mapMime(mimeType string) string {
	if m, ok := q.MimeMappings[mimeType]; ok {
		return m
	}
	return mimeType
}
