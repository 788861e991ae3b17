package didl

import (
	"strings"

	"gitlab.com/mipimipi/cdscore/internal/cds"
)

// TranscodingProfile describes one configured transcoding target. Profiles
// never run a transcoder here; they only decide whether a transient
// Transcode resource is injected into the rendered DIDL so a client can
// request the converted stream.
type TranscodingProfile struct {
	Name string

	// SourceMimePrefix selects which items the profile applies to
	// ("audio/", "video/x-matroska", ...).
	SourceMimePrefix string
	// SourceDlnaProfile, when non-empty, additionally requires the source
	// resource's resolved DLNA profile to match.
	SourceDlnaProfile string
	// RequiredQuirkFlags, when non-zero, restricts the profile to clients
	// whose quirk mask carries at least one of these bits.
	RequiredQuirkFlags QuirkFlag

	TargetMime        string
	TargetDlnaProfile string

	// FirstResource prepends the transcoded resource so clients that always
	// pick the first res element get the converted stream.
	FirstResource bool
	// HideOriginal suppresses the original content resource entirely.
	HideOriginal bool
	// TranscodesTimeline reports whether the profile re-times the stream;
	// if it does not, the source duration is copied onto the transcoded
	// resource.
	TranscodesTimeline bool
}

// matches reports whether the profile applies to an item with the given
// source mime, resolved DLNA profile and client quirk mask.
func (p TranscodingProfile) matches(sourceMime, sourceDlna string, q Quirks) bool {
	if !strings.HasPrefix(sourceMime, p.SourceMimePrefix) {
		return false
	}
	if p.SourceDlnaProfile != "" && p.SourceDlnaProfile != sourceDlna {
		return false
	}
	if p.RequiredQuirkFlags != 0 && q.Flags&p.RequiredQuirkFlags == 0 {
		return false
	}
	return true
}

// transcodeCandidate pairs a synthesized Transcode resource with the profile
// that produced it, for URL and protocolInfo assembly.
type transcodeCandidate struct {
	res     *cds.Resource
	profile TranscodingProfile
	first   bool
	hideSrc bool
}

// insertTempTranscodingResources walks the configured profiles against the
// item's primary content resource and builds a transient resource for every
// qualifying profile. The synthetic resources receive ids greater than any
// real resource's id, even when a profile asks to be listed first.
func (r *Renderer) insertTempTranscodingResources(obj *cds.Object, q Quirks) []transcodeCandidate {
	if !obj.IsItem() || obj.Item == nil {
		return nil
	}
	src := obj.GetResourceByPurpose(cds.PurposeContent)
	if src == nil {
		return nil
	}
	sourceMime := obj.Item.MimeType
	sourceDlna := r.DlnaProfiles[sourceMime]

	var out []transcodeCandidate
	nextID := 0
	for _, res := range obj.Resources {
		if res.ResID >= nextID {
			nextID = res.ResID + 1
		}
	}
	for _, p := range r.Profiles {
		if !p.matches(sourceMime, sourceDlna, q) {
			continue
		}
		tr := cds.NewResource(cds.HandlerTranscode, cds.PurposeTranscode)
		tr.ResID = nextID
		nextID++
		tr.Attributes[cds.AttrProtocolInfo] = r.protocolInfo(p.TargetMime, p.TargetDlnaProfile, true, q)
		if !p.TranscodesTimeline {
			if d, ok := src.Attributes[cds.AttrDuration]; ok {
				tr.Attributes[cds.AttrDuration] = d
			}
		}
		out = append(out, transcodeCandidate{res: tr, profile: p, first: p.FirstResource, hideSrc: p.HideOriginal})
	}
	return out
}
