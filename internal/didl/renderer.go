// Package didl converts CdsObjects into DIDL-Lite container and item
// elements: metadata serialization, resource URL synthesis, DLNA
// protocolInfo assembly, transient transcoding-resource injection and
// client-quirk filtering.
package didl

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	l "github.com/sirupsen/logrus"

	"gitlab.com/mipimipi/cdscore/internal/cds"
)

var log *l.Entry = l.WithFields(l.Fields{"pkg": "didl"})

// DIDLStartElem and DIDLEndElem frame the sub-elements this package
// produces; the Browse handler wraps its result set with them.
const (
	DIDLStartElem = `<DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/" xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/" xmlns:dlna="urn:schemas-dlna-org:metadata-1-0/" xmlns:sec="http://www.sec.co.kr/">`
	DIDLEndElem   = `</DIDL-Lite>`
)

// ObjectLoader resolves an object id, used to chase fan-art donor chains.
type ObjectLoader func(id cds.ID) (*cds.Object, error)

// Renderer is stateless per call; one instance serves every client, with the
// per-client policy arriving as a Quirks value.
type Renderer struct {
	VirtualURL string

	// OrderedHandlers is the configured resource emission order; resources
	// whose handler is not mentioned are appended afterwards in their
	// natural order.
	OrderedHandlers []cds.HandlerType

	// DlnaProfiles maps a mime type to its DLNA.ORG_PN label.
	DlnaProfiles map[string]string
	// DlnaFlags overrides the DLNA.ORG_FLAGS hex constant when non-empty.
	DlnaFlags string

	Profiles []TranscodingProfile

	Loader ObjectLoader
}

// RenderObject serializes obj into a <container> or <item> element. Missing
// optional metadata never fails a render; the renderer emits what it has.
func (r *Renderer) RenderObject(obj *cds.Object, q Quirks) []byte {
	buf := new(bytes.Buffer)
	if obj.IsContainer() {
		r.renderContainer(buf, obj, q)
	} else {
		r.renderItem(buf, obj, q)
	}
	return buf.Bytes()
}

func (r *Renderer) renderContainer(buf *bytes.Buffer, obj *cds.Object, q Quirks) {
	restricted := boolAttr(obj.HasFlag(cds.FlagRestricted))
	searchable := boolAttr(obj.HasFlag(cds.FlagSearchable))

	fmt.Fprintf(buf, `<container id="%d" parentID="%d" restricted="%s" searchable="%s"`,
		int32(obj.ID), int32(obj.ParentID), restricted, searchable)
	// childCount -1 means unknown and the attribute is omitted
	if obj.Container != nil && obj.Container.ChildCount >= 0 {
		fmt.Fprintf(buf, ` childCount="%d"`, obj.Container.ChildCount)
	}
	buf.WriteByte('>')

	r.renderCommon(buf, obj, q)
	r.renderMetadata(buf, obj, q)

	// a container missing dc:date gets one synthesized from its mtime
	if obj.Metadata.Get("dc:date") == "" && obj.MTime > 0 {
		fmt.Fprintf(buf, "<dc:date>%s</dc:date>", time.Unix(obj.MTime, 0).UTC().Format("2006-01-02"))
	}

	r.renderResources(buf, obj, q)
	buf.WriteString("</container>")
}

func (r *Renderer) renderItem(buf *bytes.Buffer, obj *cds.Object, q Quirks) {
	fmt.Fprintf(buf, `<item id="%d" parentID="%d" restricted="%s"`,
		int32(obj.ID), int32(obj.ParentID), boolAttr(obj.HasFlag(cds.FlagRestricted)))
	if obj.RefID != cds.InvalidID {
		fmt.Fprintf(buf, ` refID="%d"`, int32(obj.RefID))
	}
	buf.WriteByte('>')

	r.renderCommon(buf, obj, q)
	r.renderMetadata(buf, obj, q)

	if obj.Item != nil && obj.Item.TrackNumber > 0 {
		fmt.Fprintf(buf, "<upnp:originalTrackNumber>%d</upnp:originalTrackNumber>", obj.Item.TrackNumber)
	}

	if q.HasFlag(QuirkSamsungBookmark) && obj.Item != nil && obj.Item.PlayStatus.LastPosition > 0 {
		fmt.Fprintf(buf, "<sec:dcmInfo>CREATIONDATE=0,BM=%d</sec:dcmInfo>", obj.Item.PlayStatus.LastPosition*1000)
	}

	r.renderResources(buf, obj, q)
	buf.WriteString("</item>")
}

// renderCommon emits the elements every object carries: dc:title and
// upnp:class.
func (r *Renderer) renderCommon(buf *bytes.Buffer, obj *cds.Object, q Quirks) {
	title := obj.Title
	if q.TitleLimit > 0 {
		title = truncateUTF8(title, q.TitleLimit)
	}
	fmt.Fprintf(buf, "<dc:title>%s</dc:title>", escape(title, q))
	fmt.Fprintf(buf, "<upnp:class>%s</upnp:class>", escape(obj.UpnpClass, q))
}

// renderMetadata walks the object's metadata groups. A tag of the form
// "name@attr[val]" becomes <name attr="val">..</name>; "name@attr" sets the
// attribute on a fresh <name> element carrying the value as its attribute
// rather than its text. dc:title is suppressed because the title element was
// already emitted, and empty values are never emitted.
func (r *Renderer) renderMetadata(buf *bytes.Buffer, obj *cds.Object, q Quirks) {
	keys, groups := obj.Metadata.Groups()
	for _, key := range keys {
		if key == "dc:title" {
			continue
		}
		vals := groups[key]
		name, attr, attrVal := splitMetaKey(key)

		if !q.MultiValue && len(vals) > 1 {
			vals = []string{strings.Join(vals, q.Separator)}
		}
		for _, v := range vals {
			if v == "" {
				continue
			}
			if key == "dc:date" && q.HasFlag(QuirkSimpleDate) && len(v) > 10 {
				v = v[:10]
			}
			switch {
			case attr == "":
				fmt.Fprintf(buf, "<%s>%s</%s>", name, escape(v, q), name)
			case attrVal != "":
				fmt.Fprintf(buf, `<%s %s="%s">%s</%s>`, name, attr, escape(attrVal, q), escape(v, q), name)
			default:
				fmt.Fprintf(buf, `<%s %s="%s"/>`, name, attr, escape(v, q))
			}
		}
	}
}

// renderResources emits the object's resources in configured handler order,
// injecting transient transcoding resources and applying the client's
// purpose filter. Objects flagged USE_RESOURCE_REF expose the ref target's
// resources instead of their own.
func (r *Renderer) renderResources(buf *bytes.Buffer, obj *cds.Object, q Quirks) {
	src := obj
	if obj.HasFlag(cds.FlagUseResourceRef) && obj.RefID != cds.InvalidID && r.Loader != nil {
		if ref, err := r.Loader(obj.RefID); err == nil {
			src = ref
		}
	}

	ordered := orderResources(src.Resources, r.OrderedHandlers)
	candidates := r.insertTempTranscodingResources(src, q)

	hideOriginal := false
	for _, c := range candidates {
		if c.hideSrc {
			hideOriginal = true
		}
	}

	var first, rest []transcodeCandidate
	for _, c := range candidates {
		if c.first {
			first = append(first, c)
		} else {
			rest = append(rest, c)
		}
	}

	captions := 0
	for _, c := range first {
		r.renderTranscodeRes(buf, obj, c, q)
	}
	for _, res := range ordered {
		if !q.acceptsPurpose(res.Purpose) {
			continue
		}
		if hideOriginal && res.Purpose == cds.PurposeContent {
			continue
		}
		switch res.Purpose {
		case cds.PurposeThumbnail:
			r.renderThumbnail(buf, obj, res, q)
		case cds.PurposeSubtitle:
			if q.CaptionInfoCount >= 0 && captions >= q.CaptionInfoCount {
				continue
			}
			captions++
			r.renderSubtitle(buf, obj, res, q)
		default:
			r.renderRes(buf, obj, src, res, q)
		}
	}
	for _, c := range rest {
		r.renderTranscodeRes(buf, obj, c, q)
	}
}

func (r *Renderer) renderRes(buf *bytes.Buffer, obj, src *cds.Object, res *cds.Resource, q Quirks) {
	mimeType := ""
	if src.Item != nil {
		mimeType = src.Item.MimeType
	}
	pi := res.Attributes[cds.AttrProtocolInfo]
	if pi == "" {
		pi = r.protocolInfo(mimeType, r.DlnaProfiles[mimeType], false, q)
	}
	fmt.Fprintf(buf, `<res protocolInfo="%s"`, html.EscapeString(pi))
	writeResAttr(buf, res, cds.AttrSize, "size")
	writeResAttr(buf, res, cds.AttrDuration, "duration")
	writeResAttr(buf, res, cds.AttrBitrate, "bitrate")
	writeResAttr(buf, res, cds.AttrSampleFreq, "sampleFrequency")
	writeResAttr(buf, res, cds.AttrNrAudioChannels, "nrAudioChannels")
	writeResAttr(buf, res, cds.AttrResolution, "resolution")
	if q.HasFlag(QuirkPVSubtitles) && res.Purpose == cds.PurposeContent {
		if sub := src.GetResourceByPurpose(cds.PurposeSubtitle); sub != nil {
			fmt.Fprintf(buf, ` pv:subtitleFileType="%s" pv:subtitleFileUri="%s"`,
				subtitleType(sub), html.EscapeString(r.renderResourceURL(obj, sub, q, "")))
		}
	}
	buf.WriteByte('>')
	buf.WriteString(html.EscapeString(r.renderResourceURL(obj, res, q, "")))
	buf.WriteString("</res>")
}

func (r *Renderer) renderTranscodeRes(buf *bytes.Buffer, obj *cds.Object, c transcodeCandidate, q Quirks) {
	if !q.acceptsPurpose(cds.PurposeTranscode) && !q.acceptsPurpose(cds.PurposeContent) {
		return
	}
	pi := c.res.Attributes[cds.AttrProtocolInfo]
	fmt.Fprintf(buf, `<res protocolInfo="%s"`, html.EscapeString(pi))
	writeResAttr(buf, c.res, cds.AttrDuration, "duration")
	buf.WriteByte('>')
	buf.WriteString(html.EscapeString(r.renderResourceURL(obj, c.res, q, c.profile.Name)))
	buf.WriteString("</res>")
}

// renderThumbnail emits upnp:albumArtURI with a DLNA profile attribute
// instead of a res element.
func (r *Renderer) renderThumbnail(buf *bytes.Buffer, obj *cds.Object, res *cds.Resource, q Quirks) {
	u := r.renderResourceURL(obj, res, q, "")
	if u == "" {
		return
	}
	fmt.Fprintf(buf, `<upnp:albumArtURI dlna:profileID="JPEG_TN">%s</upnp:albumArtURI>`, html.EscapeString(u))
}

func (r *Renderer) renderSubtitle(buf *bytes.Buffer, obj *cds.Object, res *cds.Resource, q Quirks) {
	u := r.renderResourceURL(obj, res, q, "")
	fmt.Fprintf(buf, `<sec:CaptionInfoEx sec:type="%s">%s</sec:CaptionInfoEx>`,
		subtitleType(res), html.EscapeString(u))
}

func subtitleType(res *cds.Resource) string {
	if t, ok := res.Options["type"]; ok {
		return t
	}
	return "srt"
}

// orderResources sorts resources per the configured handler order, then
// appends any unmentioned handlers in their original relative order.
func orderResources(resources []*cds.Resource, order []cds.HandlerType) []*cds.Resource {
	if len(order) == 0 {
		return resources
	}
	rank := map[cds.HandlerType]int{}
	for i, h := range order {
		rank[h] = i
	}
	out := make([]*cds.Resource, 0, len(resources))
	for _, h := range order {
		for _, res := range resources {
			if res.HandlerType == h {
				out = append(out, res)
			}
		}
	}
	for _, res := range resources {
		if _, mentioned := rank[res.HandlerType]; !mentioned {
			out = append(out, res)
		}
	}
	return out
}

func writeResAttr(buf *bytes.Buffer, res *cds.Resource, key cds.AttrKey, name string) {
	if v, ok := res.Attributes[key]; ok && v != "" {
		fmt.Fprintf(buf, ` %s="%s"`, name, html.EscapeString(v))
	}
}

// splitMetaKey parses "name@attr[val]" into its parts.
func splitMetaKey(key string) (name, attr, attrVal string) {
	name = key
	at := strings.IndexByte(key, '@')
	if at < 0 {
		return
	}
	name = key[:at]
	attr = key[at+1:]
	if open := strings.IndexByte(attr, '['); open >= 0 && strings.HasSuffix(attr, "]") {
		attrVal = attr[open+1 : len(attr)-1]
		attr = attr[:open]
	}
	return
}

func escape(s string, q Quirks) string {
	if q.HasFlag(QuirkStrictXML) {
		return strictEscape(s)
	}
	return html.EscapeString(s)
}

var strictEscaper = strings.NewReplacer(
	"&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;",
)

func strictEscape(s string) string { return strictEscaper.Replace(s) }

// truncateUTF8 cuts s to at most limit bytes at a valid rune boundary and
// appends an ellipsis when anything was removed.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func boolAttr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
