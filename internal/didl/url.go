package didl

import (
	"fmt"
	"mime"
	"net/url"
	"sort"
	"strings"

	"gitlab.com/mipimipi/cdscore/internal/cds"
)

// URL path fragments for the media endpoints the HTTP layer serves.
const (
	mediaFolder  = "/content/media"
	onlineFolder = "/content/online"
)

// renderResourceURL synthesizes the URL a client fetches a resource's bytes
// from. Transcode-purpose resources get the res_id/tr form with the profile
// name and transcode marker appended as query parameters.
func (r *Renderer) renderResourceURL(obj *cds.Object, res *cds.Resource, q Quirks, profileName string) string {
	// external thumbnail: the resource carries the remote URL verbatim
	if res.HandlerType == cds.HandlerExtURL {
		if u, ok := res.Options["url"]; ok {
			return u
		}
	}

	if obj.IsExternalItem() && res.Purpose == cds.PurposeContent {
		if !obj.HasFlag(cds.FlagProxyURL) && !obj.HasFlag(cds.FlagOnlineService) {
			return obj.Location
		}
		return r.buildURL(onlineFolder, obj.ID, fmt.Sprint(res.ResID), q.Group, res, extensionFor(obj, res))
	}

	if res.Purpose == cds.PurposeTranscode {
		u := r.buildURL(mediaFolder, obj.ID, "tr", q.Group, res, extensionFor(obj, res))
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		return u + sep + "pr_name=" + url.QueryEscape(profileName) + "&transcode=1"
	}

	// container thumbnails may have to chase a fan-art donor chain
	if obj.IsContainer() && res.Purpose == cds.PurposeThumbnail {
		if _, ok := res.Attributes[cds.AttrResourceFile]; ok {
			return r.buildURL(mediaFolder, obj.ID, fmt.Sprint(res.ResID), "", res, extensionFor(obj, res))
		}
		if id, rid, ok := r.resolveFanArtChain(res); ok {
			return r.buildURL(mediaFolder, id, fmt.Sprint(rid), "", res, ".jpg")
		}
	}

	group := ""
	if res.Purpose == cds.PurposeContent {
		group = q.Group
	}
	return r.buildURL(mediaFolder, obj.ID, fmt.Sprint(res.ResID), group, res, extensionFor(obj, res))
}

// buildURL assembles {virtualURL}{folder}/object_id/{id}/res_id/{rid}
// [/group/{group}][/ext/file{ext}][?params].
func (r *Renderer) buildURL(folder string, id cds.ID, resID, group string, res *cds.Resource, ext string) string {
	var b strings.Builder
	b.WriteString(r.VirtualURL)
	b.WriteString(folder)
	b.WriteString("/object_id/")
	fmt.Fprint(&b, int32(id))
	b.WriteString("/res_id/")
	b.WriteString(resID)
	if group != "" {
		b.WriteString("/group/")
		b.WriteString(url.PathEscape(group))
	}
	if ext != "" {
		b.WriteString("/ext/file")
		b.WriteString(ext)
	}
	if len(res.Parameters) > 0 {
		b.WriteByte('?')
		b.WriteString(encodeParameters(res.Parameters))
	}
	return b.String()
}

// encodeParameters renders resource parameters as URL-encoded key-value
// pairs in stable key order.
func encodeParameters(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(params[k]))
	}
	return strings.Join(parts, "&")
}

// resolveFanArtChain follows FANART_OBJ_ID references until it reaches a
// resource with a local file or a non-container object. Recursion is bounded
// by a visited set so a cyclic donor chain cannot loop.
func (r *Renderer) resolveFanArtChain(res *cds.Resource) (cds.ID, int, bool) {
	if r.Loader == nil {
		return cds.InvalidID, 0, false
	}
	visited := map[cds.ID]bool{}
	cur := res
	for {
		donorID, ok := parseID(cur.Attributes[cds.AttrFanArtObjID])
		if !ok || donorID == cds.RootID {
			return cds.InvalidID, 0, false
		}
		if visited[donorID] {
			return cds.InvalidID, 0, false
		}
		visited[donorID] = true

		donor, err := r.Loader(donorID)
		if err != nil {
			return cds.InvalidID, 0, false
		}
		rid, _ := parseInt(cur.Attributes[cds.AttrFanArtResID])
		donorRes := donor.GetResourceByID(rid)
		if donorRes == nil {
			donorRes = donor.GetResourceByPurpose(cds.PurposeThumbnail)
		}
		if donorRes == nil {
			return cds.InvalidID, 0, false
		}
		if _, hasFile := donorRes.Attributes[cds.AttrResourceFile]; hasFile || !donor.IsContainer() {
			return donorID, donorRes.ResID, true
		}
		cur = donorRes
	}
}

func parseID(s string) (cds.ID, bool) {
	n, ok := parseInt(s)
	return cds.ID(n), ok
}

func parseInt(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// extensionFor derives the cosmetic "/ext/file.<extension>" suffix clients
// key their caches on. It has no semantic meaning.
func extensionFor(obj *cds.Object, res *cds.Resource) string {
	if res.Purpose == cds.PurposeThumbnail {
		if f, ok := res.Attributes[cds.AttrResourceFile]; ok {
			if i := strings.LastIndexByte(f, '.'); i >= 0 {
				return f[i:]
			}
		}
		return ".jpg"
	}
	if obj.Item != nil && obj.Item.MimeType != "" {
		if exts, err := mime.ExtensionsByType(obj.Item.MimeType); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	if i := strings.LastIndexByte(obj.Location, '.'); i >= 0 && !strings.ContainsRune(obj.Location[i:], '/') {
		return obj.Location[i:]
	}
	return ""
}

// protocolInfo assembles "http-get:*:<mime>:<dlnaParams>". The DLNA hints
// are always present and ordered OP, CI, FLAGS, then PN when a profile was
// resolved. Transcoded resources disable seek (OP=00) and set CI=1.
func (r *Renderer) protocolInfo(mimeType, dlnaProfile string, transcoded bool, q Quirks) string {
	mimeType = q.mapMime(mimeType)
	op, ci := "01", "0"
	if transcoded {
		op, ci = "00", "1"
	}
	flags := r.DlnaFlags
	if flags == "" {
		flags = defaultDlnaFlags
	}
	dlna := fmt.Sprintf("DLNA.ORG_OP=%s;DLNA.ORG_CI=%s;DLNA.ORG_FLAGS=%s", op, ci, flags)
	if dlnaProfile != "" {
		dlna += ";DLNA.ORG_PN=" + dlnaProfile
	}
	return "http-get:*:" + mimeType + ":" + dlna
}

const defaultDlnaFlags = "01700000000000000000000000000000"
