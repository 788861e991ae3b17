package didl

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"gitlab.com/mipimipi/cdscore/internal/cds"
)

func testRenderer() *Renderer {
	return &Renderer{
		VirtualURL:   "http://srv",
		DlnaProfiles: map[string]string{"audio/mpeg": "MP3"},
	}
}

func musicItem() *cds.Object {
	o := cds.CreateObject(cds.KindItem)
	o.ID = 5
	o.ParentID = 3
	o.Title = "Song"
	o.UpnpClass = "object.item.audioItem.musicTrack"
	o.Location = "/m/a.mp3"
	o.Item.MimeType = "audio/mpeg"
	o.Metadata.Add("upnp:artist", "X")
	o.Metadata.Add("upnp:genre", "Rock")
	o.Metadata.Add("upnp:genre", "Pop")

	res := cds.NewResource(cds.HandlerID3, cds.PurposeContent)
	res.Attributes[cds.AttrSize] = "12345"
	res.Attributes[cds.AttrDuration] = "0:03:25"
	o.AddResource(res)
	return o
}

func TestRenderContainerWithFanArt(t *testing.T) {
	c := cds.CreateObject(cds.KindContainer)
	c.ID = 1
	c.ParentID = 2
	c.Title = "Y"
	c.UpnpClass = "object.container.album.musicAlbum"
	c.MTime = 1588291200 // 2020-05-01 UTC
	c.Container.ChildCount = 12

	thumb := cds.NewResource(cds.HandlerContainerArt, cds.PurposeThumbnail)
	thumb.Attributes[cds.AttrResourceFile] = "/x/cover.jpg"
	c.AddResource(thumb)

	out := string(testRenderer().RenderObject(c, DefaultQuirks()))

	assert.Contains(t, out, `<container id="1" parentID="2" restricted="1" searchable="0" childCount="12">`)
	assert.Contains(t, out, `<upnp:albumArtURI dlna:profileID="JPEG_TN">http://srv/content/media/object_id/1/res_id/0/ext/file.jpg</upnp:albumArtURI>`)
	// a container without dc:date gets one synthesized from its mtime
	assert.Contains(t, out, "<dc:date>2020-05-01</dc:date>")
}

func TestRenderContainerUnknownChildCount(t *testing.T) {
	c := cds.CreateObject(cds.KindContainer)
	c.ID = 1
	c.ParentID = 0
	c.Title = "t"
	c.UpnpClass = "object.container"

	out := string(testRenderer().RenderObject(c, DefaultQuirks()))
	if strings.Contains(out, "childCount") {
		t.Errorf("childCount attribute emitted for unknown count: %s", out)
	}
}

func TestRenderItemProtocolInfoRoundTrip(t *testing.T) {
	out := string(testRenderer().RenderObject(musicItem(), DefaultQuirks()))

	re := regexp.MustCompile(`protocolInfo="http-get:\*:([^:]+):([^"]+)"`)
	m := re.FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("no protocolInfo in %s", out)
	}
	assert.Equal(t, "audio/mpeg", m[1])
	assert.Contains(t, m[2], "DLNA.ORG_PN=MP3")

	// DLNA hints present and ordered OP, CI, FLAGS, PN
	idxOP := strings.Index(m[2], "DLNA.ORG_OP=01")
	idxCI := strings.Index(m[2], "DLNA.ORG_CI=0")
	idxFlags := strings.Index(m[2], "DLNA.ORG_FLAGS=")
	idxPN := strings.Index(m[2], "DLNA.ORG_PN=")
	if idxOP < 0 || idxCI < idxOP || idxFlags < idxCI || idxPN < idxFlags {
		t.Errorf("DLNA hints missing or out of order: %s", m[2])
	}
}

func TestRenderItemMetadata(t *testing.T) {
	out := string(testRenderer().RenderObject(musicItem(), DefaultQuirks()))

	assert.Contains(t, out, "<dc:title>Song</dc:title>")
	assert.Contains(t, out, "<upnp:class>object.item.audioItem.musicTrack</upnp:class>")
	assert.Contains(t, out, "<upnp:artist>X</upnp:artist>")
	// multi-value mode renders one element per genre
	assert.Contains(t, out, "<upnp:genre>Rock</upnp:genre>")
	assert.Contains(t, out, "<upnp:genre>Pop</upnp:genre>")
}

func TestRenderMetadataSingleValueMode(t *testing.T) {
	q := DefaultQuirks()
	q.MultiValue = false
	q.Separator = " / "
	out := string(testRenderer().RenderObject(musicItem(), q))
	assert.Contains(t, out, "<upnp:genre>Rock / Pop</upnp:genre>")
}

func TestRenderMetadataAttrSyntax(t *testing.T) {
	o := musicItem()
	o.Metadata.Add("upnp:artist@role[AlbumArtist]", "AA")
	out := string(testRenderer().RenderObject(o, DefaultQuirks()))
	assert.Contains(t, out, `<upnp:artist role="AlbumArtist">AA</upnp:artist>`)
}

func TestEmptyMetadataValuesNotEmitted(t *testing.T) {
	o := musicItem()
	o.Metadata.Add("upnp:composer", "")
	out := string(testRenderer().RenderObject(o, DefaultQuirks()))
	if strings.Contains(out, "upnp:composer") {
		t.Error("empty metadata value was emitted")
	}
}

func TestTranscodingFirstResource(t *testing.T) {
	r := testRenderer()
	r.Profiles = []TranscodingProfile{{
		Name:             "mp3flac",
		SourceMimePrefix: "audio/mpeg",
		TargetMime:       "audio/L16",
		FirstResource:    true,
	}}

	out := string(r.RenderObject(musicItem(), DefaultQuirks()))

	// the transcoded res is listed before the original
	trIdx := strings.Index(out, "res_id/tr")
	origIdx := strings.Index(out, "res_id/0")
	if trIdx < 0 {
		t.Fatalf("no transcoded resource in %s", out)
	}
	if origIdx >= 0 && trIdx > origIdx {
		t.Error("firstResource profile must prepend the transcoded res")
	}
	assert.Contains(t, out, "pr_name=mp3flac&amp;transcode=1")
	// transcoded streams are not seekable and are marked converted
	assert.Contains(t, out, "DLNA.ORG_OP=00;DLNA.ORG_CI=1")
}

func TestTranscodingHideOriginal(t *testing.T) {
	r := testRenderer()
	r.Profiles = []TranscodingProfile{{
		Name:             "mp3only",
		SourceMimePrefix: "audio/mpeg",
		TargetMime:       "audio/L16",
		HideOriginal:     true,
	}}

	out := string(r.RenderObject(musicItem(), DefaultQuirks()))
	if strings.Contains(out, "res_id/0") {
		t.Error("hideOriginal profile must suppress the original content res")
	}
	assert.Contains(t, out, "res_id/tr")
}

func TestTranscodingCopiesDuration(t *testing.T) {
	r := testRenderer()
	r.Profiles = []TranscodingProfile{{
		Name:             "p",
		SourceMimePrefix: "audio/",
		TargetMime:       "audio/L16",
	}}
	out := string(r.RenderObject(musicItem(), DefaultQuirks()))
	// the profile does not re-time the stream, so duration is copied
	if strings.Count(out, `duration="0:03:25"`) != 2 {
		t.Errorf("duration not copied onto the transcoded res: %s", out)
	}
}

func TestQuirkPurposeFilter(t *testing.T) {
	o := musicItem()
	thumb := cds.NewResource(cds.HandlerID3, cds.PurposeThumbnail)
	thumb.Attributes[cds.AttrResourceFile] = "/m/a.jpg"
	o.AddResource(thumb)

	q := DefaultQuirks()
	q.Flags = QuirkNoThumbnails
	out := string(testRenderer().RenderObject(o, q))
	if strings.Contains(out, "albumArtURI") {
		t.Error("thumbnail rendered despite the purpose filter")
	}
}

func TestTitleTruncation(t *testing.T) {
	o := musicItem()
	o.Title = "äääääääääää" // multi-byte runes
	q := DefaultQuirks()
	q.TitleLimit = 7
	out := string(testRenderer().RenderObject(o, q))

	re := regexp.MustCompile(`<dc:title>([^<]*)</dc:title>`)
	m := re.FindStringSubmatch(out)
	if m == nil {
		t.Fatal("no title element")
	}
	title := m[1]
	if !strings.HasSuffix(title, "…") {
		t.Errorf("truncated title has no ellipsis: %q", title)
	}
	// the cut must land on a rune boundary: every ä survives whole
	if strings.Contains(title, "�") {
		t.Errorf("title cut inside a rune: %q", title)
	}
}

func TestExternalItemRawURL(t *testing.T) {
	o := cds.CreateObject(cds.KindExternalItem)
	o.ID = 9
	o.ParentID = 3
	o.Title = "stream"
	o.UpnpClass = "object.item.audioItem.audioBroadcast"
	o.Location = "http://radio.example/stream.mp3"
	o.Item.MimeType = "audio/mpeg"
	o.AddResource(cds.NewResource(cds.HandlerUnknown, cds.PurposeContent))

	out := string(testRenderer().RenderObject(o, DefaultQuirks()))
	assert.Contains(t, out, ">http://radio.example/stream.mp3</res>")

	// proxied external items are routed through the online endpoint
	o.SetFlag(cds.FlagProxyURL)
	out = string(testRenderer().RenderObject(o, DefaultQuirks()))
	assert.Contains(t, out, "/content/online/object_id/9/res_id/0")
}

func TestFanArtChainResolution(t *testing.T) {
	donor := cds.CreateObject(cds.KindItem)
	donor.ID = 20
	donor.ParentID = 1
	donor.Title = "donor"
	donor.UpnpClass = "object.item.audioItem.musicTrack"
	dRes := cds.NewResource(cds.HandlerID3, cds.PurposeThumbnail)
	dRes.Attributes[cds.AttrResourceFile] = "/m/art.jpg"
	donor.AddResource(dRes)

	r := testRenderer()
	r.Loader = func(id cds.ID) (*cds.Object, error) {
		if id == 20 {
			return donor, nil
		}
		return nil, cds.NewNotFoundError("object", "x")
	}

	c := cds.CreateObject(cds.KindContainer)
	c.ID = 7
	c.ParentID = 1
	c.Title = "album"
	c.UpnpClass = "object.container.album.musicAlbum"
	thumb := cds.NewResource(cds.HandlerID3, cds.PurposeThumbnail)
	thumb.Attributes[cds.AttrFanArtObjID] = "20"
	thumb.Attributes[cds.AttrFanArtResID] = "0"
	c.AddResource(thumb)

	out := string(r.RenderObject(c, DefaultQuirks()))
	assert.Contains(t, out, "/content/media/object_id/20/res_id/0")
}

func TestSamsungBookmarkQuirk(t *testing.T) {
	o := musicItem()
	o.Item.PlayStatus.LastPosition = 42

	q := DefaultQuirks()
	out := string(testRenderer().RenderObject(o, q))
	if strings.Contains(out, "sec:dcmInfo") {
		t.Error("bookmark element emitted without the quirk")
	}

	q.Flags = QuirkSamsungBookmark
	out = string(testRenderer().RenderObject(o, q))
	assert.Contains(t, out, "<sec:dcmInfo>CREATIONDATE=0,BM=42000</sec:dcmInfo>")
}

func TestSubtitleRendering(t *testing.T) {
	o := musicItem()
	o.UpnpClass = "object.item.videoItem"
	o.Item.MimeType = "video/x-matroska"
	sub := cds.NewResource(cds.HandlerSubtitle, cds.PurposeSubtitle)
	sub.Attributes[cds.AttrResourceFile] = "/m/a.srt"
	o.AddResource(sub)

	out := string(testRenderer().RenderObject(o, DefaultQuirks()))
	assert.Contains(t, out, `<sec:CaptionInfoEx sec:type="srt">`)

	// the caption cap suppresses the element entirely at zero
	q := DefaultQuirks()
	q.CaptionInfoCount = 0
	out = string(testRenderer().RenderObject(o, q))
	if strings.Contains(out, "CaptionInfoEx") {
		t.Error("caption emitted despite a zero cap")
	}
}

func TestRefItemExposesRefID(t *testing.T) {
	o := musicItem()
	o.RefID = 77
	out := string(testRenderer().RenderObject(o, DefaultQuirks()))
	assert.Contains(t, out, `refID="77"`)
}
