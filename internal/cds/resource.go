package cds

// HandlerType identifies which content handler produced a resource
// (the metadata extractor responsible for its attributes).
type HandlerType int

const (
	HandlerUnknown HandlerType = iota
	HandlerLibExif
	HandlerID3
	HandlerTranscode
	HandlerExtURL
	HandlerContainerArt
	HandlerFFmpegThumbnailer
	HandlerSubtitle
)

// Purpose classifies what role a resource plays when rendered.
type Purpose int

const (
	PurposeContent Purpose = iota
	PurposeThumbnail
	PurposeSubtitle
	PurposeTranscode
)

// AttrKey names a resource attribute, e.g. resolution or bitrate.
type AttrKey int

const (
	AttrSize AttrKey = iota
	AttrDuration
	AttrBitrate
	AttrSampleFreq
	AttrNrAudioChannels
	AttrResolution
	AttrColorDepth
	AttrProtocolInfo
	AttrResourceFile // local filesystem path the resource's bytes live at
	AttrFanArtObjID  // FANART_OBJ_ID: donor object when fan-art is borrowed
	AttrFanArtResID  // FANART_RES_ID: donor resource index
	AttrURL          // EXTURL handler: the remote URL to use verbatim
)

// Resource describes one renderable facet of an object: the primary content,
// a thumbnail, a subtitle track, or (transiently, at render time) a
// transcoding target. resId is assigned by AddResource and is stable for the
// lifetime of the owning object - it is never renumbered by removal.
type Resource struct {
	ResID       int
	HandlerType HandlerType
	Purpose     Purpose
	Attributes  map[AttrKey]string
	Parameters  map[string]string
	Options     map[string]string
}

// NewResource builds an empty resource ready for attribute population.
func NewResource(handler HandlerType, purpose Purpose) *Resource {
	return &Resource{
		HandlerType: handler,
		Purpose:     purpose,
		Attributes:  map[AttrKey]string{},
		Parameters:  map[string]string{},
		Options:     map[string]string{},
	}
}

// Clone deep-copies a resource so the copy has independent identity from its
// source - required by CdsObject.CopyTo, which must not let mutations on a
// clone bleed back into the original.
func (r *Resource) Clone() *Resource {
	c := &Resource{
		ResID:       r.ResID,
		HandlerType: r.HandlerType,
		Purpose:     r.Purpose,
		Attributes:  make(map[AttrKey]string, len(r.Attributes)),
		Parameters:  make(map[string]string, len(r.Parameters)),
		Options:     make(map[string]string, len(r.Options)),
	}
	for k, v := range r.Attributes {
		c.Attributes[k] = v
	}
	for k, v := range r.Parameters {
		c.Parameters[k] = v
	}
	for k, v := range r.Options {
		c.Options[k] = v
	}
	return c
}
