// Package config loads and validates the cdscore configuration file. The
// structures here are plain data; the server assembly converts them into the
// collaborator-specific shapes (mime map, layout, renderer, autoscans).
package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"regexp"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gitlab.com/mipimipi/go-utils/file"
)

// ValueKey represents value keys for contexts
type ValueKey string

const (
	// KeyCfg is the key for the cdscore configuration
	KeyCfg ValueKey = "cfg"
	// KeyVersion is the key for the cdscore version
	KeyVersion ValueKey = "version"
)

const (
	// CfgDir is the directory where the cdscore configuration is stored
	CfgDir = "/etc/cdscore"
	// IconDir is the directory where the server icons are stored
	IconDir = CfgDir + "/icons"
	// path of the configuration file
	cfgFilepath = CfgDir + "/config.json"
)

// Cfg stores the data from the cdscore configuration file
type Cfg struct {
	Import      Import               `json:"import"`
	UPnP        UPnP                 `json:"upnp"`
	Transcoding []TranscodingProfile `json:"transcoding"`
	CacheDir    string               `json:"cache_dir"`
	LogDir      string               `json:"log_dir"`
	LogLevel    string               `json:"log_level"`
}

// Import collects the import pipeline options.
type Import struct {
	RootPath string `json:"root_path"`

	FollowSymlinks    bool   `json:"follow_symlinks"`
	HiddenFiles       bool   `json:"hidden_files"`
	ReadableNames     bool   `json:"readable_names"`
	CaseSensitiveTags bool   `json:"case_sensitive_tags"`
	DefaultDate       bool   `json:"default_date"`
	NoMediaFile       string `json:"nomedia_file"`

	MimetypeContenttype map[string]string  `json:"mimetype_contenttype"`
	MimetypeUpnpClass   []UpnpClassMapping `json:"mimetype_upnpclass"`
	ContenttypeDlna     map[string]string  `json:"contenttype_dlnaprofile"`
	ContenttypeTransfer map[string]string  `json:"contenttype_dlnatransfer"`

	ResourcesOrder          []string `json:"resources_order"`
	ContainerArtParentCount int      `json:"containerart_parentcount"`
	ContainerArtMinDepth    int      `json:"containerart_mindepth"`

	LayoutMapping        []LayoutMapping `json:"layout_mapping"`
	VirtualDirectoryKeys [][]string      `json:"virtual_directory_keys"`

	// VirtualLayoutType selects the layout engine: builtin, js or none.
	VirtualLayoutType string `json:"virtual_layout_type"`
	// StructuredBoxType > 0 switches the builtin layout to the structured
	// variant with that many alphabet buckets.
	StructuredBoxType int    `json:"structured_box_type"`
	BoxSeparator      string `json:"box_separator"`

	AutoscanUseInotify bool       `json:"autoscan_use_inotify"`
	AutoscanTimed      []Autoscan `json:"autoscan_timed"`
	AutoscanInotify    []Autoscan `json:"autoscan_inotify"`
}

// UpnpClassMapping is one (mime prefix, upnp class, filters) triple; the
// filters are ANDed and the first matching mapping wins.
type UpnpClassMapping struct {
	Mime    string       `json:"mime"`
	Class   string       `json:"class"`
	Filters []FilterRule `json:"filters"`
}

// FilterRule is one predicate of an UpnpClassMapping's conjunction.
type FilterRule struct {
	Field string `json:"field"`
	Op    string `json:"op"` // =, !=, <, >, ==
	Value string `json:"value"`
}

// LayoutMapping is one regex substitution applied to virtual path segments.
type LayoutMapping struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Autoscan is one configured autoscan directory.
type Autoscan struct {
	Location        string `json:"location"`
	Recursive       bool   `json:"recursive"`
	Hidden          bool   `json:"hidden"`
	FollowSymlinks  bool   `json:"follow_symlinks"`
	IntervalSeconds int    `json:"interval"`
	Persistent      bool   `json:"persistent"`
}

// TranscodingProfile is one configured transcoding target for the renderer.
type TranscodingProfile struct {
	Name               string `json:"name"`
	SourceMimePrefix   string `json:"source_mime"`
	SourceDlnaProfile  string `json:"source_dlna_profile"`
	TargetMime         string `json:"target_mime"`
	TargetDlnaProfile  string `json:"target_dlna_profile"`
	FirstResource      bool   `json:"first_resource"`
	HideOriginal       bool   `json:"hide_original"`
	TranscodesTimeline bool   `json:"transcodes_timeline"`
}

// UPnP collects the UPnP server and rendering options.
type UPnP struct {
	Interfaces []string `json:"interfaces"`
	Port       int      `json:"port"`
	ServerName string   `json:"server_name"`
	UUID       string   `json:"udn"`
	MaxAge     int      `json:"max_age"`
	StatusFile string   `json:"status_file"`
	Device     Device   `json:"device"`

	MultiValues  bool `json:"multi_values"`
	CaptionCount int  `json:"caption_count"`
}

// Device describes the advertised UPnP root device.
type Device struct {
	Manufacturer     string `json:"manufacturer"`
	ManufacturerURL  string `json:"manufacturer_url"`
	ModelDescription string `json:"model_desc"`
	ModelName        string `json:"model_name"`
	ModelURL         string `json:"model_url"`
	ModelNumber      string `json:"model_no"`
	SerialNumber     string `json:"serial_no"`
	UPC              string `json:"upc"`
}

// Load reads the configuration file and returns the cdscore config as
// structure
func Load() (cfg Cfg, err error) {
	cfgFile, err := ioutil.ReadFile(cfgFilepath)
	if err != nil {
		return Cfg{}, errors.Wrapf(err, "config file '%s' couldn't be read", cfgFilepath)
	}

	if err = json.Unmarshal(cfgFile, &cfg); err != nil {
		return Cfg{}, errors.Wrapf(err, "config file '%s' couldn't be unmarshalled", cfgFilepath)
	}

	return
}

// Validate checks if the configuration is complete and correct. If it's not,
// an error is returned
func (me *Cfg) Validate() (err error) {
	if err = validateDir(me.CacheDir, "cache_dir"); err != nil {
		return
	}
	if err = validateDir(me.LogDir, "log_dir"); err != nil {
		return
	}
	if err = me.Import.validate(); err != nil {
		return
	}
	if err = me.UPnP.validate(); err != nil {
		return
	}
	for _, p := range me.Transcoding {
		if p.Name == "" {
			err = fmt.Errorf("every transcoding profile must have a name")
			return
		}
		if p.TargetMime == "" {
			err = fmt.Errorf("transcoding profile '%s' has no target mime type", p.Name)
			return
		}
	}
	return
}

// validate checks the import part of the configuration
func (me *Import) validate() (err error) {
	if err = validateDir(me.RootPath, "root_path"); err != nil {
		return
	}
	switch me.VirtualLayoutType {
	case "", "builtin", "js", "none":
	default:
		err = fmt.Errorf("unknown virtual_layout_type '%s'", me.VirtualLayoutType)
		return
	}
	if me.StructuredBoxType < 0 || me.StructuredBoxType > 26 {
		err = fmt.Errorf("structured_box_type must be between 0 and 26")
		return
	}
	for _, m := range me.MimetypeUpnpClass {
		if m.Mime == "" || m.Class == "" {
			err = fmt.Errorf("mimetype_upnpclass entries need both mime and class")
			return
		}
		for _, f := range m.Filters {
			switch f.Op {
			case "=", "==", "!=", "<", ">":
			default:
				err = fmt.Errorf("mimetype_upnpclass filter for '%s' has unknown operator '%s'", m.Mime, f.Op)
				return
			}
		}
	}
	for _, lm := range me.LayoutMapping {
		if _, err = regexp.Compile(lm.From); err != nil {
			err = errors.Wrapf(err, "layout_mapping pattern '%s' is not a valid regular expression", lm.From)
			return
		}
	}
	for _, a := range append(append([]Autoscan{}, me.AutoscanTimed...), me.AutoscanInotify...) {
		if a.Location == "" {
			err = fmt.Errorf("every autoscan needs a location")
			return
		}
	}
	for _, a := range me.AutoscanTimed {
		if a.IntervalSeconds <= 0 {
			err = fmt.Errorf("timed autoscan '%s' must have an interval > 0", a.Location)
			return
		}
	}
	return
}

// validate checks the UPnP part of the configuration
func (me *UPnP) validate() (err error) {
	if me.Port <= 0 {
		err = fmt.Errorf("port must be > 0")
		return
	}
	if len(me.ServerName) == 0 {
		err = fmt.Errorf("the server must have a name, but server_name is empty")
		return
	}
	// if a UUID/UDN is set it must be a valid UUID. If it's empty, a new and
	// valid UUID will be generated later on
	if len(me.UUID) > 0 {
		if _, err = uuid.Parse(me.UUID); err != nil {
			err = errors.Wrapf(err, "the server's UDN '%s' is not a valid UUID", me.UUID)
			return
		}
	}
	if len(me.StatusFile) == 0 {
		err = fmt.Errorf("status_file must not be empty")
		return
	}
	if me.MaxAge <= 0 {
		err = fmt.Errorf("max_age must be > 0")
		return
	}
	return
}

// SupportedMimeTypes assembles the protocol-info string for the mime types
// the server announces via the connection manager's SourceProtocolInfo
// state variable.
func (me *Cfg) SupportedMimeTypes() (s string) {
	seen := map[string]bool{}
	for m := range me.Import.MimetypeContenttype {
		if seen[m] {
			continue
		}
		seen[m] = true
		s += ",http-get:*:" + m + ":*"
	}
	if s == "" {
		return ""
	}
	// note: the leading comma must be removed
	return s[1:]
}

// Test reads the configuration file and checks the configuration for
// completeness and consistency
func Test() (err error) {
	var cfg Cfg

	if cfg, err = Load(); err != nil {
		err = errors.Wrapf(err, "the cdscore configuration file '%s' couldn't be read", cfgFilepath)
		return
	}

	if err = cfg.Validate(); err != nil {
		return
	}

	fmt.Println("Congrats: The cdscore configuration is complete and consistent :)")
	return
}

// validateDir checks if dir exists. name is the name that is used for that
// directory in the configuration
func validateDir(dir, name string) (err error) {
	if dir == "" {
		err = fmt.Errorf("no %s maintained", name)
		return
	}
	var exists bool
	if exists, err = file.Exists(dir); err != nil {
		err = errors.Wrapf(err, "cannot check if %s '%s' exists", name, dir)
		return
	}
	if !exists {
		err = fmt.Errorf("%s '%s' doesn't exist", name, dir)
		return
	}
	return
}
