package config

import (
	"strings"
	"testing"
)

func validCfg(t *testing.T) Cfg {
	t.Helper()
	dir := t.TempDir()
	return Cfg{
		Import: Import{
			RootPath: dir,
		},
		UPnP: UPnP{
			Port:       8008,
			ServerName: "cdscore",
			StatusFile: "/var/lib/cdscore/status",
			MaxAge:     1800,
		},
		CacheDir: dir,
		LogDir:   dir,
	}
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	cfg := validCfg(t)
	if err := cfg.Validate(); err != nil {
		t.Errorf("minimal config rejected: %v", err)
	}
}

func TestValidateRejectsBadUUID(t *testing.T) {
	cfg := validCfg(t)
	cfg.UPnP.UUID = "not-a-uuid"
	if err := cfg.Validate(); err == nil {
		t.Error("invalid UDN accepted")
	}
	cfg.UPnP.UUID = "f47ac10b-58cc-4372-a567-0e02b2c3d479"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid UDN rejected: %v", err)
	}
}

func TestValidateRejectsBadFilterOp(t *testing.T) {
	cfg := validCfg(t)
	cfg.Import.MimetypeUpnpClass = []UpnpClassMapping{{
		Mime:    "audio/",
		Class:   "object.item.audioItem",
		Filters: []FilterRule{{Field: "x", Op: "~=", Value: "y"}},
	}}
	if err := cfg.Validate(); err == nil {
		t.Error("unknown filter operator accepted")
	}
}

func TestValidateRejectsBadLayoutRegex(t *testing.T) {
	cfg := validCfg(t)
	cfg.Import.LayoutMapping = []LayoutMapping{{From: "([", To: "x"}}
	if err := cfg.Validate(); err == nil {
		t.Error("broken layout regex accepted")
	}
}

func TestValidateRejectsTimedAutoscanWithoutInterval(t *testing.T) {
	cfg := validCfg(t)
	cfg.Import.AutoscanTimed = []Autoscan{{Location: "/music"}}
	if err := cfg.Validate(); err == nil {
		t.Error("timed autoscan without interval accepted")
	}
}

func TestValidateRejectsUnknownLayoutType(t *testing.T) {
	cfg := validCfg(t)
	cfg.Import.VirtualLayoutType = "lua"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown layout type accepted")
	}
}

func TestSupportedMimeTypes(t *testing.T) {
	cfg := validCfg(t)
	cfg.Import.MimetypeContenttype = map[string]string{"audio/mpeg": "mp3"}
	s := cfg.SupportedMimeTypes()
	if !strings.Contains(s, "http-get:*:audio/mpeg:*") {
		t.Errorf("SupportedMimeTypes = %q", s)
	}
	if strings.HasPrefix(s, ",") {
		t.Error("leading comma not trimmed")
	}
}
