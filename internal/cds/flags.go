package cds

import (
	"fmt"
	"strconv"
	"strings"
)

// Flag is a bit in an object's flag set. Bit positions are stable for
// on-the-wire interop and must never be renumbered.
type Flag uint32

const (
	FlagRestricted Flag = 1 << iota
	FlagSearchable
	FlagUseResourceRef
	FlagPersistentContainer
	FlagPlaylistRef
	FlagProxyURL
	FlagOnlineService
	FlagOggTheora
)

// DefaultFlags is the flag set a freshly constructed object carries.
const DefaultFlags = FlagRestricted

// flagLabels is iterated in declaration order so mapFlags produces a
// deterministic, stable label ordering.
var flagLabels = []struct {
	bit   Flag
	label string
}{
	{FlagRestricted, "Restricted"},
	{FlagSearchable, "Searchable"},
	{FlagUseResourceRef, "UseResourceRef"},
	{FlagPersistentContainer, "PersistentContainer"},
	{FlagPlaylistRef, "PlaylistRef"},
	{FlagProxyURL, "ProxyURL"},
	{FlagOnlineService, "OnlineService"},
	{FlagOggTheora, "OggTheora"},
}

// MapFlags renders a flag set as a "|"-joined label list. Bits that carry no
// well-known label are rendered as a "0xNN" hex token so the round trip
// through RemapFlags never loses information.
func MapFlags(f Flag) string {
	var parts []string
	var known Flag
	for _, fl := range flagLabels {
		if f&fl.bit != 0 {
			parts = append(parts, fl.label)
			known |= fl.bit
		}
	}
	if rest := f &^ known; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%02X", uint32(rest)))
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "|")
}

// RemapFlags parses the label list produced by MapFlags (or hand-authored
// configuration using the same grammar) back into a flag set.
func RemapFlags(s string) Flag {
	var f Flag
	if s == "" {
		return 0
	}
	for _, tok := range strings.Split(s, "|") {
		f |= MakeFlag(tok)
	}
	return f
}

// MakeFlag resolves a single token - either a well-known label or a "0xNN"
// literal - to its flag value.
func MakeFlag(tok string) Flag {
	tok = strings.TrimSpace(tok)
	for _, fl := range flagLabels {
		if fl.label == tok {
			return fl.bit
		}
	}
	if strings.HasPrefix(tok, "0x") || strings.HasPrefix(tok, "0X") {
		n, err := strconv.ParseUint(tok[2:], 16, 32)
		if err == nil {
			return Flag(n)
		}
	}
	return 0
}

// MakeFlagCSV accumulates every token in a comma-separated option value via
// bitwise OR, the form configuration files use to enable several flags at
// once (e.g. "Restricted,Searchable").
func MakeFlagCSV(csv string) Flag {
	var f Flag
	for _, tok := range strings.Split(csv, ",") {
		f |= MakeFlag(tok)
	}
	return f
}
