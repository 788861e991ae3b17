package cds

import (
	"testing"
)

func TestMapFlagsRoundTrip(t *testing.T) {
	cases := []Flag{
		0,
		FlagRestricted,
		FlagRestricted | FlagSearchable,
		FlagUseResourceRef | FlagPlaylistRef | FlagOggTheora,
		FlagRestricted | FlagSearchable | FlagUseResourceRef | FlagPersistentContainer |
			FlagPlaylistRef | FlagProxyURL | FlagOnlineService | FlagOggTheora,
	}
	for _, f := range cases {
		if got := RemapFlags(MapFlags(f)); got != f {
			t.Errorf("RemapFlags(MapFlags(%#x)) = %#x", uint32(f), uint32(got))
		}
	}
}

func TestMapFlagsUnknownBits(t *testing.T) {
	f := FlagRestricted | Flag(1<<12)
	s := MapFlags(f)
	if got := RemapFlags(s); got != f {
		t.Errorf("unknown bits lost in round trip: %q -> %#x, want %#x", s, uint32(got), uint32(f))
	}
}

func TestMapFlagsLabels(t *testing.T) {
	if got := MapFlags(FlagRestricted | FlagSearchable); got != "Restricted|Searchable" {
		t.Errorf("MapFlags = %q, want Restricted|Searchable", got)
	}
}

func TestMakeFlagComposition(t *testing.T) {
	f := FlagRestricted | FlagProxyURL
	if got := MakeFlagCSV("Restricted,ProxyURL"); got != f {
		t.Errorf("MakeFlagCSV = %#x, want %#x", uint32(got), uint32(f))
	}
	// makeFlag over the mapped string composes back to the original
	var acc Flag
	for _, tok := range []string{"Restricted", "ProxyURL"} {
		acc |= MakeFlag(tok)
	}
	if acc != f {
		t.Errorf("MakeFlag accumulation = %#x, want %#x", uint32(acc), uint32(f))
	}
}

func TestMakeFlagHexToken(t *testing.T) {
	if got := MakeFlag("0x10"); got != Flag(0x10) {
		t.Errorf("MakeFlag(0x10) = %#x", uint32(got))
	}
	if got := MakeFlag("bogus"); got != 0 {
		t.Errorf("MakeFlag(bogus) = %#x, want 0", uint32(got))
	}
}
