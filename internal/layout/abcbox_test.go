package layout

import "testing"

func TestABCBoxSingleBucket(t *testing.T) {
	if got := ABCBox("Madonna", 1, "-"); got != "-ABCDEFGHIJKLMNOPQRSTUVWXYZ-" {
		t.Errorf("box-type 1 = %q", got)
	}
}

func TestABCBoxPerLetter(t *testing.T) {
	if got := ABCBox("Madonna", 26, "-"); got != "M" {
		t.Errorf("box-type 26 = %q", got)
	}
	if got := ABCBox("zz top", 26, "-"); got != "Z" {
		t.Errorf("lowercase initial = %q", got)
	}
}

func TestABCBoxDigitsAndSymbols(t *testing.T) {
	if got := ABCBox("10,000 Maniacs", 6, "-"); got != "0-9" {
		t.Errorf("digit initial = %q", got)
	}
	if got := ABCBox("!!!", 6, "-"); got != "#" {
		t.Errorf("symbol initial = %q", got)
	}
	if got := ABCBox("", 6, "-"); got != "#" {
		t.Errorf("empty string = %q", got)
	}
}

func TestABCBoxNonLatin(t *testing.T) {
	// diacritics fold onto their latin base letter
	if got := ABCBox("Ärzte", 26, "-"); got != "A" {
		t.Errorf("Ä = %q, want A", got)
	}
	// a non-latin script has no latin bucket and lands in #
	if got := ABCBox("東京事変", 6, "-"); got != "#" {
		t.Errorf("non-latin = %q, want #", got)
	}
}

func TestABCBoxRanges(t *testing.T) {
	// box-type 2 splits A-M / N-Z
	if got := ABCBox("Abba", 2, "-"); got != "A-M" {
		t.Errorf("first half = %q", got)
	}
	if got := ABCBox("Zappa", 2, "-"); got != "N-Z" {
		t.Errorf("second half = %q", got)
	}
	// every letter must land in exactly one box-type 6 bucket
	seen := map[string]bool{}
	for c := 'A'; c <= 'Z'; c++ {
		seen[ABCBox(string(c), 6, "-")] = true
	}
	if len(seen) != 6 {
		t.Errorf("box-type 6 produced %d distinct buckets: %v", len(seen), seen)
	}
}

func TestMapInitial(t *testing.T) {
	cases := map[rune]rune{'ä': 'A', 'Ö': 'O', 'é': 'E', 'a': 'A', 'Z': 'Z'}
	for in, want := range cases {
		if got := mapInitial(in); got != want {
			t.Errorf("mapInitial(%c) = %c, want %c", in, got, want)
		}
	}
}
