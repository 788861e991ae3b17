package inotify

import (
	"reflect"
	"testing"
)

func TestPathSegments(t *testing.T) {
	if got := pathSegments("/a/b/c"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("pathSegments = %v", got)
	}
	if got := pathSegments("/"); got != nil {
		t.Errorf("pathSegments(/) = %v", got)
	}
}

func TestIsPathUnder(t *testing.T) {
	cases := []struct {
		path, root string
		want       bool
	}{
		{"/a/b", "/a", true},
		{"/a", "/a", true},
		{"/ab", "/a", false},
		{"/a/b/c", "/a/b", true},
		{"/x", "/a", false},
	}
	for _, c := range cases {
		if got := isPathUnder(c.path, c.root); got != c.want {
			t.Errorf("isPathUnder(%q, %q) = %v, want %v", c.path, c.root, got, c.want)
		}
	}
}

func TestAncestors(t *testing.T) {
	got := ancestors("/a/b/c")
	want := []string{"/a/b", "/a", "/"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ancestors = %v, want %v", got, want)
	}
}

func TestNearestExisting(t *testing.T) {
	exists := func(p string) bool { return p == "/a" || p == "/" }

	anchor, missing := nearestExisting("/a/b/c", exists)
	if anchor != "/a" || !reflect.DeepEqual(missing, []string{"b", "c"}) {
		t.Errorf("nearestExisting = %q, %v", anchor, missing)
	}

	anchor, missing = nearestExisting("/a", exists)
	if anchor != "/a" || missing != nil {
		t.Errorf("existing path: %q, %v", anchor, missing)
	}

	anchor, missing = nearestExisting("/x/y", exists)
	if anchor != "/" || !reflect.DeepEqual(missing, []string{"x", "y"}) {
		t.Errorf("root fallback: %q, %v", anchor, missing)
	}
}

func TestWdWatchBookkeeping(t *testing.T) {
	d := &wd{path: "/a"}
	d.watches = append(d.watches,
		&watch{kind: watchAutoscan},
		&watch{kind: watchMove, removeWd: 7},
		&watch{kind: watchMove, removeWd: 8},
	)

	if aw := d.autoscanWatch(); aw == nil || aw.kind != watchAutoscan {
		t.Error("autoscanWatch did not find the autoscan record")
	}

	d.removeMoveWatches(7)
	if len(d.watches) != 2 {
		t.Errorf("removeMoveWatches left %d watches, want 2", len(d.watches))
	}
	for _, w := range d.watches {
		if w.kind == watchMove && w.removeWd == 7 {
			t.Error("move watch for wd 7 survived removal")
		}
	}
}
