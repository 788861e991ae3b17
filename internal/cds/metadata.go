package cds

// metaPair is one entry in an object's metadata list. Order of insertion is
// significant - it is the order renderers walk when emitting DIDL elements.
type metaPair struct {
	key   string
	value string
}

// MetaList is an ordered multimap: several values can share a key (artist,
// genre, ...) and are preserved in insertion order, while a handful of
// well-known keys are kept single-valued.
type MetaList []metaPair

// singleValuedMetaKeys enforces invariant 4: these keys may appear at most
// once. A later AddMeta call on one of them replaces the existing entry.
var singleValuedMetaKeys = map[string]bool{
	"dc:title":       true,
	"dc:date":        true,
	"upnp:date":      true,
	"upnp:album":     true,
	"dc:description": true,
}

// Add appends a metadata value, replacing any existing entry first if key is
// single-valued.
func (m *MetaList) Add(key, value string) {
	if singleValuedMetaKeys[key] {
		m.Remove(key)
	}
	*m = append(*m, metaPair{key, value})
}

// Set replaces every existing entry for key with exactly one value.
func (m *MetaList) Set(key, value string) {
	m.Remove(key)
	*m = append(*m, metaPair{key, value})
}

// Remove drops every entry for key.
func (m *MetaList) Remove(key string) {
	out := (*m)[:0]
	for _, p := range *m {
		if p.key != key {
			out = append(out, p)
		}
	}
	*m = out
}

// Clear empties the metadata list.
func (m *MetaList) Clear() { *m = nil }

// Get returns the first value stored for key, or "" if absent.
func (m MetaList) Get(key string) string {
	for _, p := range m {
		if p.key == key {
			return p.value
		}
	}
	return ""
}

// Group returns every value stored for key, in insertion order.
func (m MetaList) Group(key string) []string {
	var vals []string
	for _, p := range m {
		if p.key == key {
			vals = append(vals, p.value)
		}
	}
	return vals
}

// Groups returns every key mapped to its values, each list in insertion
// order and keys in first-seen order - used by the DIDL renderer to walk
// metadata without re-deriving group membership per key.
func (m MetaList) Groups() (keys []string, groups map[string][]string) {
	groups = map[string][]string{}
	for _, p := range m {
		if _, ok := groups[p.key]; !ok {
			keys = append(keys, p.key)
		}
		groups[p.key] = append(groups[p.key], p.value)
	}
	return
}

// Clone returns an independent copy.
func (m MetaList) Clone() MetaList {
	c := make(MetaList, len(m))
	copy(c, m)
	return c
}

// AuxData is import-time scratch storage, cleared at the start of each
// import pipeline run and populated by metadata handlers for later stages
// (e.g. layout filters) to consult.
type AuxData map[string]string

// Clone returns an independent copy.
func (a AuxData) Clone() AuxData {
	c := make(AuxData, len(a))
	for k, v := range a {
		c[k] = v
	}
	return c
}
