package labels

// Delta describes the minimal set of changes that turns one label map into
// another. Keys in Added are absent from the old map, keys in Changed are
// present in both with different values, and keys in Removed are present in
// the old map only.
type Delta struct {
	Added   map[string]string
	Changed map[string]string
	Removed []string
}

// Empty reports whether the delta contains no changes at all.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Changed) == 0 && len(d.Removed) == 0
}

// Count returns the total number of keys touched by the delta.
func (d Delta) Count() int {
	return len(d.Added) + len(d.Changed) + len(d.Removed)
}

// Diff computes the delta from old to new. Both maps are expected to already
// be filtered to the configured prefix; Diff itself is prefix-agnostic.
func Diff(old, new map[string]string) Delta {
	d := Delta{
		Added:   make(map[string]string),
		Changed: make(map[string]string),
	}

	for k, v := range new {
		ov, ok := old[k]
		switch {
		case !ok:
			d.Added[k] = v
		case ov != v:
			d.Changed[k] = v
		}
	}

	for k := range old {
		if _, ok := new[k]; !ok {
			d.Removed = append(d.Removed, k)
		}
	}

	return d
}
