// Package labels provides the pure label selection and comparison primitives
// used by the reconciliation engine.
//
// Only label keys under the configured prefix ever participate in
// persistence. Filter projects a node's full label map down to that subset,
// and Diff computes the minimal delta between two already-filtered maps.
// Both are total functions with no side effects, which keeps the authority
// logic independently testable.
package labels

import "strings"

// Filter returns the subset of labels whose keys start with prefix.
//
// The prefix is matched as a literal string prefix on the key, not a pattern.
// A nil or empty input map yields an empty (non-nil) result.
func Filter(labels map[string]string, prefix string) map[string]string {
	out := make(map[string]string)
	for k, v := range labels {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out
}

// Equal reports whether two label maps carry exactly the same keys and values.
func Equal(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// Clone returns a shallow copy of the given label map.
// A nil input yields an empty map so callers can mutate the result freely.
func Clone(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
