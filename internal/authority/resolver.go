// Package authority implements the decision table at the heart of the
// reconciliation engine: for a given node event, which side (the live node or
// the durable record) is the source of truth, and what minimal deltas follow
// from that.
//
// Resolve is a pure function. It performs no I/O; the caller applies the
// returned deltas through the store and the node-patch collaborator. This
// separation keeps the authority rules independently testable.
package authority

import (
	"nodelabels/internal/labels"
	"nodelabels/internal/store"
)

// EventKind classifies an inbound node lifecycle event or resync trigger.
type EventKind string

const (
	// EventCreated fires when a node is observed for the first time or
	// re-created under a previously seen name. The stored record is
	// authoritative: labels it holds are re-applied to the node.
	EventCreated EventKind = "Created"

	// EventUpdated fires when a tracked node's label set changes. The
	// node is authoritative: the record is rewritten to match.
	EventUpdated EventKind = "Updated"

	// EventDeleted fires when a node is removed from the cluster. No
	// mutation: the record survives so it can be replayed on recreation.
	EventDeleted EventKind = "Deleted"

	// EventResync is the periodic safety-net trigger. It runs the same
	// comparison as EventUpdated, with the node authoritative, so both
	// paths share one algorithm.
	EventResync EventKind = "Resync"
)

// Patch describes a partial label update for a node. Only the listed keys are
// touched; labels outside the configured prefix are never read or written.
type Patch struct {
	Add    map[string]string
	Remove []string
}

// Empty reports whether the patch carries no changes.
func (p Patch) Empty() bool {
	return len(p.Add) == 0 && len(p.Remove) == 0
}

// Decision is the intended outcome of one reconciliation: an optional patch
// for the node and an optional new label set for the record.
type Decision struct {
	// NodePatch is the partial update to apply to the node. Empty when the
	// node already agrees with the record.
	NodePatch Patch

	// RecordLabels, when non-nil, is the exact label set to persist as the
	// node's record. Nil means no store write.
	RecordLabels map[string]string

	// RecordDelta is the record-perspective delta behind RecordLabels
	// (additions, value changes, removals), used for per-action metrics.
	RecordDelta labels.Delta
}

// Empty reports whether the decision requires no writes at all.
func (d Decision) Empty() bool {
	return d.NodePatch.Empty() && d.RecordLabels == nil
}

// Resolve maps an observed event to the deltas that bring node and record
// into agreement.
//
// nodeOwned must already be filtered to the configured prefix. recordExists
// distinguishes a genuinely absent record from one reduced to an empty label
// map; a malformed record reads as absent upstream and lands here the same
// way.
func Resolve(kind EventKind, nodeOwned map[string]string, record store.StateRecord, recordExists bool) Decision {
	switch kind {
	case EventCreated:
		return resolveCreated(nodeOwned, record, recordExists)
	case EventUpdated, EventResync:
		return resolveNodeAuthoritative(nodeOwned, record, recordExists)
	case EventDeleted:
		// The record is deliberately left untouched for recreation.
		return Decision{}
	default:
		return Decision{}
	}
}

// resolveCreated handles a new or re-created node: the record is
// authoritative. Stored labels missing from (or differing on) the node are
// patched onto it. A node with no usable record but carrying prefixed labels
// has them captured as its initial record.
func resolveCreated(nodeOwned map[string]string, record store.StateRecord, recordExists bool) Decision {
	if !recordExists || len(record.Labels) == 0 {
		if len(nodeOwned) > 0 {
			return Decision{
				RecordLabels: labels.Clone(nodeOwned),
				RecordDelta:  labels.Diff(nil, nodeOwned),
			}
		}
		return Decision{}
	}

	add := make(map[string]string)
	for k, v := range record.Labels {
		if nv, ok := nodeOwned[k]; !ok || nv != v {
			add[k] = v
		}
	}
	if len(add) == 0 {
		return Decision{}
	}
	return Decision{NodePatch: Patch{Add: add}}
}

// resolveNodeAuthoritative handles updates and resync sweeps: the node's
// current prefixed label set becomes the record, removals included. Agreement
// yields zero writes, which is what makes repeated invocation safe.
func resolveNodeAuthoritative(nodeOwned map[string]string, record store.StateRecord, recordExists bool) Decision {
	if !recordExists && len(nodeOwned) == 0 {
		// Records come into existence on the first observed prefixed
		// label, never as empty placeholders.
		return Decision{}
	}

	delta := labels.Diff(record.Labels, nodeOwned)
	if recordExists && delta.Empty() {
		return Decision{}
	}

	return Decision{
		RecordLabels: labels.Clone(nodeOwned),
		RecordDelta:  delta,
	}
}
