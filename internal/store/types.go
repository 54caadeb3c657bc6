// Package store provides durable per-node label records.
//
// Two implementations exist behind the Store interface: a ConfigMap-backed
// store for cluster mode and a JSON-file store for the local demo mode. Both
// share the same persisted payload so inspection tooling works against
// either.
package store

import (
	"context"
	"time"
)

// StateRecord is the durable record of a node's last-known prefixed labels.
//
// The JSON field names are the interop contract: the payload is what lands in
// the ConfigMap's state.json key (or the record file in filesystem mode) and
// what the `nodelabels get` command reads back.
type StateRecord struct {
	NodeName   string            `json:"nodeName"`
	Labels     map[string]string `json:"labels"`
	CapturedAt time.Time         `json:"capturedAt"`
	LabelCount int               `json:"labelCount"`
}

// Store is the durable backend for per-node label records.
//
// Records are keyed by node name, created on first observed prefixed label,
// and updated in place afterwards. They are never deleted by the
// reconciliation engine, so a node that is deleted and re-created under the
// same name finds its labels waiting.
type Store interface {
	// Get returns the record for a node. The second return value is false
	// when no record exists. A record whose persisted payload cannot be
	// parsed is treated as absent (logged, never surfaced as an error);
	// the next sync repopulates it from the node.
	//
	// Transport failures are retried with bounded exponential backoff and
	// surface as ErrStoreUnavailable once the budget is exhausted.
	Get(ctx context.Context, nodeName string) (StateRecord, bool, error)

	// Upsert writes the given prefixed label set as the node's record,
	// creating the record if needed. The write is a read-modify-write
	// conditioned on the backend version being unchanged; detected
	// concurrent modifications retry the full cycle a fixed number of
	// times before surfacing ErrConflictExceeded.
	Upsert(ctx context.Context, nodeName string, labels map[string]string) error

	// List returns all known records, keyed by node name. Used by the
	// inspection CLI and the tracked-nodes gauge.
	List(ctx context.Context) ([]StateRecord, error)
}

// NewRecord builds a StateRecord for the given node and label set, stamping
// the capture time and derived label count.
func NewRecord(nodeName string, labels map[string]string) StateRecord {
	if labels == nil {
		labels = map[string]string{}
	}
	return StateRecord{
		NodeName:   nodeName,
		Labels:     labels,
		CapturedAt: time.Now().UTC(),
		LabelCount: len(labels),
	}
}
