package reconciler

import (
	"context"
	"time"

	"nodelabels/internal/authority"
)

// NodeEvent is a node lifecycle event delivered by a detector, carrying the
// node's full label snapshot at observation time.
type NodeEvent struct {
	// Kind is the lifecycle transition observed.
	Kind authority.EventKind

	// NodeName identifies the node. Names are cluster-unique at any
	// instant and reusable after deletion.
	NodeName string

	// Labels is the node's full label map at observation time. The
	// engine only reads the subset under the configured prefix.
	Labels map[string]string

	// Timestamp is when the event was observed.
	Timestamp time.Time

	// Source indicates where the event came from.
	Source EventSource
}

// EventSource indicates where a node event originated.
type EventSource string

const (
	// SourceKubernetes indicates the event came from cluster informers.
	SourceKubernetes EventSource = "Kubernetes"

	// SourceFilesystem indicates the event came from snapshot watching.
	SourceFilesystem EventSource = "Filesystem"

	// SourceResync indicates the event was synthesized by the periodic
	// sweep.
	SourceResync EventSource = "Resync"
)

// ReconcileRequest is one unit of work: reconcile a single node based on an
// observed event.
type ReconcileRequest struct {
	// NodeName is the per-node serialization key: two requests for the
	// same name are never processed concurrently.
	NodeName string

	// Kind is the event kind driving the authority decision.
	Kind authority.EventKind

	// Labels is the node's label snapshot carried by the event.
	Labels map[string]string

	// Attempt is the current retry attempt number (starts at 1).
	Attempt int

	// LastError is the error from the previous attempt, if any.
	LastError error
}

// ReconcileResult is the outcome of one reconciliation attempt.
type ReconcileResult struct {
	// Requeue indicates the request should be retried with backoff.
	Requeue bool

	// Error is any error that occurred during reconciliation.
	Error error
}

// Detector delivers node lifecycle events from an external source.
//
// Delivery is at-least-once: duplicates and a full relist on (re)connect are
// expected, which is why reconciliation must be idempotent.
type Detector interface {
	// Start begins watching and sends events to the provided channel
	// until the context is cancelled or Stop is called.
	Start(ctx context.Context, events chan<- NodeEvent) error

	// Stop gracefully stops the detector.
	Stop() error

	// ListNodes returns a snapshot of every currently known node, used
	// by the periodic resync sweep.
	ListNodes(ctx context.Context) ([]NodeEvent, error)

	// Source returns the event source this detector provides.
	Source() EventSource
}
