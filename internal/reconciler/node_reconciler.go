package reconciler

import (
	"context"
	"fmt"
	"time"

	"nodelabels/internal/authority"
	"nodelabels/internal/labels"
	"nodelabels/internal/metrics"
	"nodelabels/internal/nodepatch"
	"nodelabels/internal/store"
	"nodelabels/pkg/logging"
)

// NodeReconciler performs one reconciliation for one node: filter the
// observed labels, consult the authority resolver, and apply the resulting
// deltas through the store and the node-patch collaborator.
//
// It holds no per-node state; serialization is the queue's job, and the
// durable record is the only memory of whether a node is tracked.
type NodeReconciler struct {
	prefix  string
	store   store.Store
	patcher nodepatch.Patcher
	sink    *metrics.Sink
}

// NewNodeReconciler wires a reconciler from its collaborators.
func NewNodeReconciler(prefix string, st store.Store, patcher nodepatch.Patcher, sink *metrics.Sink) *NodeReconciler {
	return &NodeReconciler{
		prefix:  prefix,
		store:   st,
		patcher: patcher,
		sink:    sink,
	}
}

// handlerName maps an event kind to its metrics handler label.
func handlerName(kind authority.EventKind) string {
	switch kind {
	case authority.EventCreated:
		return metrics.HandlerCreate
	case authority.EventUpdated:
		return metrics.HandlerUpdate
	case authority.EventDeleted:
		return metrics.HandlerDelete
	case authority.EventResync:
		return metrics.HandlerResync
	default:
		return string(kind)
	}
}

// Reconcile processes a single request. It is idempotent: when node and
// record already agree it performs zero writes, which is what makes
// at-least-once event delivery and the overlapping resync sweep safe.
func (r *NodeReconciler) Reconcile(ctx context.Context, req ReconcileRequest) (result ReconcileResult) {
	handler := handlerName(req.Kind)
	start := time.Now()
	defer func() {
		r.sink.ObserveHandler(handler, time.Since(start))

		// Unexpected failures must not take the worker down or leave
		// the node's slot poisoned; they are logged, counted, and left
		// for the next trigger.
		if p := recover(); p != nil {
			err := fmt.Errorf("panic reconciling node %s (%s): %v", req.NodeName, req.Kind, p)
			logging.Error("NodeReconciler", err, "Recovered from handler panic")
			r.sink.HandlerError(handler)
			result = ReconcileResult{Error: err}
		}
	}()

	if req.Kind == authority.EventDeleted {
		// The record is preserved for recreation; nothing to write.
		logging.Info("NodeReconciler", "Node %s deleted, preserving record for potential recreation", req.NodeName)
		return ReconcileResult{}
	}

	owned := labels.Filter(req.Labels, r.prefix)

	record, exists, err := r.store.Get(ctx, req.NodeName)
	if err != nil {
		r.sink.HandlerError(handler)
		return ReconcileResult{Error: fmt.Errorf("loading record: %w", err), Requeue: true}
	}

	// Stored labels are not trusted blindly: a hand-edited record, a
	// third-party write, or a record captured under a previous prefix may
	// carry keys outside the prefix. Those must never reach the node or
	// the metrics, so both sides of the comparison are filtered.
	record.Labels = labels.Filter(record.Labels, r.prefix)

	decision := authority.Resolve(req.Kind, owned, record, exists)
	if decision.Empty() {
		logging.Debug("NodeReconciler", "Node %s in sync (%s)", req.NodeName, req.Kind)
		return ReconcileResult{}
	}

	if !decision.NodePatch.Empty() {
		if err := r.patcher.Apply(ctx, req.NodeName, decision.NodePatch); err != nil {
			r.sink.HandlerError(handler)
			return ReconcileResult{Error: err, Requeue: true}
		}
		r.sink.LabelsApplied(req.NodeName, len(decision.NodePatch.Add))
		logging.Info("NodeReconciler", "Node %s: applied %d labels from record", req.NodeName, len(decision.NodePatch.Add))
	}

	if decision.RecordLabels != nil {
		if err := r.store.Upsert(ctx, req.NodeName, decision.RecordLabels); err != nil {
			r.sink.HandlerError(handler)
			return ReconcileResult{Error: err, Requeue: true}
		}
		r.sink.LabelsSynced(req.NodeName, decision.RecordDelta)
		logging.Info("NodeReconciler", "Node %s: synced record, +%d added, -%d removed, ~%d changed",
			req.NodeName, len(decision.RecordDelta.Added), len(decision.RecordDelta.Removed), len(decision.RecordDelta.Changed))
	}

	return ReconcileResult{}
}
