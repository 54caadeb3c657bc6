package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"nodelabels/internal/labels"
)

func TestSink_LabelsApplied(t *testing.T) {
	s := NewSink()

	s.LabelsApplied("w1", 2)
	s.LabelsApplied("w1", 1)
	s.LabelsApplied("w2", 0) // zero counts must not create a series

	if got := testutil.ToFloat64(s.labelsApplied.WithLabelValues("w1")); got != 3 {
		t.Errorf("expected 3 applied labels for w1, got %v", got)
	}
	if count := testutil.CollectAndCount(s.labelsApplied); count != 1 {
		t.Errorf("expected a single series, got %d", count)
	}
}

func TestSink_LabelsSyncedByAction(t *testing.T) {
	s := NewSink()

	s.LabelsSynced("w1", labels.Delta{
		Added:   map[string]string{"persist.demo/a": "1", "persist.demo/b": "2"},
		Changed: map[string]string{"persist.demo/c": "3"},
		Removed: []string{"persist.demo/d"},
	})

	if got := testutil.ToFloat64(s.labelsSynced.WithLabelValues("w1", "added")); got != 2 {
		t.Errorf("expected 2 added, got %v", got)
	}
	if got := testutil.ToFloat64(s.labelsSynced.WithLabelValues("w1", "changed")); got != 1 {
		t.Errorf("expected 1 changed, got %v", got)
	}
	if got := testutil.ToFloat64(s.labelsSynced.WithLabelValues("w1", "removed")); got != 1 {
		t.Errorf("expected 1 removed, got %v", got)
	}
}

func TestSink_HandlerErrorAndDuration(t *testing.T) {
	s := NewSink()

	s.HandlerError(HandlerUpdate)
	s.HandlerError(HandlerUpdate)
	s.ObserveHandler(HandlerResync, 25*time.Millisecond)

	if got := testutil.ToFloat64(s.handlerErrors.WithLabelValues(HandlerUpdate)); got != 2 {
		t.Errorf("expected 2 errors, got %v", got)
	}
	if count := testutil.CollectAndCount(s.handlerDuration); count != 1 {
		t.Errorf("expected one duration series, got %d", count)
	}
}

func TestSink_NodesTracked(t *testing.T) {
	s := NewSink()

	s.SetNodesTracked(5)
	if got := testutil.ToFloat64(s.nodesTracked); got != 5 {
		t.Errorf("expected gauge 5, got %v", got)
	}

	s.SetNodesTracked(3)
	if got := testutil.ToFloat64(s.nodesTracked); got != 3 {
		t.Errorf("expected gauge 3, got %v", got)
	}
}
