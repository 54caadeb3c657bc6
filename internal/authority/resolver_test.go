package authority

import (
	"testing"

	"nodelabels/internal/store"
)

func record(labels map[string]string) store.StateRecord {
	return store.NewRecord("w1", labels)
}

func TestResolve_CreatedRestoresStoredLabels(t *testing.T) {
	stored := record(map[string]string{
		"persist.demo/type": "expensive",
		"persist.demo/zone": "eu-west-1a",
	})
	// Node re-registers with one stale value and one key missing.
	nodeOwned := map[string]string{"persist.demo/zone": "us-east-1b"}

	d := Resolve(EventCreated, nodeOwned, stored, true)

	if d.RecordLabels != nil {
		t.Error("Created with an existing record must not write the record")
	}
	if len(d.NodePatch.Add) != 2 {
		t.Fatalf("expected 2 keys patched onto the node, got %v", d.NodePatch.Add)
	}
	if d.NodePatch.Add["persist.demo/type"] != "expensive" {
		t.Errorf("missing key not restored: %v", d.NodePatch.Add)
	}
	if d.NodePatch.Add["persist.demo/zone"] != "eu-west-1a" {
		t.Errorf("differing value not overwritten from record: %v", d.NodePatch.Add)
	}
	if len(d.NodePatch.Remove) != 0 {
		t.Errorf("Created must never remove node labels, got %v", d.NodePatch.Remove)
	}
}

func TestResolve_CreatedAgreement(t *testing.T) {
	stored := record(map[string]string{"persist.demo/type": "expensive"})
	nodeOwned := map[string]string{"persist.demo/type": "expensive"}

	d := Resolve(EventCreated, nodeOwned, stored, true)
	if !d.Empty() {
		t.Errorf("agreement must produce zero writes, got %+v", d)
	}
}

func TestResolve_CreatedCapturesInitialLabels(t *testing.T) {
	// A truly new node with prefixed labels gets them captured.
	nodeOwned := map[string]string{"persist.demo/type": "expensive"}

	d := Resolve(EventCreated, nodeOwned, store.StateRecord{}, false)

	if !d.NodePatch.Empty() {
		t.Errorf("nothing to restore onto a brand-new node, got %+v", d.NodePatch)
	}
	if d.RecordLabels == nil || d.RecordLabels["persist.demo/type"] != "expensive" {
		t.Errorf("expected initial capture into the record, got %v", d.RecordLabels)
	}
	if len(d.RecordDelta.Added) != 1 {
		t.Errorf("expected one addition in the delta, got %+v", d.RecordDelta)
	}
}

func TestResolve_CreatedNothingToDo(t *testing.T) {
	d := Resolve(EventCreated, map[string]string{}, store.StateRecord{}, false)
	if !d.Empty() {
		t.Errorf("no record and no owned labels must be a no-op, got %+v", d)
	}
}

func TestResolve_CreatedEmptyRecordAppliesNothing(t *testing.T) {
	// Corruption tolerance: a malformed record reads as absent upstream,
	// so a Created event proceeds with nothing to restore.
	d := Resolve(EventCreated, map[string]string{}, store.StateRecord{}, false)
	if !d.Empty() {
		t.Errorf("expected no-op for empty record and unlabeled node, got %+v", d)
	}
}

func TestResolve_UpdatedSyncsNodeToRecord(t *testing.T) {
	stored := record(map[string]string{
		"persist.demo/type": "cheap",
		"persist.demo/gone": "yes",
	})
	nodeOwned := map[string]string{
		"persist.demo/type": "expensive",
		"persist.demo/role": "worker",
	}

	d := Resolve(EventUpdated, nodeOwned, stored, true)

	if !d.NodePatch.Empty() {
		t.Errorf("Updated must never patch the node, got %+v", d.NodePatch)
	}
	if d.RecordLabels == nil {
		t.Fatal("expected a record write")
	}
	if len(d.RecordLabels) != 2 {
		t.Errorf("record must match the node exactly, got %v", d.RecordLabels)
	}
	if _, ok := d.RecordLabels["persist.demo/gone"]; ok {
		t.Error("removed key must not survive in the record")
	}
	if len(d.RecordDelta.Added) != 1 || len(d.RecordDelta.Changed) != 1 || len(d.RecordDelta.Removed) != 1 {
		t.Errorf("unexpected delta: %+v", d.RecordDelta)
	}
}

func TestResolve_UpdatedIdempotent(t *testing.T) {
	stored := record(map[string]string{"persist.demo/type": "expensive"})
	nodeOwned := map[string]string{"persist.demo/type": "expensive"}

	d := Resolve(EventUpdated, nodeOwned, stored, true)
	if !d.Empty() {
		t.Errorf("agreement must produce zero writes, got %+v", d)
	}
}

func TestResolve_UpdatedRemovalPropagates(t *testing.T) {
	stored := record(map[string]string{"persist.demo/type": "expensive"})

	d := Resolve(EventUpdated, map[string]string{}, stored, true)

	if d.RecordLabels == nil {
		t.Fatal("expected the record to be rewritten")
	}
	if len(d.RecordLabels) != 0 {
		t.Errorf("record must be reduced to empty, got %v", d.RecordLabels)
	}
	if len(d.RecordDelta.Removed) != 1 {
		t.Errorf("expected one removal in the delta, got %+v", d.RecordDelta)
	}
}

func TestResolve_UpdatedNoRecordNoLabels(t *testing.T) {
	d := Resolve(EventUpdated, map[string]string{}, store.StateRecord{}, false)
	if !d.Empty() {
		t.Errorf("no record and no owned labels must not create an empty record, got %+v", d)
	}
}

func TestResolve_UpdatedNoRecordWithLabels(t *testing.T) {
	d := Resolve(EventUpdated, map[string]string{"persist.demo/type": "expensive"}, store.StateRecord{}, false)
	if d.RecordLabels == nil {
		t.Fatal("first observed prefixed label must create the record")
	}
}

func TestResolve_DeletedIsNoOp(t *testing.T) {
	stored := record(map[string]string{"persist.demo/type": "expensive"})

	d := Resolve(EventDeleted, nil, stored, true)
	if !d.Empty() {
		t.Errorf("Deleted must leave both sides untouched, got %+v", d)
	}
}

func TestResolve_ResyncMatchesUpdated(t *testing.T) {
	stored := record(map[string]string{"persist.demo/type": "cheap"})
	nodeOwned := map[string]string{"persist.demo/type": "expensive"}

	upd := Resolve(EventUpdated, nodeOwned, stored, true)
	rs := Resolve(EventResync, nodeOwned, stored, true)

	if rs.RecordLabels == nil || upd.RecordLabels == nil {
		t.Fatal("both paths must write the record")
	}
	if rs.RecordLabels["persist.demo/type"] != upd.RecordLabels["persist.demo/type"] {
		t.Error("resync and update must share one algorithm")
	}
}

func TestResolve_RoundTrip(t *testing.T) {
	// Spec scenario: w1 gains persist.demo/type=expensive, is deleted,
	// then re-registers bare. The label comes back.
	nodeOwned := map[string]string{"persist.demo/type": "expensive"}

	d := Resolve(EventUpdated, nodeOwned, store.StateRecord{}, false)
	if d.RecordLabels == nil {
		t.Fatal("update must capture the label")
	}
	stored := record(d.RecordLabels)

	d = Resolve(EventDeleted, nil, stored, true)
	if !d.Empty() {
		t.Fatal("delete must preserve the record")
	}

	d = Resolve(EventCreated, map[string]string{}, stored, true)
	if d.NodePatch.Add["persist.demo/type"] != "expensive" {
		t.Errorf("recreated node must be re-labeled from the record, got %+v", d.NodePatch)
	}
}
