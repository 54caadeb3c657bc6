package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"

	"nodelabels/pkg/logging"
)

const (
	// configMapNamePrefix is prepended to the node name to form the
	// per-node ConfigMap name.
	configMapNamePrefix = "node-labels-"

	// stateDataKey is the ConfigMap data key holding the JSON payload.
	stateDataKey = "state.json"

	// managedByLabelKey marks ConfigMaps owned by this operator so List
	// can select them without scanning the whole namespace.
	managedByLabelKey   = "app.kubernetes.io/managed-by"
	managedByLabelValue = "node-label-operator"
)

// ConfigMapName returns the name of the ConfigMap holding the record for the
// given node.
func ConfigMapName(nodeName string) string {
	return configMapNamePrefix + nodeName
}

// ConfigMapStore persists StateRecords as per-node ConfigMaps.
//
// Optimistic concurrency rides on the ConfigMap's resourceVersion: updates go
// through the API server's conditional write, and a 409 restarts the whole
// read-modify-write cycle. Creation races (409 on create, 404 on update after
// a concurrent delete) are folded into the same retry loop.
type ConfigMapStore struct {
	client    kubernetes.Interface
	namespace string

	// conflictRetries bounds the read-modify-write cycles per Upsert.
	conflictRetries int

	// transportBackoff bounds retries against backend availability errors.
	transportBackoff wait.Backoff
}

var _ Store = (*ConfigMapStore)(nil)

// NewConfigMapStore creates a store writing to the given namespace.
func NewConfigMapStore(client kubernetes.Interface, namespace string) *ConfigMapStore {
	return &ConfigMapStore{
		client:          client,
		namespace:       namespace,
		conflictRetries: 4,
		transportBackoff: wait.Backoff{
			Duration: 200 * time.Millisecond,
			Factor:   2.0,
			Jitter:   0.1,
			Steps:    4,
		},
	}
}

// Get implements Store.
func (s *ConfigMapStore) Get(ctx context.Context, nodeName string) (StateRecord, bool, error) {
	var cm *corev1.ConfigMap

	err := s.withTransportRetry(ctx, func() error {
		var getErr error
		cm, getErr = s.client.CoreV1().ConfigMaps(s.namespace).Get(ctx, ConfigMapName(nodeName), metav1.GetOptions{})
		return getErr
	})
	if apierrors.IsNotFound(err) {
		return StateRecord{}, false, nil
	}
	if err != nil {
		return StateRecord{}, false, fmt.Errorf("%w: reading record for %s: %v", ErrStoreUnavailable, nodeName, err)
	}

	record, ok := decodeRecord(nodeName, []byte(cm.Data[stateDataKey]))
	return record, ok, nil
}

// Upsert implements Store.
func (s *ConfigMapStore) Upsert(ctx context.Context, nodeName string, labels map[string]string) error {
	record := NewRecord(nodeName, labels)
	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding record for %s: %w", nodeName, err)
	}

	name := ConfigMapName(nodeName)
	var lastErr error

	for attempt := 1; attempt <= s.conflictRetries; attempt++ {
		var existing *corev1.ConfigMap
		err := s.withTransportRetry(ctx, func() error {
			var getErr error
			existing, getErr = s.client.CoreV1().ConfigMaps(s.namespace).Get(ctx, name, metav1.GetOptions{})
			return getErr
		})

		switch {
		case apierrors.IsNotFound(err):
			cm := s.newConfigMap(name, payload)
			_, createErr := s.client.CoreV1().ConfigMaps(s.namespace).Create(ctx, cm, metav1.CreateOptions{})
			if createErr == nil {
				logging.Debug("StateStore", "Created record for %s (%d labels)", nodeName, record.LabelCount)
				return nil
			}
			if apierrors.IsAlreadyExists(createErr) {
				// Lost a creation race; re-read and update.
				lastErr = createErr
				s.sleepBackoff(ctx, attempt)
				continue
			}
			if isTransportError(createErr) {
				return fmt.Errorf("%w: creating record for %s: %v", ErrStoreUnavailable, nodeName, createErr)
			}
			return fmt.Errorf("creating record for %s: %w", nodeName, createErr)

		case err != nil:
			return fmt.Errorf("%w: reading record for %s: %v", ErrStoreUnavailable, nodeName, err)
		}

		// Conditional write: the resourceVersion from the read is carried
		// into the update, so a concurrent writer surfaces as a 409.
		updated := existing.DeepCopy()
		if updated.Labels == nil {
			updated.Labels = map[string]string{}
		}
		updated.Labels[managedByLabelKey] = managedByLabelValue
		updated.Data = map[string]string{stateDataKey: string(payload)}

		_, updateErr := s.client.CoreV1().ConfigMaps(s.namespace).Update(ctx, updated, metav1.UpdateOptions{})
		if updateErr == nil {
			logging.Debug("StateStore", "Updated record for %s (%d labels)", nodeName, record.LabelCount)
			return nil
		}
		if apierrors.IsConflict(updateErr) || apierrors.IsNotFound(updateErr) {
			// Conflict, or the record was deleted between read and write.
			// Either way the next cycle re-reads and repairs.
			lastErr = updateErr
			s.sleepBackoff(ctx, attempt)
			continue
		}
		if isTransportError(updateErr) {
			return fmt.Errorf("%w: updating record for %s: %v", ErrStoreUnavailable, nodeName, updateErr)
		}
		return fmt.Errorf("updating record for %s: %w", nodeName, updateErr)
	}

	return fmt.Errorf("%w: record for %s after %d attempts: %v", ErrConflictExceeded, nodeName, s.conflictRetries, lastErr)
}

// List implements Store.
func (s *ConfigMapStore) List(ctx context.Context) ([]StateRecord, error) {
	var cms *corev1.ConfigMapList

	err := s.withTransportRetry(ctx, func() error {
		var listErr error
		cms, listErr = s.client.CoreV1().ConfigMaps(s.namespace).List(ctx, metav1.ListOptions{
			LabelSelector: managedByLabelKey + "=" + managedByLabelValue,
		})
		return listErr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing records: %v", ErrStoreUnavailable, err)
	}

	records := make([]StateRecord, 0, len(cms.Items))
	for _, cm := range cms.Items {
		if record, ok := decodeRecord(cm.Name, []byte(cm.Data[stateDataKey])); ok {
			records = append(records, record)
		}
	}
	return records, nil
}

func (s *ConfigMapStore) newConfigMap(name string, payload []byte) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: s.namespace,
			Labels: map[string]string{
				managedByLabelKey: managedByLabelValue,
			},
		},
		Data: map[string]string{stateDataKey: string(payload)},
	}
}

// withTransportRetry runs fn, retrying backend availability failures with
// bounded exponential backoff. Status errors that are not availability
// related (404, 409, 403) pass through untouched.
func (s *ConfigMapStore) withTransportRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	err := wait.ExponentialBackoffWithContext(ctx, s.transportBackoff, func(ctx context.Context) (bool, error) {
		err := fn()
		if err == nil {
			return true, nil
		}
		if isTransportError(err) {
			lastErr = err
			return false, nil
		}
		return false, err
	})
	if wait.Interrupted(err) && lastErr != nil {
		return lastErr
	}
	return err
}

// isTransportError reports whether the error represents a backend
// availability problem worth retrying, as opposed to a semantic status.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	if apierrors.IsServerTimeout(err) || apierrors.IsTimeout(err) ||
		apierrors.IsTooManyRequests(err) || apierrors.IsServiceUnavailable(err) ||
		apierrors.IsInternalError(err) {
		return true
	}
	// Non-status errors (connection refused, DNS) have no APIStatus.
	if _, isStatus := err.(apierrors.APIStatus); !isStatus {
		return true
	}
	return false
}

func (s *ConfigMapStore) sleepBackoff(ctx context.Context, attempt int) {
	delay := time.Duration(attempt) * 100 * time.Millisecond
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

// decodeRecord parses a persisted payload, substituting an empty record on
// corruption. The condition is logged and never propagated: the next sync
// repopulates the record from the authoritative node state.
func decodeRecord(name string, payload []byte) (StateRecord, bool) {
	if len(payload) == 0 {
		logging.Warn("StateStore", "Record %s has no payload, treating as absent", name)
		return StateRecord{}, false
	}

	var record StateRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		logging.Error("StateStore", err, "Record %s is malformed, treating as absent", name)
		return StateRecord{}, false
	}
	if record.Labels == nil {
		record.Labels = map[string]string{}
	}
	return record, true
}
