// Package nodepatch applies partial label updates to nodes.
//
// A patch touches only the specific prefixed keys being added, changed, or
// removed; it never clobbers labels outside the configured prefix. The
// Kubernetes implementation rides on a JSON merge patch against
// metadata.labels, where a null value deletes a key.
package nodepatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"

	"nodelabels/internal/authority"
	"nodelabels/pkg/logging"
)

// ErrNodePatchFailed indicates the node patch could not be applied even after
// the bounded retry budget. The caller counts it and leaves repair to the
// next event or resync tick.
var ErrNodePatchFailed = errors.New("node patch failed")

// Patcher is the node-patch collaborator consumed by the reconciliation
// engine.
type Patcher interface {
	// Apply applies the given partial label update to the node. An empty
	// patch is a no-op.
	Apply(ctx context.Context, nodeName string, patch authority.Patch) error
}

// KubernetesPatcher patches node labels through the API server.
type KubernetesPatcher struct {
	client  kubernetes.Interface
	backoff wait.Backoff
}

var _ Patcher = (*KubernetesPatcher)(nil)

// NewKubernetesPatcher creates a patcher using the given clientset.
func NewKubernetesPatcher(client kubernetes.Interface) *KubernetesPatcher {
	return &KubernetesPatcher{
		client: client,
		backoff: wait.Backoff{
			Duration: 250 * time.Millisecond,
			Factor:   2.0,
			Jitter:   0.1,
			Steps:    4,
		},
	}
}

// Apply implements Patcher.
func (p *KubernetesPatcher) Apply(ctx context.Context, nodeName string, patch authority.Patch) error {
	if patch.Empty() {
		return nil
	}

	body, err := mergePatchBody(patch)
	if err != nil {
		return fmt.Errorf("encoding patch for node %s: %w", nodeName, err)
	}

	var lastErr error
	err = wait.ExponentialBackoffWithContext(ctx, p.backoff, func(ctx context.Context) (bool, error) {
		_, patchErr := p.client.CoreV1().Nodes().Patch(ctx, nodeName, types.MergePatchType, body, metav1.PatchOptions{})
		if patchErr == nil {
			return true, nil
		}
		if apierrors.IsNotFound(patchErr) {
			// Node vanished between event and patch; nothing to do,
			// the record stays put for its return.
			logging.Debug("NodePatcher", "Node %s gone before patch, skipping", nodeName)
			return true, nil
		}
		if retriablePatchError(patchErr) {
			lastErr = patchErr
			return false, nil
		}
		return false, patchErr
	})
	if err != nil {
		if wait.Interrupted(err) && lastErr != nil {
			err = lastErr
		}
		return fmt.Errorf("%w: node %s: %v", ErrNodePatchFailed, nodeName, err)
	}

	logging.Info("NodePatcher", "Patched node %s: +%d labels, -%d labels", nodeName, len(patch.Add), len(patch.Remove))
	return nil
}

// mergePatchBody builds the JSON merge patch touching exactly the keys in
// the patch. Removed keys map to null, which deletes them server-side.
func mergePatchBody(patch authority.Patch) ([]byte, error) {
	labels := make(map[string]interface{}, len(patch.Add)+len(patch.Remove))
	for k, v := range patch.Add {
		labels[k] = v
	}
	for _, k := range patch.Remove {
		labels[k] = nil
	}

	return json.Marshal(map[string]interface{}{
		"metadata": map[string]interface{}{
			"labels": labels,
		},
	})
}

// retriablePatchError reports whether a patch failure is transient (API
// hiccup, conflict) rather than permanent (permissions, bad request).
func retriablePatchError(err error) bool {
	if apierrors.IsConflict(err) || apierrors.IsServerTimeout(err) || apierrors.IsTimeout(err) ||
		apierrors.IsTooManyRequests(err) || apierrors.IsServiceUnavailable(err) ||
		apierrors.IsInternalError(err) {
		return true
	}
	if _, isStatus := err.(apierrors.APIStatus); !isStatus {
		return true
	}
	return false
}
