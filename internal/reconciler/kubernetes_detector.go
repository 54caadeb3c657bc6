package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	toolscache "k8s.io/client-go/tools/cache"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"nodelabels/internal/authority"
	"nodelabels/pkg/logging"
)

// KubernetesDetector implements Detector using controller-runtime informers.
//
// It watches Node objects cluster-wide and generates events when nodes are
// created, updated, or deleted. Each event carries the node's label map as
// observed at event time, so downstream reconciliation never has to re-fetch
// the node just to read its labels.
type KubernetesDetector struct {
	mu sync.RWMutex

	// restConfig is the Kubernetes REST configuration
	restConfig *rest.Config

	// cache is the controller-runtime cache watching Node objects
	cache cache.Cache

	// scheme is the runtime scheme with registered types
	scheme *runtime.Scheme

	// eventChan is the channel to send node events to
	eventChan chan<- NodeEvent

	ctx        context.Context
	cancelFunc context.CancelFunc
	running    bool

	// registration tracks the informer handler for cleanup
	registration toolscache.ResourceEventHandlerRegistration
}

// NewKubernetesDetector creates a detector backed by cluster informers.
func NewKubernetesDetector(restConfig *rest.Config) (*KubernetesDetector, error) {
	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))

	return &KubernetesDetector{
		restConfig: restConfig,
		scheme:     scheme,
	}, nil
}

// Start begins watching for node changes.
func (d *KubernetesDetector) Start(ctx context.Context, events chan<- NodeEvent) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}

	d.ctx, d.cancelFunc = context.WithCancel(ctx)
	d.eventChan = events
	d.running = true
	d.mu.Unlock()

	// Nodes are cluster-scoped, so no namespace restriction applies.
	c, err := cache.New(d.restConfig, cache.Options{Scheme: d.scheme})
	if err != nil {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		return fmt.Errorf("failed to create cache: %w", err)
	}

	d.mu.Lock()
	d.cache = c
	d.mu.Unlock()

	informer, err := c.GetInformer(d.ctx, &corev1.Node{})
	if err != nil {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		return fmt.Errorf("failed to get node informer: %w", err)
	}

	registration, err := informer.AddEventHandler(toolscache.ResourceEventHandlerFuncs{
		AddFunc:    d.handleAdd,
		UpdateFunc: d.handleUpdate,
		DeleteFunc: d.handleDelete,
	})
	if err != nil {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		return fmt.Errorf("failed to add node event handler: %w", err)
	}

	d.mu.Lock()
	d.registration = registration
	d.mu.Unlock()

	go func() {
		if err := c.Start(d.ctx); err != nil {
			logging.Error("KubernetesDetector", err, "Cache stopped with error")
		}
	}()

	if !c.WaitForCacheSync(d.ctx) {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		return fmt.Errorf("failed to sync node cache")
	}

	logging.Info("KubernetesDetector", "Started watching cluster nodes")
	return nil
}

// handleAdd processes a node add event from the informer.
func (d *KubernetesDetector) handleAdd(obj interface{}) {
	node, ok := obj.(*corev1.Node)
	if !ok {
		logging.Warn("KubernetesDetector", "Unexpected object type in add event: %T", obj)
		return
	}

	d.sendEvent(NodeEvent{
		Kind:      authority.EventCreated,
		NodeName:  node.Name,
		Labels:    copyLabels(node.Labels),
		Timestamp: time.Now(),
		Source:    SourceKubernetes,
	})
}

// handleUpdate processes a node update event from the informer. Updates that
// do not touch labels (heartbeats, status, taints) are dropped here so they
// never reach the queue.
func (d *KubernetesDetector) handleUpdate(oldObj, newObj interface{}) {
	oldNode, ok := oldObj.(*corev1.Node)
	if !ok {
		return
	}
	newNode, ok := newObj.(*corev1.Node)
	if !ok {
		logging.Warn("KubernetesDetector", "Unexpected object type in update event: %T", newObj)
		return
	}

	if labels.Equals(oldNode.Labels, newNode.Labels) {
		return
	}

	d.sendEvent(NodeEvent{
		Kind:      authority.EventUpdated,
		NodeName:  newNode.Name,
		Labels:    copyLabels(newNode.Labels),
		Timestamp: time.Now(),
		Source:    SourceKubernetes,
	})
}

// handleDelete processes a node delete event from the informer.
func (d *KubernetesDetector) handleDelete(obj interface{}) {
	// Handle DeletedFinalStateUnknown for nodes deleted while the watch
	// was disconnected.
	if deletedState, ok := obj.(toolscache.DeletedFinalStateUnknown); ok {
		obj = deletedState.Obj
	}

	node, ok := obj.(*corev1.Node)
	if !ok {
		logging.Warn("KubernetesDetector", "Unexpected object type in delete event: %T", obj)
		return
	}

	d.sendEvent(NodeEvent{
		Kind:      authority.EventDeleted,
		NodeName:  node.Name,
		Labels:    copyLabels(node.Labels),
		Timestamp: time.Now(),
		Source:    SourceKubernetes,
	})
}

// sendEvent sends a node event to the output channel.
func (d *KubernetesDetector) sendEvent(event NodeEvent) {
	d.mu.RLock()
	eventChan := d.eventChan
	running := d.running
	d.mu.RUnlock()

	if !running || eventChan == nil {
		return
	}

	select {
	case eventChan <- event:
		logging.Debug("KubernetesDetector", "Emitted %s event for node %s", event.Kind, event.NodeName)
	default:
		// The resync sweep covers the node later, so dropping under
		// backpressure is safe.
		logging.Warn("KubernetesDetector", "Event channel full, dropping %s event for node %s", event.Kind, event.NodeName)
	}
}

// ListNodes returns all nodes currently in the cache, for the resync sweep.
func (d *KubernetesDetector) ListNodes(ctx context.Context) ([]NodeEvent, error) {
	d.mu.RLock()
	c := d.cache
	running := d.running
	d.mu.RUnlock()

	if !running || c == nil {
		return nil, fmt.Errorf("detector not running")
	}

	var nodeList corev1.NodeList
	if err := c.List(ctx, &nodeList); err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	events := make([]NodeEvent, 0, len(nodeList.Items))
	for i := range nodeList.Items {
		node := &nodeList.Items[i]
		events = append(events, NodeEvent{
			Kind:      authority.EventResync,
			NodeName:  node.Name,
			Labels:    copyLabels(node.Labels),
			Timestamp: time.Now(),
			Source:    SourceKubernetes,
		})
	}
	return events, nil
}

// Source returns the event source type.
func (d *KubernetesDetector) Source() EventSource {
	return SourceKubernetes
}

// Stop gracefully stops the Kubernetes detector.
func (d *KubernetesDetector) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	d.running = false

	if d.cancelFunc != nil {
		d.cancelFunc()
	}

	// The registration is removed automatically when the cache stops.
	d.registration = nil

	logging.Info("KubernetesDetector", "Stopped Kubernetes detector")
	return nil
}

// copyLabels returns a copy of a label map, never nil.
func copyLabels(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// GetRestConfig returns the REST config using controller-runtime's detection
// chain (in-cluster config, then KUBECONFIG, then ~/.kube/config).
func GetRestConfig() (*rest.Config, error) {
	return ctrl.GetConfig()
}

// IsKubernetesAvailable checks if Kubernetes cluster access is available.
func IsKubernetesAvailable() bool {
	config, err := ctrl.GetConfig()
	if err != nil {
		return false
	}

	_, err = client.New(config, client.Options{})
	return err == nil
}
