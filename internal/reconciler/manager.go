package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nodelabels/internal/authority"
	"nodelabels/internal/metrics"
	"nodelabels/internal/store"
	"nodelabels/pkg/logging"
)

// ManagerConfig holds configuration for the reconciliation Manager.
type ManagerConfig struct {
	// WorkerCount is the number of concurrent reconciliation workers.
	// Reconciliations for different nodes run in parallel; the queue
	// guarantees the same node is never reconciled concurrently.
	// Defaults to 2 if not specified.
	WorkerCount int

	// MaxRetries is the maximum number of attempts for a failed
	// reconciliation before it is left for the next event or sweep.
	// Defaults to 5 if not specified.
	MaxRetries int

	// InitialBackoff seeds the exponential retry backoff.
	// Defaults to 1 second if not specified.
	InitialBackoff time.Duration

	// MaxBackoff caps the retry backoff.
	// Defaults to 5 minutes if not specified.
	MaxBackoff time.Duration

	// ResyncInterval is the cadence of the periodic full sweep.
	// Defaults to 5 minutes if not specified.
	ResyncInterval time.Duration
}

// Manager routes node events into reconciliations.
//
// It owns the event channel, the work queue, the worker pool, and the
// periodic resync sweep. Events and resync ticks for the same node share the
// queue's per-node serialization slot, so the two trigger paths can never
// interleave on one node.
type Manager struct {
	mu sync.RWMutex

	config ManagerConfig

	// detector delivers node lifecycle events
	detector Detector

	// reconciler performs the per-node reconciliation
	reconciler *NodeReconciler

	// store is consulted for the tracked-nodes gauge
	store store.Store

	// sink receives observability signals
	sink *metrics.Sink

	// queue is the work queue for reconcile requests
	queue *delayedQueue

	// eventChan receives events from the detector
	eventChan chan NodeEvent

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	running    bool
}

// NewManager creates a reconciliation manager.
func NewManager(config ManagerConfig, detector Detector, reconciler *NodeReconciler, st store.Store, sink *metrics.Sink) *Manager {
	if config.WorkerCount == 0 {
		config.WorkerCount = 2
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 5
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = time.Second
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = 5 * time.Minute
	}
	if config.ResyncInterval == 0 {
		config.ResyncInterval = 5 * time.Minute
	}

	return &Manager{
		config:     config,
		detector:   detector,
		reconciler: reconciler,
		store:      st,
		sink:       sink,
		queue:      newDelayedQueue(),
		eventChan:  make(chan NodeEvent, 100),
	}
}

// Start begins the reconciliation system.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.ctx, m.cancelFunc = context.WithCancel(ctx)
	m.running = true
	m.mu.Unlock()

	if err := m.detector.Start(m.ctx, m.eventChan); err != nil {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		return fmt.Errorf("failed to start detector: %w", err)
	}

	m.wg.Add(1)
	go m.processEvents()

	for i := 0; i < m.config.WorkerCount; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}

	m.wg.Add(1)
	go m.resyncLoop()

	logging.Info("Manager", "Started with %d workers, resync every %v (source: %s)",
		m.config.WorkerCount, m.config.ResyncInterval, m.detector.Source())
	return nil
}

// processEvents converts detector events into reconcile requests.
func (m *Manager) processEvents() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case event, ok := <-m.eventChan:
			if !ok {
				return
			}
			logging.Debug("Manager", "Event: %s node %s", event.Kind, event.NodeName)
			m.queue.Add(ReconcileRequest{
				NodeName: event.NodeName,
				Kind:     event.Kind,
				Labels:   event.Labels,
				Attempt:  1,
			})
		}
	}
}

// worker pulls requests off the queue and reconciles them.
func (m *Manager) worker(id int) {
	defer m.wg.Done()

	logging.Debug("Manager", "Worker %d started", id)

	for {
		req, ok := m.queue.Get(m.ctx)
		if !ok {
			logging.Debug("Manager", "Worker %d shutting down", id)
			return
		}

		m.processRequest(req)
		m.queue.Done(req)
	}
}

// processRequest handles a single reconcile request, including retry
// scheduling on failure.
func (m *Manager) processRequest(req ReconcileRequest) {
	logging.Debug("Manager", "Reconciling node %s (%s, attempt %d)", req.NodeName, req.Kind, req.Attempt)

	result := m.reconciler.Reconcile(m.ctx, req)
	if result.Error == nil {
		return
	}

	logging.Warn("Manager", "Reconciliation failed for node %s (%s): %v", req.NodeName, req.Kind, result.Error)

	if !result.Requeue || req.Attempt >= m.config.MaxRetries {
		// Exhausted: reconciliation is idempotent, so the next event or
		// resync tick repairs without special recovery code.
		logging.Error("Manager", result.Error, "Giving up on node %s after %d attempts, next trigger will repair",
			req.NodeName, req.Attempt)
		return
	}

	backoff := m.calculateBackoff(req.Attempt)
	req.Attempt++
	req.LastError = result.Error
	m.queue.AddAfter(req, backoff)

	logging.Debug("Manager", "Requeued node %s after %v (attempt %d)", req.NodeName, backoff, req.Attempt)
}

// calculateBackoff computes exponential backoff for a retry attempt.
func (m *Manager) calculateBackoff(attempt int) time.Duration {
	backoff := m.config.InitialBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > m.config.MaxBackoff {
		backoff = m.config.MaxBackoff
	}
	return backoff
}

// resyncLoop runs the periodic safety-net sweep. Every tick it relists all
// known nodes and enqueues a resync request per node with that node's current
// label snapshot. Failures listing are logged and retried next tick;
// per-node failures are isolated by construction, each node being its own
// queue item.
func (m *Manager) resyncLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.runSweep()
		}
	}
}

// runSweep enqueues one resync request per currently known node and
// refreshes the tracked-nodes gauge.
func (m *Manager) runSweep() {
	nodes, err := m.detector.ListNodes(m.ctx)
	if err != nil {
		logging.Error("Manager", err, "Resync sweep could not list nodes, retrying next tick")
		m.sink.HandlerError(metrics.HandlerResync)
		return
	}

	logging.Info("Manager", "Resync sweep over %d nodes", len(nodes))

	for _, node := range nodes {
		m.queue.Add(ReconcileRequest{
			NodeName: node.NodeName,
			Kind:     authority.EventResync,
			Labels:   node.Labels,
			Attempt:  1,
		})
	}

	m.updateTrackedGauge()
}

// updateTrackedGauge counts records that still hold labels.
func (m *Manager) updateTrackedGauge() {
	records, err := m.store.List(m.ctx)
	if err != nil {
		logging.Warn("Manager", "Could not list records for tracked gauge: %v", err)
		return
	}

	tracked := 0
	for _, record := range records {
		if len(record.Labels) > 0 {
			tracked++
		}
	}
	m.sink.SetNodesTracked(tracked)
}

// TriggerSweep runs one resync sweep immediately, outside the timer. Used at
// startup so a restarted operator converges without waiting a full interval.
func (m *Manager) TriggerSweep() {
	m.mu.RLock()
	running := m.running
	m.mu.RUnlock()
	if running {
		m.runSweep()
	}
}

// QueueLength returns the current queue length.
func (m *Manager) QueueLength() int {
	return m.queue.Len()
}

// IsRunning returns whether the manager is active.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Stop gracefully shuts down the manager. In-flight reconciliations are
// allowed to complete; no new events are accepted.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	logging.Info("Manager", "Stopping reconciliation manager...")

	if m.cancelFunc != nil {
		m.cancelFunc()
	}

	if err := m.detector.Stop(); err != nil {
		logging.Error("Manager", err, "Error stopping detector")
	}

	m.queue.Shutdown()
	m.wg.Wait()

	logging.Info("Manager", "Reconciliation manager stopped")
	return nil
}
