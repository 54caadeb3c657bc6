package reconciler

import (
	"context"
	"sync"
	"time"

	"nodelabels/internal/authority"
)

// workQueue is a reconcile queue with per-node deduplication and strict
// per-node serialization: a node being processed is never handed out again
// until Done is called, so at most one reconciliation per node name is ever
// in flight. Requests arriving for an in-flight node are parked in the dirty
// map and re-queued on Done.
type workQueue struct {
	mu sync.Mutex

	// queue holds requests in FIFO order
	queue []ReconcileRequest

	// processing tracks node names currently being reconciled
	processing map[string]bool

	// dirty tracks nodes that changed while being reconciled
	dirty map[string]ReconcileRequest

	// cond is used for blocking Get operations
	cond *sync.Cond

	// shuttingDown indicates the queue is stopping
	shuttingDown bool
}

// newWorkQueue creates a new reconciliation queue.
func newWorkQueue() *workQueue {
	q := &workQueue{
		queue:      make([]ReconcileRequest, 0),
		processing: make(map[string]bool),
		dirty:      make(map[string]ReconcileRequest),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// mergeKinds combines the event kind of a superseded request with its
// replacement. A pending restore (Created) must not be swallowed by a later
// label change: the Created kind survives, carrying the newer snapshot. A
// Deleted always wins over anything before it, and a real event always wins
// over a synthesized resync.
func mergeKinds(old, new authority.EventKind) authority.EventKind {
	switch {
	case new == authority.EventDeleted:
		return authority.EventDeleted
	case old == authority.EventCreated && (new == authority.EventUpdated || new == authority.EventResync):
		return authority.EventCreated
	case new == authority.EventResync && old != authority.EventResync:
		return old
	default:
		return new
	}
}

// merge folds a replacement request into an existing one for the same node.
func merge(old, new ReconcileRequest) ReconcileRequest {
	new.Kind = mergeKinds(old.Kind, new.Kind)
	return new
}

// Add adds or updates a request in the queue.
func (q *workQueue) Add(req ReconcileRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return
	}

	// If this node is already being reconciled, park the request for
	// reprocessing after Done. This is the serialization slot.
	if q.processing[req.NodeName] {
		if existing, ok := q.dirty[req.NodeName]; ok {
			req = merge(existing, req)
		}
		q.dirty[req.NodeName] = req
		return
	}

	// Deduplicate against requests already queued.
	for i, existing := range q.queue {
		if existing.NodeName == req.NodeName {
			q.queue[i] = merge(existing, req)
			return
		}
	}

	q.queue = append(q.queue, req)
	q.cond.Signal()
}

// Get retrieves the next request, blocking if necessary. The returned node
// is marked as processing until Done is called for it.
func (q *workQueue) Get(ctx context.Context) (ReconcileRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.queue) == 0 && !q.shuttingDown {
		select {
		case <-ctx.Done():
			return ReconcileRequest{}, false
		default:
		}

		// A helper goroutine races context cancellation against normal
		// wakeup; closing done ensures it exits either way.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}()

		q.cond.Wait()
		close(done)

		select {
		case <-ctx.Done():
			return ReconcileRequest{}, false
		default:
		}
	}

	if q.shuttingDown && len(q.queue) == 0 {
		return ReconcileRequest{}, false
	}

	req := q.queue[0]
	q.queue = q.queue[1:]
	q.processing[req.NodeName] = true

	return req, true
}

// Done releases the serialization slot for a node, re-queuing any request
// that arrived while it was being reconciled.
func (q *workQueue) Done(req ReconcileRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, req.NodeName)

	if dirtyReq, ok := q.dirty[req.NodeName]; ok {
		delete(q.dirty, req.NodeName)
		q.queue = append(q.queue, dirtyReq)
		q.cond.Signal()
	}
}

// Len returns the queue length.
func (q *workQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Shutdown stops the queue.
func (q *workQueue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shuttingDown = true
	q.cond.Broadcast()
}

// delayedQueue wraps workQueue with delayed requeue support for retry
// backoff.
type delayedQueue struct {
	queue      *workQueue
	mu         sync.Mutex
	delayedMap map[string]*time.Timer
	stopCh     chan struct{}
}

// newDelayedQueue creates a queue that supports delayed requeuing.
func newDelayedQueue() *delayedQueue {
	return &delayedQueue{
		queue:      newWorkQueue(),
		delayedMap: make(map[string]*time.Timer),
		stopCh:     make(chan struct{}),
	}
}

// Add adds a request immediately.
func (d *delayedQueue) Add(req ReconcileRequest) {
	d.queue.Add(req)
}

// AddAfter adds a request after a delay, replacing any delay already pending
// for the same node.
func (d *delayedQueue) AddAfter(req ReconcileRequest, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.delayedMap[req.NodeName]; ok {
		timer.Stop()
	}

	d.delayedMap[req.NodeName] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.delayedMap, req.NodeName)
		d.mu.Unlock()

		select {
		case <-d.stopCh:
			return
		default:
			d.queue.Add(req)
		}
	})
}

// Get retrieves the next request.
func (d *delayedQueue) Get(ctx context.Context) (ReconcileRequest, bool) {
	return d.queue.Get(ctx)
}

// Done marks a request as completed.
func (d *delayedQueue) Done(req ReconcileRequest) {
	d.queue.Done(req)
}

// Len returns the queue length.
func (d *delayedQueue) Len() int {
	return d.queue.Len()
}

// Shutdown stops the queue and cancels pending timers.
func (d *delayedQueue) Shutdown() {
	close(d.stopCh)

	d.mu.Lock()
	for _, timer := range d.delayedMap {
		timer.Stop()
	}
	d.delayedMap = make(map[string]*time.Timer)
	d.mu.Unlock()

	d.queue.Shutdown()
}
