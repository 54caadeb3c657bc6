package reconciler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"nodelabels/internal/authority"
	"nodelabels/internal/snapshot"
	"nodelabels/pkg/logging"
)

// FilesystemDetector implements Detector over a directory of node snapshot
// files. Each YAML file in the directory represents one node; creating,
// editing, or deleting a file simulates the corresponding node lifecycle
// event. This backs the clusterless demo mode.
type FilesystemDetector struct {
	mu sync.RWMutex

	// dir is the directory holding node snapshot files
	dir string

	// watcher is the fsnotify watcher instance
	watcher *fsnotify.Watcher

	// debounceInterval is how long to wait for additional changes to the
	// same file before emitting
	debounceInterval time.Duration

	// pendingTimers tracks pending debounce timers per node
	pendingTimers map[string]*time.Timer

	// known tracks which nodes have been seen, to distinguish create from
	// update. Snapshot saves are atomic renames, so fsnotify reports them
	// as Create regardless of whether the node existed before.
	known map[string]bool

	// stopCh signals shutdown
	stopCh chan struct{}

	running bool
}

// NewFilesystemDetector creates a detector watching a snapshot directory.
func NewFilesystemDetector(dir string, debounceInterval time.Duration) *FilesystemDetector {
	if debounceInterval == 0 {
		debounceInterval = 500 * time.Millisecond
	}

	return &FilesystemDetector{
		dir:              dir,
		debounceInterval: debounceInterval,
		pendingTimers:    make(map[string]*time.Timer),
		known:            make(map[string]bool),
		stopCh:           make(chan struct{}),
	}
}

// Start begins watching the snapshot directory. Snapshots already present
// are emitted as create events so a fresh start converges immediately.
func (d *FilesystemDetector) Start(ctx context.Context, events chan<- NodeEvent) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}

	if err := os.MkdirAll(d.dir, 0755); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.mu.Unlock()
		return err
	}

	if err := watcher.Add(d.dir); err != nil {
		watcher.Close()
		d.mu.Unlock()
		return fmt.Errorf("failed to watch %s: %w", d.dir, err)
	}

	d.watcher = watcher
	d.running = true
	d.stopCh = make(chan struct{})
	d.mu.Unlock()

	if err := d.initialScan(events); err != nil {
		d.Stop()
		return err
	}

	go d.processEvents(ctx, events)

	logging.Info("FilesystemDetector", "Started watching %s for node snapshots", d.dir)
	return nil
}

// initialScan emits a create event for every snapshot already on disk.
func (d *FilesystemDetector) initialScan(events chan<- NodeEvent) error {
	snapshots, err := snapshot.List(d.dir)
	if err != nil {
		return fmt.Errorf("failed to scan snapshot directory: %w", err)
	}

	for _, snap := range snapshots {
		d.mu.Lock()
		d.known[snap.Name] = true
		d.mu.Unlock()

		d.emit(events, NodeEvent{
			Kind:      authority.EventCreated,
			NodeName:  snap.Name,
			Labels:    snap.Labels,
			Timestamp: time.Now(),
			Source:    SourceFilesystem,
		})
	}

	return nil
}

// processEvents handles filesystem events and generates node events.
func (d *FilesystemDetector) processEvents(ctx context.Context, events chan<- NodeEvent) {
	// Stop clears d.watcher under the mutex, so the select must not read
	// the field directly. The local copy stays valid until Close, at which
	// point the channels are drained via the ok checks below.
	d.mu.RLock()
	watcher := d.watcher
	d.mu.RUnlock()
	if watcher == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			d.cleanupPendingTimers()
			return

		case <-d.stopCh:
			d.cleanupPendingTimers()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			d.handleFsEvent(event, events)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("FilesystemDetector", err, "Filesystem watcher error")
		}
	}
}

// handleFsEvent debounces a single filesystem event by node name. The node's
// state is read from disk only after the debounce window closes, so rapid
// successive writes collapse into one event carrying the final labels.
func (d *FilesystemDetector) handleFsEvent(event fsnotify.Event, events chan<- NodeEvent) {
	nodeName := snapshot.NodeNameFromPath(event.Name)
	if nodeName == "" {
		return
	}

	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.pendingTimers[nodeName]; ok {
		timer.Stop()
	}

	d.pendingTimers[nodeName] = time.AfterFunc(d.debounceInterval, func() {
		d.mu.Lock()
		delete(d.pendingTimers, nodeName)
		d.mu.Unlock()

		d.emitFromDisk(nodeName, events)
	})
}

// emitFromDisk reads a node's current snapshot state and emits the matching
// lifecycle event.
func (d *FilesystemDetector) emitFromDisk(nodeName string, events chan<- NodeEvent) {
	snap, err := snapshot.Load(snapshot.Path(d.dir, nodeName))
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		logging.Warn("FilesystemDetector", "Could not read snapshot for node %s: %v", nodeName, err)
		return
	}

	d.mu.Lock()
	wasKnown := d.known[nodeName]
	if exists {
		d.known[nodeName] = true
	} else {
		delete(d.known, nodeName)
	}
	d.mu.Unlock()

	var kind authority.EventKind
	var nodeLabels map[string]string
	switch {
	case !exists && !wasKnown:
		// File flickered into and out of existence within the debounce
		// window. Nothing to reconcile.
		return
	case !exists:
		kind = authority.EventDeleted
	case !wasKnown:
		kind = authority.EventCreated
		nodeLabels = snap.Labels
	default:
		kind = authority.EventUpdated
		nodeLabels = snap.Labels
	}

	d.emit(events, NodeEvent{
		Kind:      kind,
		NodeName:  nodeName,
		Labels:    nodeLabels,
		Timestamp: time.Now(),
		Source:    SourceFilesystem,
	})
}

// emit sends a node event to the output channel.
func (d *FilesystemDetector) emit(events chan<- NodeEvent, event NodeEvent) {
	select {
	case events <- event:
		logging.Debug("FilesystemDetector", "Emitted %s event for node %s", event.Kind, event.NodeName)
	default:
		logging.Warn("FilesystemDetector", "Event channel full, dropping %s event for node %s", event.Kind, event.NodeName)
	}
}

// ListNodes returns all nodes with a snapshot on disk, for the resync sweep.
func (d *FilesystemDetector) ListNodes(ctx context.Context) ([]NodeEvent, error) {
	snapshots, err := snapshot.List(d.dir)
	if err != nil {
		return nil, err
	}

	events := make([]NodeEvent, 0, len(snapshots))
	for _, snap := range snapshots {
		events = append(events, NodeEvent{
			Kind:      authority.EventResync,
			NodeName:  snap.Name,
			Labels:    snap.Labels,
			Timestamp: time.Now(),
			Source:    SourceFilesystem,
		})
	}
	return events, nil
}

// Source returns the event source type.
func (d *FilesystemDetector) Source() EventSource {
	return SourceFilesystem
}

// cleanupPendingTimers cancels all pending debounce timers.
func (d *FilesystemDetector) cleanupPendingTimers() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, timer := range d.pendingTimers {
		timer.Stop()
	}
	d.pendingTimers = make(map[string]*time.Timer)
}

// Stop gracefully stops the filesystem detector.
func (d *FilesystemDetector) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	d.running = false
	close(d.stopCh)

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			logging.Error("FilesystemDetector", err, "Error closing filesystem watcher")
		}
		d.watcher = nil
	}

	logging.Info("FilesystemDetector", "Stopped filesystem detector")
	return nil
}
