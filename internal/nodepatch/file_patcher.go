package nodepatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"nodelabels/internal/authority"
	"nodelabels/internal/snapshot"
	"nodelabels/pkg/logging"
)

// FilePatcher applies label patches to node snapshot files in the demo
// directory. It is the filesystem counterpart of KubernetesPatcher.
type FilePatcher struct {
	mu  sync.Mutex
	dir string
}

var _ Patcher = (*FilePatcher)(nil)

// NewFilePatcher creates a patcher operating on the given snapshot directory.
func NewFilePatcher(dir string) *FilePatcher {
	return &FilePatcher{dir: dir}
}

// Apply implements Patcher.
func (p *FilePatcher) Apply(ctx context.Context, nodeName string, patch authority.Patch) error {
	if patch.Empty() {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	snap, err := snapshot.Load(snapshot.Path(p.dir, nodeName))
	if errors.Is(err, os.ErrNotExist) {
		logging.Debug("NodePatcher", "Node %s gone before patch, skipping", nodeName)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: node %s: %v", ErrNodePatchFailed, nodeName, err)
	}

	for k, v := range patch.Add {
		snap.Labels[k] = v
	}
	for _, k := range patch.Remove {
		delete(snap.Labels, k)
	}

	if err := snapshot.Save(p.dir, snap); err != nil {
		return fmt.Errorf("%w: node %s: %v", ErrNodePatchFailed, nodeName, err)
	}

	logging.Info("NodePatcher", "Patched node %s: +%d labels, -%d labels", nodeName, len(patch.Add), len(patch.Remove))
	return nil
}
