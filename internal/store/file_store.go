package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"nodelabels/pkg/logging"
)

// FileStore persists StateRecords as JSON files in a directory, one file per
// node. It backs the local demo mode, where no cluster is available.
//
// The payload is byte-compatible with what the ConfigMap store writes into
// state.json, so the inspection CLI reads either. Writes go through a
// temp-file rename so a crash never leaves a half-written record; a process-
// wide mutex stands in for optimistic concurrency since there is exactly one
// writer process in demo mode.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates a file-backed store rooted at dir, creating the
// directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating record directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

var _ Store = (*FileStore)(nil)

func (s *FileStore) recordPath(nodeName string) string {
	return filepath.Join(s.dir, ConfigMapName(nodeName)+".json")
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, nodeName string) (StateRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := os.ReadFile(s.recordPath(nodeName))
	if errors.Is(err, os.ErrNotExist) {
		return StateRecord{}, false, nil
	}
	if err != nil {
		return StateRecord{}, false, fmt.Errorf("%w: reading record for %s: %v", ErrStoreUnavailable, nodeName, err)
	}

	record, ok := decodeRecord(nodeName, payload)
	return record, ok, nil
}

// Upsert implements Store.
func (s *FileStore) Upsert(ctx context.Context, nodeName string, labels map[string]string) error {
	record := NewRecord(nodeName, labels)
	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding record for %s: %w", nodeName, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.recordPath(nodeName)
	tmp, err := os.CreateTemp(s.dir, ".record-*")
	if err != nil {
		return fmt.Errorf("%w: writing record for %s: %v", ErrStoreUnavailable, nodeName, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing record for %s: %v", ErrStoreUnavailable, nodeName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing record for %s: %v", ErrStoreUnavailable, nodeName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing record for %s: %v", ErrStoreUnavailable, nodeName, err)
	}

	logging.Debug("StateStore", "Wrote record for %s (%d labels)", nodeName, record.LabelCount)
	return nil
}

// List implements Store.
func (s *FileStore) List(ctx context.Context) ([]StateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: listing records: %v", ErrStoreUnavailable, err)
	}

	var records []StateRecord
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, configMapNamePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		payload, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			logging.Warn("StateStore", "Skipping unreadable record %s: %v", name, err)
			continue
		}
		if record, ok := decodeRecord(name, payload); ok {
			records = append(records, record)
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].NodeName < records[j].NodeName })
	return records, nil
}
