// Package snapshot defines the on-disk node representation used by the
// filesystem demo mode: one YAML file per simulated node, carrying the node
// name and its full label map. The detector reads these files to synthesize
// node lifecycle events, and the file-backed node patcher writes label
// changes back.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// NodeSnapshot mirrors the parts of a cluster node the engine cares about.
type NodeSnapshot struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

// fileSuffix is the extension snapshot files must carry.
const fileSuffix = ".yaml"

// Path returns the snapshot file path for a node inside dir.
func Path(dir, nodeName string) string {
	return filepath.Join(dir, nodeName+fileSuffix)
}

// NodeNameFromPath derives the node name from a snapshot file path, or ""
// when the file is not a snapshot.
func NodeNameFromPath(path string) string {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, fileSuffix) || strings.HasPrefix(base, ".") {
		return ""
	}
	return strings.TrimSuffix(base, fileSuffix)
}

// Load reads and parses a snapshot file.
func Load(path string) (NodeSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return NodeSnapshot{}, err
	}

	var snap NodeSnapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return NodeSnapshot{}, fmt.Errorf("parsing snapshot %s: %w", path, err)
	}
	if snap.Name == "" {
		snap.Name = NodeNameFromPath(path)
	}
	if snap.Labels == nil {
		snap.Labels = map[string]string{}
	}
	return snap, nil
}

// Save writes a snapshot file atomically (temp file plus rename).
func Save(dir string, snap NodeSnapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot for %s: %w", snap.Name, err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("writing snapshot for %s: %w", snap.Name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing snapshot for %s: %w", snap.Name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing snapshot for %s: %w", snap.Name, err)
	}
	if err := os.Rename(tmpName, Path(dir, snap.Name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing snapshot for %s: %w", snap.Name, err)
	}
	return nil
}

// List returns all snapshots found in dir, skipping unparseable files.
func List(dir string) ([]NodeSnapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var snaps []NodeSnapshot
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := NodeNameFromPath(entry.Name())
		if name == "" {
			continue
		}
		snap, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}
