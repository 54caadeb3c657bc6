package app

import (
	"fmt"

	"k8s.io/client-go/kubernetes"

	"nodelabels/internal/config"
	"nodelabels/internal/metrics"
	"nodelabels/internal/nodepatch"
	"nodelabels/internal/reconciler"
	"nodelabels/internal/store"
	"nodelabels/pkg/logging"
)

// Components holds the wired operator components.
type Components struct {
	Store    store.Store
	Patcher  nodepatch.Patcher
	Detector reconciler.Detector
	Manager  *reconciler.Manager
	Sink     *metrics.Sink
	Exporter *metrics.Exporter
}

// initializeComponents wires every component for the resolved watch mode.
func initializeComponents(cfg config.Config) (*Components, error) {
	mode, err := resolveMode(cfg)
	if err != nil {
		return nil, err
	}

	sink := metrics.NewSink()

	var (
		st       store.Store
		patcher  nodepatch.Patcher
		detector reconciler.Detector
	)

	switch mode {
	case config.ModeKubernetes:
		restConfig, err := reconciler.GetRestConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to get cluster config: %w", err)
		}
		clientset, err := kubernetes.NewForConfig(restConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create clientset: %w", err)
		}

		st = store.NewConfigMapStore(clientset, cfg.Namespace)
		patcher = nodepatch.NewKubernetesPatcher(clientset)
		detector, err = reconciler.NewKubernetesDetector(restConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create node detector: %w", err)
		}

	case config.ModeFilesystem:
		recordDir := cfg.RecordDir
		if recordDir == "" {
			recordDir = cfg.SnapshotDir + "/records"
		}
		fileStore, err := store.NewFileStore(recordDir)
		if err != nil {
			return nil, err
		}
		st = fileStore
		patcher = nodepatch.NewFilePatcher(cfg.SnapshotDir)
		detector = reconciler.NewFilesystemDetector(cfg.SnapshotDir, 0)

	default:
		return nil, fmt.Errorf("unresolved watch mode: %s", mode)
	}

	nodeReconciler := reconciler.NewNodeReconciler(cfg.LabelPrefix, st, patcher, sink)

	manager := reconciler.NewManager(reconciler.ManagerConfig{
		WorkerCount:    cfg.WorkerCount,
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		ResyncInterval: cfg.ResyncInterval,
	}, detector, nodeReconciler, st, sink)

	exporter := metrics.NewExporter(fmt.Sprintf(":%d", cfg.MetricsPort), sink)

	return &Components{
		Store:    st,
		Patcher:  patcher,
		Detector: detector,
		Manager:  manager,
		Sink:     sink,
		Exporter: exporter,
	}, nil
}

// NewStore builds just the record store for the resolved watch mode. The
// inspection CLI uses this to read records without starting the engine.
func NewStore(cfg config.Config) (store.Store, error) {
	mode, err := resolveMode(cfg)
	if err != nil {
		return nil, err
	}

	if mode == config.ModeFilesystem {
		recordDir := cfg.RecordDir
		if recordDir == "" {
			recordDir = cfg.SnapshotDir + "/records"
		}
		return store.NewFileStore(recordDir)
	}

	restConfig, err := reconciler.GetRestConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get cluster config: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}
	return store.NewConfigMapStore(clientset, cfg.Namespace), nil
}

// resolveMode turns ModeAuto into a concrete mode. Cluster access wins; a
// configured snapshot directory is the fallback.
func resolveMode(cfg config.Config) (config.Mode, error) {
	switch cfg.Mode {
	case config.ModeKubernetes, config.ModeFilesystem:
		return cfg.Mode, nil
	case config.ModeAuto:
		if reconciler.IsKubernetesAvailable() {
			logging.Info("Bootstrap", "Auto mode: cluster access detected, using kubernetes mode")
			return config.ModeKubernetes, nil
		}
		if cfg.SnapshotDir != "" {
			logging.Info("Bootstrap", "Auto mode: no cluster access, using filesystem mode on %s", cfg.SnapshotDir)
			return config.ModeFilesystem, nil
		}
		return "", fmt.Errorf("auto mode found no cluster access and no SNAPSHOT_DIR is set")
	default:
		return "", fmt.Errorf("unknown watch mode: %s", cfg.Mode)
	}
}
