// Package config provides the operator's configuration.
//
// Configuration is environment-style: every knob is an environment variable
// with a default, optionally seeded from a dotenv file. This mirrors how the
// operator is deployed (env vars on the Deployment) while keeping local runs
// a single `--env-file` away.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"nodelabels/pkg/logging"
)

// Mode selects how node events are sourced and where records live.
type Mode string

const (
	// ModeKubernetes watches cluster nodes through informers and stores
	// records as ConfigMaps.
	ModeKubernetes Mode = "kubernetes"

	// ModeFilesystem watches a directory of node snapshot files and
	// stores records as JSON files. Used for local demos and tests.
	ModeFilesystem Mode = "filesystem"

	// ModeAuto picks kubernetes when cluster access is available and
	// falls back to filesystem when a snapshot directory is configured.
	ModeAuto Mode = "auto"
)

// Config holds every operator setting.
type Config struct {
	// LabelPrefix scopes which label keys participate in persistence.
	LabelPrefix string

	// Namespace is where record ConfigMaps are written (kubernetes mode).
	Namespace string

	// ResyncInterval is the cadence of the periodic safety-net sweep.
	ResyncInterval time.Duration

	// MetricsPort is the exposition port for /metrics and /healthz.
	MetricsPort int

	// LogLevel is the diagnostic verbosity (debug, info, warn, error).
	LogLevel string

	// Mode selects the event source and record backend.
	Mode Mode

	// SnapshotDir holds node snapshot files (filesystem mode).
	SnapshotDir string

	// RecordDir holds record files (filesystem mode).
	RecordDir string

	// WorkerCount is the size of the reconciliation worker pool.
	WorkerCount int

	// MaxRetries bounds requeue attempts for a failed reconciliation.
	MaxRetries int

	// InitialBackoff seeds the exponential requeue backoff.
	InitialBackoff time.Duration
}

// Defaults, matching the documented environment contract.
const (
	DefaultLabelPrefix    = "persist.demo/"
	DefaultNamespace      = "node-label-operator"
	DefaultResyncSeconds  = 300
	DefaultMetricsPort    = 9090
	DefaultWorkerCount    = 2
	DefaultMaxRetries     = 5
	DefaultInitialBackoff = time.Second
)

// FromEnv builds a Config from the process environment, applying defaults
// for anything unset. An optional dotenv file is loaded first; a missing
// file is not an error, a malformed one is.
func FromEnv(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("loading env file %s: %w", envFile, err)
			}
			logging.Debug("Config", "Env file %s not found, using process environment", envFile)
		}
	}

	cfg := Config{
		LabelPrefix:    envString("PERSIST_LABEL_PREFIX", DefaultLabelPrefix),
		Namespace:      envString("OPERATOR_NAMESPACE", DefaultNamespace),
		ResyncInterval: time.Duration(envInt("RESYNC_INTERVAL_SECONDS", DefaultResyncSeconds)) * time.Second,
		MetricsPort:    envInt("METRICS_PORT", DefaultMetricsPort),
		LogLevel:       envString("LOG_LEVEL", "info"),
		Mode:           Mode(envString("WATCH_MODE", string(ModeAuto))),
		SnapshotDir:    envString("SNAPSHOT_DIR", ""),
		RecordDir:      envString("RECORD_DIR", ""),
		WorkerCount:    envInt("WORKER_COUNT", DefaultWorkerCount),
		MaxRetries:     envInt("MAX_RETRIES", DefaultMaxRetries),
		InitialBackoff: envDuration("INITIAL_BACKOFF", DefaultInitialBackoff),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c Config) Validate() error {
	if c.LabelPrefix == "" {
		return fmt.Errorf("label prefix must not be empty")
	}
	if c.ResyncInterval <= 0 {
		return fmt.Errorf("resync interval must be positive, got %v", c.ResyncInterval)
	}
	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("metrics port out of range: %d", c.MetricsPort)
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", c.WorkerCount)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive, got %d", c.MaxRetries)
	}
	switch c.Mode {
	case ModeKubernetes, ModeFilesystem, ModeAuto:
	default:
		return fmt.Errorf("unknown watch mode: %s", c.Mode)
	}
	if c.Mode == ModeFilesystem && c.SnapshotDir == "" {
		return fmt.Errorf("filesystem mode requires SNAPSHOT_DIR")
	}
	return nil
}

// LogStartup logs the effective configuration at startup.
func (c Config) LogStartup() {
	logging.Info("Config", "Label prefix: %s", c.LabelPrefix)
	logging.Info("Config", "Namespace: %s", c.Namespace)
	logging.Info("Config", "Resync interval: %v", c.ResyncInterval)
	logging.Info("Config", "Metrics port: %d", c.MetricsPort)
	logging.Info("Config", "Watch mode: %s", c.Mode)
	logging.Info("Config", "Workers: %d, max retries: %d", c.WorkerCount, c.MaxRetries)
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logging.Warn("Config", "Invalid value for %s: %q, using default %d", key, v, def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logging.Warn("Config", "Invalid value for %s: %q, using default %v", key, v, def)
		return def
	}
	return d
}
