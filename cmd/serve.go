package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"nodelabels/internal/app"
	"nodelabels/internal/config"
)

// serveEnvFile optionally seeds the environment from a dotenv file before
// configuration is read. Useful for local runs; deployments set real env
// vars on the pod instead.
var serveEnvFile string

// serveCmd starts the reconciliation engine.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the node label persistence operator",
	Long: `Starts the reconciliation engine: watches nodes, keeps prefix-scoped
labels in durable records, restores them when nodes are recreated, and
runs a periodic sweep to repair anything the event path missed.

Configuration comes from environment variables:

  PERSIST_LABEL_PREFIX     label prefix to persist (default "persist.demo/")
  RESYNC_INTERVAL_SECONDS  sweep cadence in seconds (default 300)
  LOG_LEVEL                debug, info, warn, error (default info)
  METRICS_PORT             /metrics and /healthz port (default 9090)
  OPERATOR_NAMESPACE       namespace for record ConfigMaps
  WATCH_MODE               kubernetes, filesystem, or auto (default auto)
  SNAPSHOT_DIR             node snapshot directory (filesystem mode)

Without cluster access, set SNAPSHOT_DIR to run against a directory of
node snapshot files instead of a cluster.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// runServe is the main entry point for the serve command.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromEnv(serveEnvFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveEnvFile, "env-file", "", "Dotenv file to seed the environment from before reading configuration")
}
