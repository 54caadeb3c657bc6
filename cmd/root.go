package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid
	// arguments, backend unreachable).
	ExitCodeError = 1
)

// rootCmd represents the base command for the operator binary.
var rootCmd = &cobra.Command{
	Use:   "node-label-operator",
	Short: "Preserve node labels across node deletion and recreation",
	Long: `node-label-operator watches cluster nodes and keeps the labels under a
configured prefix in durable records, so a node that is deleted and later
recreated under the same name gets its labels back automatically.

Labels outside the prefix are never touched. Records outlive their nodes
on purpose: deletion preserves them for the recreation that may follow.`,
	// SilenceUsage prevents Cobra from printing the usage message on
	// errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command, injected at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application, called by
// main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "node-label-operator version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCodeError)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
