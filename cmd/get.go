package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"nodelabels/internal/app"
	"nodelabels/internal/config"
	"nodelabels/internal/store"
)

var (
	getOutputFormat string
	getEnvFile      string
)

// getCmd inspects stored records without running the engine. It reads from
// the same backend the operator writes to (ConfigMaps or record files,
// depending on mode).
var getCmd = &cobra.Command{
	Use:   "get [node-name]",
	Short: "Show stored label records",
	Long: `Shows the label records the operator has persisted. Without arguments
all records are listed; with a node name, only that node's record is shown.

Examples:
  node-label-operator get
  node-label-operator get worker-1
  node-label-operator get worker-1 -o yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromEnv(getEnvFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	st, err := app.NewStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var records []store.StateRecord
	if len(args) == 1 {
		record, exists, err := st.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to read record: %w", err)
		}
		if !exists {
			return fmt.Errorf("no record found for node %s", args[0])
		}
		records = []store.StateRecord{record}
	} else {
		records, err = st.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list records: %w", err)
		}
	}

	switch getOutputFormat {
	case "table":
		renderRecordTable(cmd, records)
		return nil
	case "json":
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	case "yaml":
		data, err := yaml.Marshal(records)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want table, json, or yaml)", getOutputFormat)
	}
}

// renderRecordTable prints records as a table, one row per record, with
// labels collapsed into a sorted key=value list.
func renderRecordTable(cmd *cobra.Command, records []store.StateRecord) {
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No records found")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"NODE", "LABELS", "CAPTURED AT"})

	for _, record := range records {
		t.AppendRow(table.Row{record.NodeName, formatLabels(record.Labels), record.CapturedAt.Format("2006-01-02 15:04:05")})
	}

	t.Render()
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return "(none)"
	}

	pairs := make([]string, 0, len(labels))
	for k, v := range labels {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "\n")
}

func init() {
	rootCmd.AddCommand(getCmd)

	getCmd.Flags().StringVarP(&getOutputFormat, "output", "o", "table", "Output format (table, json, yaml)")
	getCmd.Flags().StringVar(&getEnvFile, "env-file", "", "Dotenv file to seed the environment from before reading configuration")
}
