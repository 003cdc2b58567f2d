package commands

import (
	"fmt"
	"time"

	"github.com/dyluth/burrow/internal/printer"
	"github.com/dyluth/burrow/internal/report"
	"github.com/dyluth/burrow/internal/timespec"
	"github.com/dyluth/burrow/pkg/dump"
	"github.com/spf13/cobra"
)

var (
	listRoot    string
	listOutput  string
	listSince   string
	listUntil   string
	listTrigger string
	listDevice  string
	listFailed  bool
	listRemote  bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List issues",
	Long: `List issues recorded under log_directory, oldest first.

Output Formats:
  table - Human-readable table with counts and upload status
  jsonl - One manifest per line, for piping to jq

Time Filters:
  --since, --until accept a duration ("2h"), a date ("2024-10-17"),
  an RFC3339 time or an issue id.

Examples:
  # Issues from the last day
  burrow list --since 24h

  # Failed crash-monitor dumps of one device
  burrow list --trigger crash_monitor --device R58M123 --failed

  # Issues known to the running coordinator
  burrow list --remote --output jsonl | jq .issue_id`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listRoot, "root", "", "Directory to search for manifests (default: log_directory)")
	listCmd.Flags().StringVarP(&listOutput, "output", "o", "table", "Output format: table or jsonl")
	listCmd.Flags().StringVar(&listSince, "since", "", "Show issues created at or after this time")
	listCmd.Flags().StringVar(&listUntil, "until", "", "Show issues created before this time")
	listCmd.Flags().StringVar(&listTrigger, "trigger", "", "Filter by trigger")
	listCmd.Flags().StringVar(&listDevice, "device", "", "Filter by target device")
	listCmd.Flags().BoolVar(&listFailed, "failed", false, "Only issues with a failed device")
	listCmd.Flags().BoolVar(&listRemote, "remote", false, "List the coordinator's snapshots from Redis")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(listOutput)
	if err != nil || format == report.OutputFormatJSON {
		return printer.Error("Invalid output format", fmt.Sprintf("Unknown format: %s", listOutput),
			[]string{"Valid formats: table, jsonl"})
	}

	now := time.Now()
	r, err := timespec.ParseRange(listSince, listUntil, now)
	if err != nil {
		return printer.Error("Invalid time filter", err.Error(),
			[]string{"Use a duration (2h), a date (2024-10-17), an RFC3339 time or an issue id"})
	}

	filter := report.Filter{Range: r, Device: listDevice, FailedOnly: listFailed}
	if listTrigger != "" {
		t, err := dump.ParseTrigger(listTrigger)
		if err != nil {
			return printer.Error("Invalid trigger", err.Error(), nil)
		}
		filter.Trigger = t
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var (
		manifests []*dump.Manifest
		skipped   []error
	)
	if listRemote {
		client, err := connectRedis(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer client.Close()
		manifests, skipped, err = report.ListRemote(cmd.Context(), client, filter)
		if err != nil {
			return fmt.Errorf("failed to list snapshots: %w", err)
		}
	} else {
		manifests, skipped, err = report.ListLocal(logRoot(cfg, listRoot), filter)
		if err != nil {
			return fmt.Errorf("failed to list manifests: %w", err)
		}
	}

	for _, err := range skipped {
		printer.Warning("Skipped: %v\n", err)
	}

	if format == report.OutputFormatJSONL {
		return report.FormatJSONL(cmd.OutOrStdout(), manifests)
	}
	report.FormatIssueTable(cmd.OutOrStdout(), manifests, now)
	return nil
}
