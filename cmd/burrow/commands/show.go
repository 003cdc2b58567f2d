package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dyluth/burrow/internal/config"
	"github.com/dyluth/burrow/internal/manifest"
	"github.com/dyluth/burrow/internal/printer"
	"github.com/dyluth/burrow/internal/report"
	"github.com/dyluth/burrow/internal/resolver"
	"github.com/dyluth/burrow/pkg/dump"
	"github.com/spf13/cobra"
)

var (
	showRoot   string
	showOutput string
	showRemote bool
)

var showCmd = &cobra.Command{
	Use:   "show ISSUE",
	Short: "Show one issue's manifest",
	Long: `Show the manifest of one issue.

ISSUE is an issue id (or a unique prefix of one, at least six characters),
an issue directory or a manifest file. Issue ids are searched for under
log_directory (or --root). With --remote the snapshot mirrored in Redis by
the running coordinator is shown instead, which is useful when the
coordinator runs on another host.

Examples:
  # Show an issue by id
  burrow show 241017-113000

  # Show the raw manifest as JSON
  burrow show logs/issues/241017-113000 --output json

  # Show the coordinator's live view
  burrow show 241017-113000 --remote`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	showCmd.Flags().StringVar(&showRoot, "root", "", "Directory to search for manifests (default: log_directory)")
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "table", "Output format: table or json")
	showCmd.Flags().BoolVar(&showRemote, "remote", false, "Read the coordinator's snapshot from Redis")
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(showOutput)
	if err != nil || format == report.OutputFormatJSONL {
		return printer.Error("Invalid output format", fmt.Sprintf("Unknown format: %s", showOutput),
			[]string{"Valid formats: table, json"})
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var m *dump.Manifest
	if showRemote {
		m, err = remoteManifest(cmd.Context(), cfg, args[0])
	} else {
		m, _, err = localManifest(logRoot(cfg, showRoot), args[0])
	}
	if err != nil {
		return err
	}

	if format == report.OutputFormatJSON {
		return report.FormatJSON(cmd.OutOrStdout(), m)
	}
	report.FormatManifest(cmd.OutOrStdout(), m, time.Now())
	return nil
}

// logRoot picks the directory manifests are searched under.
func logRoot(cfg *config.BurrowConfig, override string) string {
	if override != "" {
		return override
	}
	return cfg.LogDirectory
}

// localManifest loads the manifest ref names. ref may be a manifest file, an
// issue directory, or an issue id or id prefix searched for under root.
func localManifest(root, ref string) (*dump.Manifest, string, error) {
	if _, err := os.Stat(ref); err == nil {
		path, err := manifest.Find(root, ref)
		if err != nil {
			return nil, "", printer.ErrorWithContext("Issue not found", err.Error(),
				map[string]string{"Path": ref}, nil)
		}
		m, err := manifest.Read(path)
		if err != nil {
			return nil, "", printer.ErrorWithContext("Cannot read manifest", err.Error(),
				map[string]string{"Path": path}, nil)
		}
		return m, path, nil
	}

	entries, _, err := manifest.LoadAll(root)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load manifests: %w", err)
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.Manifest.IssueID
	}
	id, err := resolver.ResolveIssueID(ids, ref)
	if err != nil {
		return nil, "", resolveError(err, ref, map[string]string{"Root": root},
			"List issues:\n  burrow list", "Search another directory with --root")
	}
	for _, e := range entries {
		if e.Manifest.IssueID == id {
			return e.Manifest, e.Path, nil
		}
	}
	return nil, "", fmt.Errorf("issue %s vanished while loading", id)
}

func remoteManifest(ctx context.Context, cfg *config.BurrowConfig, ref string) (*dump.Manifest, error) {
	client, err := connectRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	ids, err := client.ListIssues(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	issueID, err := resolver.ResolveIssueID(ids, ref)
	if err != nil {
		return nil, resolveError(err, ref, map[string]string{"Instance": cfg.Instance},
			"List mirrored issues:\n  burrow list --remote")
	}

	m, err := client.GetSnapshot(ctx, issueID)
	if err != nil {
		if dump.IsNotFound(err) {
			return nil, printer.ErrorWithContext(
				fmt.Sprintf("Issue '%s' not found", issueID),
				"The coordinator has no snapshot of this issue.",
				map[string]string{"Instance": cfg.Instance},
				[]string{"List mirrored issues:\n  burrow list --remote"},
			)
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return m, nil
}

func resolveError(err error, ref string, where map[string]string, suggestions ...string) error {
	var ambiguous *resolver.AmbiguousError
	switch {
	case errors.As(err, &ambiguous):
		return printer.ErrorWithContext(
			fmt.Sprintf("Issue id '%s' is ambiguous", ref),
			resolver.FormatAmbiguousError(ambiguous),
			where, nil,
		)
	case resolver.IsNotFoundError(err):
		return printer.ErrorWithContext(
			fmt.Sprintf("Issue '%s' not found", ref),
			err.Error(), where, suggestions,
		)
	default:
		return printer.Error("Invalid issue id", err.Error(), nil)
	}
}
