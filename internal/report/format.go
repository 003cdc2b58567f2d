// Package report renders manifests for the burrow CLI.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dyluth/burrow/internal/printer"
	"github.com/dyluth/burrow/pkg/dump"
)

// OutputFormat selects how manifests are written.
type OutputFormat string

const (
	// OutputFormatTable is a human-readable table.
	OutputFormatTable OutputFormat = "table"

	// OutputFormatJSON is one pretty-printed JSON document.
	OutputFormatJSON OutputFormat = "json"

	// OutputFormatJSONL is one compact JSON manifest per line.
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ParseFormat validates a --output value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case OutputFormatTable, OutputFormatJSON, OutputFormatJSONL:
		return f, nil
	case "", "default":
		return OutputFormatTable, nil
	default:
		return "", fmt.Errorf("unknown output format: %s (expected table, json or jsonl)", s)
	}
}

// FormatIssueTable writes one row per issue and returns the number written.
func FormatIssueTable(w io.Writer, manifests []*dump.Manifest, now time.Time) int {
	if len(manifests) == 0 {
		fmt.Fprintln(w, "No issues found")
		return 0
	}

	fmt.Fprintf(w, "%-17s %-14s %-8s %-7s %-7s %-9s %s\n",
		"ISSUE", "TRIGGER", "AGE", "OK", "FAILED", "PENDING", "UPLOAD")
	fmt.Fprintf(w, "%-17s %-14s %-8s %-7s %-7s %-9s %s\n",
		"-----------------", "--------------", "--------", "-------", "-------", "---------", "----------")

	for _, m := range manifests {
		fmt.Fprintf(w, "%-17s %-14s %-8s %-7d %-7d %-9d %s\n",
			m.IssueID,
			m.TriggeredBy,
			formatAge(m.CreatedAt, now),
			m.SuccessCount,
			m.FailCount,
			len(m.PendingDevices()),
			formatUpload(m),
		)
	}

	noun := "issue"
	if len(manifests) != 1 {
		noun = "issues"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(manifests), noun)
	return len(manifests)
}

// FormatManifest writes the detail view of one issue.
func FormatManifest(w io.Writer, m *dump.Manifest, now time.Time) {
	fmt.Fprintf(w, "Issue %s (%s, %s)\n", m.IssueID, m.TriggeredBy, formatAge(m.CreatedAt, now))
	if m.RequestID != "" {
		fmt.Fprintf(w, "  Request:   %s\n", m.RequestID)
	}
	fmt.Fprintf(w, "  Directory: %s (%s)\n", m.IssueDir, m.PathStrategy)
	fmt.Fprintf(w, "  Results:   %d ok, %d failed, %d pending\n\n",
		m.SuccessCount, m.FailCount, len(m.PendingDevices()))

	fmt.Fprintf(w, "%-20s %-12s %-9s %-10s %s\n", "DEVICE", "STATE", "RESULT", "ARTIFACTS", "DETAIL")
	fmt.Fprintf(w, "%-20s %-12s %-9s %-10s %s\n",
		"--------------------", "------------", "---------", "----------", "----------------------------------------")

	for _, id := range m.Targets {
		r, ok := m.Results[id]
		if !ok {
			r = &dump.DeviceResult{DeviceID: id, State: dump.StateIdle}
		}
		// Colour codes are invisible, so pad before colouring.
		fmt.Fprintf(w, "%-20s %s %s %-10d %s\n",
			truncate(id, 20),
			pad(printer.State(r.State), string(r.State), 12),
			pad(printer.Outcome(r.Success), outcomeText(r.Success), 9),
			len(r.Artifacts),
			formatDetail(r),
		)
	}

	fmt.Fprintf(w, "\nUpload: %s\n", formatUpload(m))
	if m.UploadResult != nil {
		if m.UploadResult.Message != "" {
			fmt.Fprintf(w, "  %s\n", m.UploadResult.Message)
		}
		for _, k := range sortedKeys(m.UploadResult.Links) {
			fmt.Fprintf(w, "  %s: %s\n", k, m.UploadResult.Links[k])
		}
	}
}

// FormatJSON writes a pretty-printed manifest.
func FormatJSON(w io.Writer, m *dump.Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// FormatJSONL writes each manifest as a single line of JSON, for jq.
func FormatJSONL(w io.Writer, manifests []*dump.Manifest) error {
	for _, m := range manifests {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to marshal manifest to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

func formatUpload(m *dump.Manifest) string {
	switch {
	case !m.UploadEnabled:
		return "disabled"
	case m.UploadResult == nil && m.ShowDialog:
		return "awaiting dialog"
	case m.UploadResult == nil:
		return "pending"
	case m.UploadResult.Success:
		return "uploaded"
	default:
		return "failed"
	}
}

func formatDetail(r *dump.DeviceResult) string {
	if r.ErrorMessage != "" {
		return truncate(firstLine(r.ErrorMessage), 60)
	}
	if r.StartedAt != nil && r.CompletedAt != nil {
		return r.CompletedAt.Sub(*r.StartedAt).Truncate(time.Second).String()
	}
	return "-"
}

func outcomeText(success *bool) string {
	switch {
	case success == nil:
		return "pending"
	case *success:
		return "ok"
	default:
		return "failed"
	}
}

// formatAge renders how long before now t was, e.g. "3m ago".
func formatAge(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}

func pad(coloured, plain string, width int) string {
	if n := width - len(plain); n > 0 {
		return coloured + strings.Repeat(" ", n)
	}
	return coloured
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return "-"
}
