package report

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/burrow/internal/manifest"
	"github.com/dyluth/burrow/internal/timespec"
	"github.com/dyluth/burrow/pkg/dump"
	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 10, 17, 12, 0, 0, 0, time.UTC)

func init() {
	color.NoColor = true
}

func sample(issueID string, trigger dump.Trigger, age time.Duration, failed ...string) *dump.Manifest {
	m := &dump.Manifest{
		IssueID:       issueID,
		TriggeredBy:   trigger,
		PathStrategy:  "unified",
		IssueDir:      "/logs/issues/" + issueID,
		Targets:       []string{"dev1", "dev2"},
		Results:       map[string]*dump.DeviceResult{},
		UploadEnabled: true,
		CreatedAt:     now.Add(-age),
	}
	for _, d := range m.Targets {
		ok := true
		msg := ""
		for _, f := range failed {
			if f == d {
				ok, msg = false, "adb: device offline"
			}
		}
		state := dump.StateCompleted
		if !ok {
			state = dump.StateError
		}
		m.SetResult(dump.DeviceResult{DeviceID: d, State: state, Success: dump.Bool(ok), ErrorMessage: msg})
	}
	return m
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatTable, f)

	f, err = ParseFormat("jsonl")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatJSONL, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestFormatIssueTable(t *testing.T) {
	var buf bytes.Buffer
	n := FormatIssueTable(&buf, []*dump.Manifest{
		sample("241017-113000", dump.TriggerManual, 30*time.Minute),
		sample("241017-100000", dump.TriggerTestFailed, 2*time.Hour, "dev2"),
	}, now)

	assert.Equal(t, 2, n)
	out := buf.String()
	assert.Contains(t, out, "241017-113000")
	assert.Contains(t, out, "30m ago")
	assert.Contains(t, out, "2h ago")
	assert.Contains(t, out, "2 issues found")

	buf.Reset()
	assert.Zero(t, FormatIssueTable(&buf, nil, now))
	assert.Equal(t, "No issues found\n", buf.String())
}

func TestFormatManifest(t *testing.T) {
	m := sample("241017-113000", dump.TriggerCrashMonitor, time.Minute, "dev2")
	m.UploadResult = &dump.UploadResult{
		Success: true,
		Message: "uploaded 3 file(s)",
		Links:   map[string]string{"upload": "https://art.example/x", "repository": "https://art.example/ui"},
	}

	var buf bytes.Buffer
	FormatManifest(&buf, m, now)
	out := buf.String()

	assert.Contains(t, out, "Issue 241017-113000 (CRASH_MONITOR, 1m ago)")
	assert.Contains(t, out, "1 ok, 1 failed, 0 pending")
	assert.Contains(t, out, "adb: device offline")
	assert.Contains(t, out, "Upload: uploaded")
	assert.Less(t, strings.Index(out, "repository:"), strings.Index(out, "upload: https"))
}

func TestFormatJSONL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, FormatJSONL(&buf, []*dump.Manifest{
		sample("a", dump.TriggerManual, time.Minute),
		sample("b", dump.TriggerManual, time.Minute),
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var m dump.Manifest
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &m))
	assert.Equal(t, "b", m.IssueID)
}

func TestFilterMatches(t *testing.T) {
	m := sample("241017-100000", dump.TriggerTestFailed, 2*time.Hour, "dev2")

	r, err := timespec.ParseRange("3h", "", now)
	require.NoError(t, err)

	assert.True(t, Filter{}.Matches(m))
	assert.True(t, Filter{Range: r, Trigger: dump.TriggerTestFailed, FailedOnly: true}.Matches(m))
	assert.False(t, Filter{Trigger: dump.TriggerManual}.Matches(m))
	assert.False(t, Filter{Device: "dev9"}.Matches(m))

	recent, err := timespec.ParseRange("1h", "", now)
	require.NoError(t, err)
	assert.False(t, Filter{Range: recent}.Matches(m))
}

func TestListLocal(t *testing.T) {
	root := t.TempDir()
	older := sample("241017-090000", dump.TriggerManual, 3*time.Hour)
	newer := sample("241017-110000", dump.TriggerCrashMonitor, time.Hour, "dev1")
	for _, m := range []*dump.Manifest{newer, older} {
		require.NoError(t, manifest.WriteFile(filepath.Join(root, "issues", m.IssueID, manifest.FileName), m))
	}

	all, skipped, err := ListLocal(root, Filter{})
	require.NoError(t, err)
	assert.Empty(t, skipped)
	require.Len(t, all, 2)
	assert.Equal(t, older.IssueID, all[0].IssueID)

	failed, _, err := ListLocal(root, Filter{FailedOnly: true})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, newer.IssueID, failed[0].IssueID)
}

func TestListRemote(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := dump.NewClient(&redis.Options{Addr: mr.Addr()}, "lab")
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.WriteSnapshot(ctx, sample("241017-110000", dump.TriggerManual, time.Hour)))
	require.NoError(t, client.WriteSnapshot(ctx, sample("241017-090000", dump.TriggerManual, 3*time.Hour)))
	mr.HSet(dump.IssueKey("lab", "broken"), "manifest", "{not json")
	_, err = mr.ZAdd(dump.IssueIndexKey("lab"), 1, "broken")
	require.NoError(t, err)

	manifests, skipped, err := ListRemote(ctx, client, Filter{})
	require.NoError(t, err)
	require.Len(t, manifests, 2)
	assert.Equal(t, "241017-090000", manifests[0].IssueID)
	assert.Len(t, skipped, 1)
}
