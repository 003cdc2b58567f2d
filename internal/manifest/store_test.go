package manifest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dyluth/burrow/pkg/dump"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManifest(issueID string, devices ...string) *dump.Manifest {
	m := &dump.Manifest{
		IssueID:      issueID,
		TriggeredBy:  dump.TriggerManual,
		PathStrategy: "unified",
		Targets:      devices,
		Results:      make(map[string]*dump.DeviceResult),
		CreatedAt:    time.Now().UTC(),
	}
	for _, d := range devices {
		m.Results[d] = &dump.DeviceResult{DeviceID: d, State: dump.StateIdle}
	}
	return m
}

func TestPath(t *testing.T) {
	assert.Equal(t, filepath.Join("logs", "issues", "a", "manifest.json"), Path(filepath.Join("logs", "issues", "a"), "a", true))
	assert.Equal(t, filepath.Join("logs", "dumps", "manifest-a.json"), Path(filepath.Join("logs", "dumps"), "a", false))
}

func TestWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	path := Path(filepath.Join(dir, "issues", "251017-101500"), "251017-101500", true)
	store := NewStore(Options{})

	m := newManifest("251017-101500", "dev1", "dev2")
	require.NoError(t, store.Write(context.Background(), path, m))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, m.IssueID, got.IssueID)
	assert.Equal(t, []string{"dev1", "dev2"}, got.Targets)
	assert.True(t, got.Results["dev1"].Pending())

	// No temp files are left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, FileName, entries[0].Name())
}

func TestWriteReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir, "a", true)
	store := NewStore(Options{})
	ctx := context.Background()

	m := newManifest("a", "dev1")
	require.NoError(t, store.Write(ctx, path, m))

	m.SetResult(dump.DeviceResult{DeviceID: "dev1", State: dump.StateCompleted, Success: dump.Bool(true)})
	require.NoError(t, store.Write(ctx, path, m))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, dump.StateCompleted, got.Results["dev1"].State)
	assert.Equal(t, 1, got.SuccessCount)
}

func TestWriteRetriesThenFails(t *testing.T) {
	dir := t.TempDir()

	// A regular file where the issue directory should be makes every attempt fail.
	blocker := filepath.Join(dir, "issue")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	store := NewStore(Options{MaxRetries: 2, InitialInterval: time.Millisecond})
	err := store.Write(context.Background(), Path(blocker, "a", true), newManifest("a", "dev1"))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWrite))
	assert.Contains(t, err.Error(), "after 3 attempt(s)")
}

func TestWriteRejectsInvalidWithoutRetry(t *testing.T) {
	store := NewStore(Options{MaxRetries: 5, InitialInterval: time.Second})

	start := time.Now()
	err := store.Write(context.Background(), filepath.Join(t.TempDir(), FileName), &dump.Manifest{IssueID: "a"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWrite))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestScanAndFind(t *testing.T) {
	root := t.TempDir()
	store := NewStore(Options{})
	ctx := context.Background()

	grouped := Path(filepath.Join(root, "issues", "251017-101500"), "251017-101500", true)
	shared := Path(filepath.Join(root, "dumps"), "251017-101600", false)
	require.NoError(t, store.Write(ctx, grouped, newManifest("251017-101500", "dev1")))
	require.NoError(t, store.Write(ctx, shared, newManifest("251017-101600", "dev2")))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dumps", "notes.json"), []byte("{}"), 0o644))

	paths, err := Scan(root)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{grouped, shared}, paths)

	found, err := Find(root, "251017-101600")
	require.NoError(t, err)
	assert.Equal(t, shared, found)

	found, err = Find(root, filepath.Dir(grouped))
	require.NoError(t, err)
	assert.Equal(t, grouped, found)

	_, err = Find(root, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))

	paths, err = Scan(filepath.Join(root, "missing"))
	require.NoError(t, err)
	assert.Empty(t, paths)
}
