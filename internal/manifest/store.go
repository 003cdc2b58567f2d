// Package manifest persists per-issue manifests to disk.
//
// Every write replaces the whole file atomically: the new content is written
// to a temporary file in the same directory, synced, then renamed over the
// old one. A reader therefore sees either the previous or the next version,
// never a torn file.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dyluth/burrow/pkg/dump"
)

// FileName is the manifest name inside a grouped issue directory.
const FileName = "manifest.json"

// ErrWrite marks a manifest write that failed after all retries.
var ErrWrite = errors.New("manifest write failed")

// errInvalid marks content problems no retry can fix.
var errInvalid = errors.New("invalid manifest")

// Path returns the manifest location for an issue. Grouped issue directories
// hold a single manifest.json; shared directories hold one manifest-{id}.json
// per issue.
func Path(issueDir, issueID string, grouped bool) string {
	if grouped {
		return filepath.Join(issueDir, FileName)
	}
	return filepath.Join(issueDir, fmt.Sprintf("manifest-%s.json", issueID))
}

// Options tunes write retries.
type Options struct {
	MaxRetries      int           // Retries after the first attempt
	InitialInterval time.Duration // First backoff interval
	MaxInterval     time.Duration // Backoff ceiling
}

// Store writes manifests with bounded retry.
type Store struct {
	opts Options
}

// NewStore creates a store. Zero options fall back to three retries starting
// at 50ms.
func NewStore(opts Options) *Store {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 50 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 2 * time.Second
	}
	return &Store{opts: opts}
}

func (s *Store) newBackoff(ctx context.Context) backoff.BackOff {
	// BackOff implementations are stateful; always build a fresh one.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.InitialInterval
	bo.MaxInterval = s.opts.MaxInterval
	bo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.opts.MaxRetries)), ctx)
}

// Write validates m and atomically replaces the file at path, retrying
// transient failures. The returned error wraps ErrWrite when retries are
// exhausted.
func (s *Store) Write(ctx context.Context, path string, m *dump.Manifest) error {
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := WriteFile(path, m)
		if err == nil {
			return nil
		}
		if errors.Is(err, errInvalid) {
			return backoff.Permanent(err)
		}
		log.Printf("[Manifest] [WARN] Write attempt %d for issue %s failed: %v", attempt, m.IssueID, err)
		return err
	}, s.newBackoff(ctx))
	if err != nil {
		return fmt.Errorf("%w: issue %s after %d attempt(s): %v", ErrWrite, m.IssueID, attempt, err)
	}
	return nil
}

// WriteFile makes a single atomic write attempt.
func WriteFile(path string, m *dump.Manifest) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errInvalid, err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalid, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp manifest: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp manifest: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	committed = true

	// Persist the rename itself. Not every platform supports syncing a directory.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

// Read loads the manifest at path.
func Read(path string) (*dump.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m dump.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if m.Results == nil {
		m.Results = make(map[string]*dump.DeviceResult)
	}
	return &m, nil
}
