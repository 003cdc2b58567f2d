package report

import (
	"context"
	"fmt"
	"sort"

	"github.com/dyluth/burrow/internal/manifest"
	"github.com/dyluth/burrow/internal/timespec"
	"github.com/dyluth/burrow/pkg/dump"
)

// Filter narrows an issue listing. All criteria are ANDed.
type Filter struct {
	Range      timespec.Range
	Trigger    dump.Trigger // Empty matches any
	Device     string       // Empty matches any
	FailedOnly bool         // Only issues with at least one failed device
}

// Matches reports whether m passes every criterion.
func (f Filter) Matches(m *dump.Manifest) bool {
	if !f.Range.Contains(m.CreatedAt) {
		return false
	}
	if f.Trigger != "" && m.TriggeredBy != f.Trigger {
		return false
	}
	if f.Device != "" {
		if _, ok := m.Results[f.Device]; !ok {
			return false
		}
	}
	if f.FailedOnly && m.FailCount == 0 {
		return false
	}
	return true
}

// ListLocal loads the manifests under root that match f, oldest first.
// Unreadable manifests are returned in skipped.
func ListLocal(root string, f Filter) (manifests []*dump.Manifest, skipped []error, err error) {
	entries, skipped, err := manifest.LoadAll(root)
	if err != nil {
		return nil, nil, err
	}
	for _, e := range entries {
		if f.Matches(e.Manifest) {
			manifests = append(manifests, e.Manifest)
		}
	}
	sortByCreation(manifests)
	return manifests, skipped, nil
}

// SnapshotSource is a remote mirror of manifests.
type SnapshotSource interface {
	ListIssues(ctx context.Context) ([]string, error)
	GetSnapshot(ctx context.Context, issueID string) (*dump.Manifest, error)
}

// ListRemote reads the mirrored manifests matching f, oldest first. Issues
// whose snapshot vanished or is malformed are returned in skipped.
func ListRemote(ctx context.Context, src SnapshotSource, f Filter) (manifests []*dump.Manifest, skipped []error, err error) {
	ids, err := src.ListIssues(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, id := range ids {
		m, err := src.GetSnapshot(ctx, id)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("issue %s: %w", id, err))
			continue
		}
		if f.Matches(m) {
			manifests = append(manifests, m)
		}
	}
	sortByCreation(manifests)
	return manifests, skipped, nil
}

func sortByCreation(manifests []*dump.Manifest) {
	sort.SliceStable(manifests, func(i, j int) bool {
		if manifests[i].CreatedAt.Equal(manifests[j].CreatedAt) {
			return manifests[i].IssueID < manifests[j].IssueID
		}
		return manifests[i].CreatedAt.Before(manifests[j].CreatedAt)
	})
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
