// Package timespec parses the time bounds accepted by listing commands.
package timespec

import (
	"fmt"
	"time"
)

// IssueLayout is the layout of issue ids, accepted as a bound so that an id
// can be pasted straight into --since or --until.
const IssueLayout = "060102-150405"

// Parse resolves spec relative to now. Accepted forms:
//   - Go durations, meaning that long before now: "1h", "30m", "1h30m"
//   - RFC3339 timestamps: "2025-10-29T13:00:00Z"
//   - Dates: "2025-10-29" (midnight UTC)
//   - Issue ids: "251029-130000"
func Parse(spec string, now time.Time) (time.Time, error) {
	if spec == "" {
		return time.Time{}, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(spec); err == nil {
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.DateOnly, spec); err == nil {
		return t, nil
	}
	if t, err := time.Parse(IssueLayout, spec); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("invalid time specification: %s (use a duration like '1h30m', RFC3339 like '2025-10-29T13:00:00Z', or an issue id)", spec)
}

// Range is a half-open interval [Since, Until). A zero bound is open.
type Range struct {
	Since time.Time
	Until time.Time
}

// ParseRange parses --since and --until. Either may be empty.
func ParseRange(since, until string, now time.Time) (Range, error) {
	var r Range
	var err error

	if since != "" {
		if r.Since, err = Parse(since, now); err != nil {
			return Range{}, fmt.Errorf("invalid --since: %w", err)
		}
	}
	if until != "" {
		if r.Until, err = Parse(until, now); err != nil {
			return Range{}, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if !r.Since.IsZero() && !r.Until.IsZero() && !r.Since.Before(r.Until) {
		return Range{}, fmt.Errorf("--since must be before --until")
	}
	return r, nil
}

// Contains reports whether t falls inside the range.
func (r Range) Contains(t time.Time) bool {
	if !r.Since.IsZero() && t.Before(r.Since) {
		return false
	}
	if !r.Until.IsZero() && !t.Before(r.Until) {
		return false
	}
	return true
}
