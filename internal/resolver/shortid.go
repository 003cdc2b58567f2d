// Package resolver expands abbreviated issue ids.
package resolver

import (
	"fmt"
	"sort"
	"strings"
)

// MinPrefixLength is the shortest prefix accepted. Six characters pin an
// issue id to a day.
const MinPrefixLength = 6

// ResolveIssueID resolves ref against the known issue ids. An exact match
// wins; otherwise ref must be a prefix of exactly one id.
func ResolveIssueID(ids []string, ref string) (string, error) {
	for _, id := range ids {
		if id == ref {
			return id, nil
		}
	}

	if len(ref) < MinPrefixLength {
		return "", fmt.Errorf("issue id prefix must be at least %d characters (got %d)", MinPrefixLength, len(ref))
	}

	var matches []string
	for _, id := range ids {
		if strings.HasPrefix(id, ref) {
			matches = append(matches, id)
		}
	}
	sort.Strings(matches)

	switch len(matches) {
	case 0:
		return "", &NotFoundError{Prefix: ref}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{Prefix: ref, Matches: matches}
	}
}

// NotFoundError indicates no issue matched the prefix.
type NotFoundError struct {
	Prefix string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no issues found matching '%s'", e.Prefix)
}

// AmbiguousError indicates several issues matched the prefix.
type AmbiguousError struct {
	Prefix  string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous issue id '%s' matches %d issues", e.Prefix, len(e.Matches))
}

// FormatAmbiguousError lists up to ten of the matching ids.
func FormatAmbiguousError(err *AmbiguousError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "'%s' matches %d issues:\n", err.Prefix, len(err.Matches))

	displayCount := len(err.Matches)
	if displayCount > 10 {
		displayCount = 10
	}
	for _, id := range err.Matches[:displayCount] {
		fmt.Fprintf(&b, "  %s\n", id)
	}
	if len(err.Matches) > 10 {
		fmt.Fprintf(&b, "  ...and %d more\n", len(err.Matches)-10)
	}

	b.WriteString("\nUse a longer prefix to pick one issue.")
	return b.String()
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// IsAmbiguousError checks if an error is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	_, ok := err.(*AmbiguousError)
	return ok
}
