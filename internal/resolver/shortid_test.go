package resolver

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveIssueID(t *testing.T) {
	ids := []string{"241017-113000", "241017-113000-2", "241017-150000", "241018-090000"}

	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr func(error) bool
	}{
		{name: "exact match beats prefix", ref: "241017-113000", want: "241017-113000"},
		{name: "unique prefix", ref: "241018", want: "241018-090000"},
		{name: "longer unique prefix", ref: "241017-15", want: "241017-150000"},
		{name: "ambiguous", ref: "241017-11", wantErr: IsAmbiguousError},
		{name: "not found", ref: "250101", wantErr: IsNotFoundError},
		{name: "too short", ref: "2410", wantErr: func(err error) bool { return err != nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveIssueID(ids, tt.ref)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, tt.wantErr(err), "unexpected error: %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatAmbiguousError(t *testing.T) {
	var matches []string
	for i := 0; i < 12; i++ {
		matches = append(matches, fmt.Sprintf("241017-1130%02d", i))
	}
	msg := FormatAmbiguousError(&AmbiguousError{Prefix: "241017", Matches: matches})

	assert.Contains(t, msg, "matches 12 issues")
	assert.Contains(t, msg, "241017-113009")
	assert.NotContains(t, msg, "241017-113010")
	assert.Contains(t, msg, "...and 2 more")
}
