package pathstrategy

import (
	"path/filepath"
	"testing"

	"github.com/dyluth/burrow/pkg/dump"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrategies(t *testing.T) {
	cfg := Config{BaseDir: "/logs", LocalPrefix: "issues"}

	tests := []struct {
		name     string
		strategy string
		trigger  dump.Trigger
		want     string
		grouped  bool
	}{
		{"unified manual", Unified, dump.TriggerManual, "/logs/issues/251017-101500/dev1", true},
		{"unified crash", Unified, dump.TriggerCrashMonitor, "/logs/issues/251017-101500/dev1", true},
		{"individual manual", Individual, dump.TriggerManual, "/logs/dumps/dev1", false},
		{"individual test failure", Individual, dump.TriggerTestFailed, "/logs/dumps/dev1", false},
		{"hybrid test failure groups", Hybrid, dump.TriggerTestFailed, "/logs/issues/251017-101500/dev1", true},
		{"hybrid crash stays per device", Hybrid, dump.TriggerCrashMonitor, "/logs/dumps/dev1", false},
		{"hybrid manual stays per device", Hybrid, dump.TriggerManual, "/logs/dumps/dev1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.strategy, cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.strategy, s.Name())
			assert.Equal(t, filepath.FromSlash(tt.want), DeviceDir(s, "251017-101500", "dev1", tt.trigger))
			assert.Equal(t, tt.grouped, s.Grouped(tt.trigger))
		})
	}
}

func TestDeterministic(t *testing.T) {
	s, err := New(Unified, Config{BaseDir: "logs"})
	require.NoError(t, err)

	first := s.IssueDir("251017-101500", dump.TriggerManual)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, s.IssueDir("251017-101500", dump.TriggerManual))
	}
	assert.Equal(t, filepath.Join("logs", "issues", "251017-101500"), first, "default prefix")
}

func TestNewRejectsUnknown(t *testing.T) {
	_, err := New("scattered", Config{BaseDir: "/logs"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown path strategy")

	_, err = New(Unified, Config{})
	assert.Error(t, err)
}
