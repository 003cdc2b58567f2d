// Package pathstrategy decides where an issue's dump artifacts live on disk.
package pathstrategy

import (
	"fmt"
	"path/filepath"

	"github.com/dyluth/burrow/pkg/dump"
)

// Strategy names.
const (
	Unified    = "unified"
	Individual = "individual"
	Hybrid     = "hybrid"
)

// Strategy maps an issue to its directory. Implementations are pure: the same
// inputs always produce the same path, and nothing touches the filesystem.
type Strategy interface {
	// Name returns the configured strategy name, recorded in manifests.
	Name() string

	// IssueDir returns the directory holding the issue's manifest and, beneath
	// it, one directory per device.
	IssueDir(issueID string, trigger dump.Trigger) string

	// Grouped reports whether IssueDir is exclusive to a single issue.
	// Ungrouped layouts share one directory across issues.
	Grouped(trigger dump.Trigger) bool
}

// DeviceDir returns the dump directory for one device of an issue.
func DeviceDir(s Strategy, issueID, deviceID string, trigger dump.Trigger) string {
	return filepath.Join(s.IssueDir(issueID, trigger), deviceID)
}

// Config carries the directory settings strategies are built from.
type Config struct {
	BaseDir     string // Root log directory
	LocalPrefix string // Subdirectory for grouped issues
}

// New returns the strategy with the given name.
func New(name string, cfg Config) (Strategy, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if cfg.LocalPrefix == "" {
		cfg.LocalPrefix = "issues"
	}

	unified := unifiedStrategy{cfg: cfg}
	individual := individualStrategy{cfg: cfg}

	switch name {
	case Unified:
		return unified, nil
	case Individual:
		return individual, nil
	case Hybrid:
		return hybridStrategy{unified: unified, individual: individual}, nil
	default:
		return nil, fmt.Errorf("unknown path strategy %q (expected %s, %s or %s)", name, Unified, Individual, Hybrid)
	}
}

// unifiedStrategy groups every device under {base}/{prefix}/{issue_id}.
type unifiedStrategy struct {
	cfg Config
}

func (s unifiedStrategy) Name() string { return Unified }

func (s unifiedStrategy) IssueDir(issueID string, _ dump.Trigger) string {
	return filepath.Join(s.cfg.BaseDir, s.cfg.LocalPrefix, issueID)
}

func (s unifiedStrategy) Grouped(dump.Trigger) bool { return true }

// individualStrategy keeps each device's dumps under {base}/dumps/{device_id}.
type individualStrategy struct {
	cfg Config
}

func (s individualStrategy) Name() string { return Individual }

func (s individualStrategy) IssueDir(string, dump.Trigger) string {
	return filepath.Join(s.cfg.BaseDir, "dumps")
}

func (s individualStrategy) Grouped(dump.Trigger) bool { return false }

// hybridStrategy groups test failures and keeps everything else per device.
type hybridStrategy struct {
	unified    unifiedStrategy
	individual individualStrategy
}

func (s hybridStrategy) Name() string { return Hybrid }

func (s hybridStrategy) pick(trigger dump.Trigger) Strategy {
	if trigger == dump.TriggerTestFailed {
		return s.unified
	}
	return s.individual
}

func (s hybridStrategy) IssueDir(issueID string, trigger dump.Trigger) string {
	return s.pick(trigger).IssueDir(issueID, trigger)
}

func (s hybridStrategy) Grouped(trigger dump.Trigger) bool {
	return s.pick(trigger).Grouped(trigger)
}
