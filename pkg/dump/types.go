package dump

import (
	"fmt"
	"sort"
	"time"
)

// Trigger identifies what caused a dump request.
type Trigger string

const (
	// TriggerManual is an operator-initiated dump, usually from the UI.
	TriggerManual Trigger = "MANUAL"

	// TriggerCrashMonitor is raised by the crash monitor when a device crashes.
	TriggerCrashMonitor Trigger = "CRASH_MONITOR"

	// TriggerTestFailed is raised by the automated test runner on a failed test.
	TriggerTestFailed Trigger = "TEST_FAILED"
)

// Validate checks that the trigger is one of the known values.
func (t Trigger) Validate() error {
	switch t {
	case TriggerManual, TriggerCrashMonitor, TriggerTestFailed:
		return nil
	default:
		return fmt.Errorf("invalid trigger: %q", t)
	}
}

// Mode returns the dump mode implied by the trigger. Automated triggers run
// headless; everything else assumes an operator is watching.
func (t Trigger) Mode() Mode {
	switch t {
	case TriggerCrashMonitor, TriggerTestFailed:
		return ModeHeadless
	default:
		return ModeDialog
	}
}

// ParseTrigger accepts the canonical upper-case names as well as the
// lower-case forms used on the command line.
func ParseTrigger(s string) (Trigger, error) {
	switch s {
	case "MANUAL", "manual":
		return TriggerManual, nil
	case "CRASH_MONITOR", "crash_monitor", "crash-monitor":
		return TriggerCrashMonitor, nil
	case "TEST_FAILED", "test_failed", "test-failed":
		return TriggerTestFailed, nil
	default:
		return "", fmt.Errorf("invalid trigger: %q (expected manual, crash_monitor or test_failed)", s)
	}
}

// Mode describes whether an operator is expected to be present.
type Mode string

const (
	ModeDialog   Mode = "dialog"
	ModeHeadless Mode = "headless"
)

// State is the lifecycle state of a single device extraction.
type State string

const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StateExtracting State = "extracting"
	StateVerifying  State = "verifying"
	StateCompleted  State = "completed"
	StateError      State = "error"
	StateCancelled  State = "cancelled"
)

// IsTerminal reports whether no further transitions are possible from s.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateError || s == StateCancelled
}

// Artifact is one verified output file of a device dump.
type Artifact struct {
	Name   string `json:"name"`   // Path relative to the device dump directory
	Size   int64  `json:"size"`   // Size in bytes
	Digest string `json:"blake3"` // Hex-encoded BLAKE3 digest
}

// DeviceResult records the outcome of one device's extraction within an issue.
// Success is nil while the device is still pending.
type DeviceResult struct {
	DeviceID     string     `json:"device_id"`
	State        State      `json:"state"`
	Success      *bool      `json:"success"`
	ErrorMessage string     `json:"error_message,omitempty"`
	DumpPath     string     `json:"dump_path,omitempty"`
	Artifacts    []Artifact `json:"artifacts,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Pending reports whether the device has not yet reached a terminal state.
func (r *DeviceResult) Pending() bool {
	return r.Success == nil
}

// UploadResult records the single upload attempt made for an issue.
type UploadResult struct {
	Success   bool              `json:"success"`
	Message   string            `json:"message"`
	Links     map[string]string `json:"links,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Manifest is the durable per-issue record. It is the authoritative source of
// truth for an issue and is rewritten in full on every change.
type Manifest struct {
	IssueID       string                   `json:"issue_id"`
	RequestID     string                   `json:"request_id,omitempty"`
	TriggeredBy   Trigger                  `json:"triggered_by"`
	PathStrategy  string                   `json:"path_strategy"`
	IssueDir      string                   `json:"issue_dir"`
	Targets       []string                 `json:"targets"`
	Results       map[string]*DeviceResult `json:"results"`
	SuccessCount  int                      `json:"success_count"`
	FailCount     int                      `json:"fail_count"`
	UploadEnabled bool                     `json:"upload_enabled"`
	ShowDialog    bool                     `json:"show_dialog"`
	UploadResult  *UploadResult            `json:"upload_result,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
	UpdatedAt     time.Time                `json:"updated_at"`
}

// Validate checks the structural invariants of a manifest.
func (m *Manifest) Validate() error {
	if m.IssueID == "" {
		return fmt.Errorf("issue_id is required")
	}
	if err := m.TriggeredBy.Validate(); err != nil {
		return err
	}
	if len(m.Targets) == 0 {
		return fmt.Errorf("targets must not be empty")
	}
	for _, id := range m.Targets {
		if _, ok := m.Results[id]; !ok {
			return fmt.Errorf("missing result entry for target %q", id)
		}
	}
	return nil
}

// SetResult replaces the result for a device and recomputes the counters.
func (m *Manifest) SetResult(r DeviceResult) {
	if m.Results == nil {
		m.Results = make(map[string]*DeviceResult)
	}
	m.Results[r.DeviceID] = &r
	m.recount()
}

func (m *Manifest) recount() {
	m.SuccessCount, m.FailCount = 0, 0
	for _, r := range m.Results {
		if r.Success == nil {
			continue
		}
		if *r.Success {
			m.SuccessCount++
		} else {
			m.FailCount++
		}
	}
}

// PendingDevices returns the targets that have not reached a terminal state,
// in target order.
func (m *Manifest) PendingDevices() []string {
	var pending []string
	for _, id := range m.Targets {
		if r, ok := m.Results[id]; !ok || r.Pending() {
			pending = append(pending, id)
		}
	}
	return pending
}

// Complete reports whether every target has a terminal result.
func (m *Manifest) Complete() bool {
	return len(m.PendingDevices()) == 0
}

// Clone returns a deep copy safe to hand to other goroutines.
func (m *Manifest) Clone() *Manifest {
	c := *m
	c.Targets = append([]string(nil), m.Targets...)
	c.Results = make(map[string]*DeviceResult, len(m.Results))
	for id, r := range m.Results {
		rc := *r
		if r.Success != nil {
			s := *r.Success
			rc.Success = &s
		}
		if r.StartedAt != nil {
			t := *r.StartedAt
			rc.StartedAt = &t
		}
		if r.CompletedAt != nil {
			t := *r.CompletedAt
			rc.CompletedAt = &t
		}
		rc.Artifacts = append([]Artifact(nil), r.Artifacts...)
		c.Results[id] = &rc
	}
	if m.UploadResult != nil {
		u := *m.UploadResult
		if m.UploadResult.Links != nil {
			u.Links = make(map[string]string, len(m.UploadResult.Links))
			for k, v := range m.UploadResult.Links {
				u.Links[k] = v
			}
		}
		c.UploadResult = &u
	}
	return &c
}

// SortedDeviceIDs returns the result keys in lexical order.
func (m *Manifest) SortedDeviceIDs() []string {
	ids := make([]string, 0, len(m.Results))
	for id := range m.Results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Bool returns a pointer to b, for filling DeviceResult.Success.
func Bool(b bool) *bool {
	return &b
}
