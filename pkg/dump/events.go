package dump

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Channel names one of the three event streams on the bus.
type Channel string

const (
	// ChannelIntake carries requests into the coordinator.
	ChannelIntake Channel = "intake"

	// ChannelProgress carries per-device lifecycle updates.
	ChannelProgress Channel = "progress"

	// ChannelCompletion carries issue-level completion and upload events.
	ChannelCompletion Channel = "completion"
)

// AllChannels lists every channel in a stable order.
var AllChannels = []Channel{ChannelIntake, ChannelProgress, ChannelCompletion}

// Kind is the wire discriminator for an event.
type Kind string

const (
	KindDumpRequested           Kind = "dump_requested"
	KindDeviceConnectionChanged Kind = "device_connection_changed"
	KindDumpStarted             Kind = "dump_started"
	KindDumpProgress            Kind = "dump_progress"
	KindDeviceDumpCompleted     Kind = "device_dump_completed"
	KindAllDumpsCompleted       Kind = "all_dumps_completed"
	KindUploadRequested         Kind = "upload_requested"
	KindUploadCompleted         Kind = "upload_completed"
)

// Event is implemented by every event type. The set is closed: each event also
// implements exactly one of IntakeEvent, ProgressEvent or CompletionEvent, and
// those interfaces cannot be satisfied outside this package.
type Event interface {
	Kind() Kind
	Channel() Channel
}

// IntakeEvent is the union of events consumed by the coordinator as requests.
type IntakeEvent interface {
	Event
	intake()
}

// ProgressEvent is the union of per-device lifecycle events.
type ProgressEvent interface {
	Event
	progress()
}

// CompletionEvent is the union of issue-level completion events.
type CompletionEvent interface {
	Event
	completion()
}

// DumpRequested asks the coordinator to open a new issue. An empty
// RequestedDevices means every currently connected device.
type DumpRequested struct {
	RequestID        string   `json:"request_id,omitempty"`
	TriggeredBy      Trigger  `json:"triggered_by"`
	RequestedDevices []string `json:"requested_devices,omitempty"`
	UploadEnabled    *bool    `json:"upload_enabled,omitempty"`
}

// DeviceConnectionChanged reports a device attaching or detaching.
type DeviceConnectionChanged struct {
	DeviceID  string `json:"device_id"`
	Connected bool   `json:"connected"`
}

// DumpStarted is published when a device is admitted and its worker starts.
type DumpStarted struct {
	IssueID     string  `json:"issue_id"`
	DeviceID    string  `json:"device_id"`
	TriggeredBy Trigger `json:"triggered_by"`
	DumpPath    string  `json:"dump_path"`
}

// DumpProgress is an informational progress tick for one device.
type DumpProgress struct {
	IssueID  string `json:"issue_id"`
	DeviceID string `json:"device_id"`
	Stage    State  `json:"stage"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
}

// DeviceDumpCompleted is published once per device, after its terminal
// result has been written to the manifest.
type DeviceDumpCompleted struct {
	IssueID      string `json:"issue_id"`
	DeviceID     string `json:"device_id"`
	State        State  `json:"state"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
	DumpPath     string `json:"dump_path,omitempty"`
}

// Summary aggregates an issue's device outcomes.
type Summary struct {
	SuccessCount int             `json:"success_count"`
	FailCount    int             `json:"fail_count"`
	Results      map[string]bool `json:"results"`
}

// AllDumpsCompleted is published exactly once per issue, when every target
// device has a terminal result.
type AllDumpsCompleted struct {
	IssueID   string  `json:"issue_id"`
	RequestID string  `json:"request_id,omitempty"`
	IssueDir  string  `json:"issue_dir"`
	Summary   Summary `json:"summary"`
}

// UploadRequested asks the UI to present the upload dialog for an issue.
type UploadRequested struct {
	IssueID    string   `json:"issue_id"`
	IssueDir   string   `json:"issue_dir"`
	TargetPath string   `json:"target_path"`
	Targets    []string `json:"targets"`
	ShowDialog bool     `json:"show_dialog"`
}

// UploadCompleted carries the outcome of the single upload attempt for an
// issue. The UI publishes it after a dialog upload; the coordinator publishes
// it after a headless upload.
type UploadCompleted struct {
	IssueID string            `json:"issue_id"`
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Links   map[string]string `json:"links,omitempty"`
}

func (DumpRequested) Kind() Kind                 { return KindDumpRequested }
func (DeviceConnectionChanged) Kind() Kind       { return KindDeviceConnectionChanged }
func (DumpStarted) Kind() Kind                   { return KindDumpStarted }
func (DumpProgress) Kind() Kind                  { return KindDumpProgress }
func (DeviceDumpCompleted) Kind() Kind           { return KindDeviceDumpCompleted }
func (AllDumpsCompleted) Kind() Kind             { return KindAllDumpsCompleted }
func (UploadRequested) Kind() Kind               { return KindUploadRequested }
func (UploadCompleted) Kind() Kind               { return KindUploadCompleted }
func (DumpRequested) Channel() Channel           { return ChannelIntake }
func (DeviceConnectionChanged) Channel() Channel { return ChannelIntake }
func (DumpStarted) Channel() Channel             { return ChannelProgress }
func (DumpProgress) Channel() Channel            { return ChannelProgress }
func (DeviceDumpCompleted) Channel() Channel     { return ChannelProgress }
func (AllDumpsCompleted) Channel() Channel       { return ChannelCompletion }
func (UploadRequested) Channel() Channel         { return ChannelCompletion }
func (UploadCompleted) Channel() Channel         { return ChannelCompletion }

func (DumpRequested) intake()           {}
func (DeviceConnectionChanged) intake() {}
func (DumpStarted) progress()           {}
func (DumpProgress) progress()          {}
func (DeviceDumpCompleted) progress()   {}
func (AllDumpsCompleted) completion()   {}
func (UploadRequested) completion()     {}
func (UploadCompleted) completion()     {}

// Envelope is the wire form of an event.
type Envelope struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	CreatedAtMs int64           `json:"created_at_ms"`
	Payload     json.RawMessage `json:"payload"`
}

// Encode wraps an event in an envelope and marshals it to JSON.
func Encode(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", e.Kind(), err)
	}
	env := Envelope{
		ID:          uuid.New().String(),
		Kind:        e.Kind(),
		CreatedAtMs: time.Now().UnixMilli(),
		Payload:     payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// Decode parses an envelope and returns the concrete event it carries.
// Unknown kinds are rejected.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	var (
		e   Event
		err error
	)
	switch env.Kind {
	case KindDumpRequested:
		e, err = decodeAs[DumpRequested](env.Payload)
	case KindDeviceConnectionChanged:
		e, err = decodeAs[DeviceConnectionChanged](env.Payload)
	case KindDumpStarted:
		e, err = decodeAs[DumpStarted](env.Payload)
	case KindDumpProgress:
		e, err = decodeAs[DumpProgress](env.Payload)
	case KindDeviceDumpCompleted:
		e, err = decodeAs[DeviceDumpCompleted](env.Payload)
	case KindAllDumpsCompleted:
		e, err = decodeAs[AllDumpsCompleted](env.Payload)
	case KindUploadRequested:
		e, err = decodeAs[UploadRequested](env.Payload)
	case KindUploadCompleted:
		e, err = decodeAs[UploadCompleted](env.Payload)
	default:
		return nil, fmt.Errorf("unknown event kind: %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", env.Kind, err)
	}
	return e, nil
}

func decodeAs[T Event](payload json.RawMessage) (Event, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}
