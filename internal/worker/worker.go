// Package worker runs the extraction of one device's dump for one issue.
//
// A Worker moves through idle → starting → extracting → verifying and ends in
// exactly one of completed, error or cancelled. It reports that terminal
// outcome to its Reporter exactly once, whatever combination of transport
// replies, timeouts and cancellations occurs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dyluth/burrow/pkg/dump"
)

// ErrTimeout is the cancellation cause when a worker exceeds its deadline.
var ErrTimeout = errors.New("device extraction timed out")

// Config describes one extraction.
type Config struct {
	IssueID           string
	DeviceID          string
	DumpPath          string        // Directory the device's artifacts land in
	Commands          []Command     // Issued in order
	ExpectedArtifacts []string      // Globs relative to DumpPath, each must match
	Timeout           time.Duration // Zero disables the deadline
	ProgressInterval  time.Duration // Zero disables periodic progress ticks
}

// Progress is a non-terminal status update.
type Progress struct {
	IssueID  string
	DeviceID string
	Stage    dump.State
	Percent  int
	Message  string
}

// Outcome is the terminal result of a worker.
type Outcome struct {
	IssueID      string
	DeviceID     string
	State        dump.State
	ErrorMessage string
	DumpPath     string
	Artifacts    []dump.Artifact
	StartedAt    time.Time
	CompletedAt  time.Time
}

// Success reports whether the extraction completed and verified.
func (o Outcome) Success() bool {
	return o.State == dump.StateCompleted
}

// Result converts the outcome to its manifest form.
func (o Outcome) Result() dump.DeviceResult {
	r := dump.DeviceResult{
		DeviceID:     o.DeviceID,
		State:        o.State,
		Success:      dump.Bool(o.Success()),
		ErrorMessage: o.ErrorMessage,
		DumpPath:     o.DumpPath,
		Artifacts:    o.Artifacts,
	}
	if !o.StartedAt.IsZero() {
		t := o.StartedAt
		r.StartedAt = &t
	}
	if !o.CompletedAt.IsZero() {
		t := o.CompletedAt
		r.CompletedAt = &t
	}
	return r
}

// Reporter receives a worker's updates. Calls may come from any goroutine.
type Reporter interface {
	Progress(p Progress)
	// Terminal is called exactly once per worker.
	Terminal(o Outcome)
}

// Worker is a single device extraction. Create with New, then Start.
type Worker struct {
	cfg       Config
	transport Transport
	reporter  Reporter

	mu          sync.Mutex
	state       dump.State
	cancel      context.CancelCauseFunc
	startedAt   time.Time
	lastPercent int

	finishOnce sync.Once
	done       chan struct{}
}

// New creates an idle worker.
func New(cfg Config, transport Transport, reporter Reporter) *Worker {
	return &Worker{
		cfg:       cfg,
		transport: transport,
		reporter:  reporter,
		state:     dump.StateIdle,
		done:      make(chan struct{}),
	}
}

// DeviceID returns the device this worker extracts from.
func (w *Worker) DeviceID() string {
	return w.cfg.DeviceID
}

// IssueID returns the issue this worker belongs to.
func (w *Worker) IssueID() string {
	return w.cfg.IssueID
}

// State returns the current lifecycle state.
func (w *Worker) State() dump.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Done is closed after the terminal outcome has been reported.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Start begins the extraction in the background. Cancelling ctx cancels the
// worker. Start fails if the worker has already left the idle state.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.state != dump.StateIdle {
		state := w.state
		w.mu.Unlock()
		return fmt.Errorf("worker for device %s cannot start from state %s", w.cfg.DeviceID, state)
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	w.cancel = cancel
	w.state = dump.StateStarting
	w.startedAt = time.Now().UTC()
	w.mu.Unlock()

	w.logEvent("worker_starting", map[string]interface{}{
		"commands": len(w.cfg.Commands),
		"timeout":  w.cfg.Timeout.String(),
	})
	w.progress(dump.StateStarting, 0, "")

	go w.run(runCtx)
	return nil
}

// Cancel stops a non-terminal worker; it ends in the cancelled state with
// reason as its message. Cancelling a terminal worker does nothing.
func (w *Worker) Cancel(reason string) {
	w.mu.Lock()
	switch {
	case w.state.IsTerminal():
		w.mu.Unlock()
		return
	case w.state == dump.StateIdle:
		// Never started: claim the terminal state so Start refuses.
		w.state = dump.StateCancelled
		w.mu.Unlock()
		w.finish(dump.StateCancelled, reason, nil)
		return
	}
	cancel := w.cancel
	w.mu.Unlock()

	cancel(errors.New(reason))
}

type extraction struct {
	artifacts []dump.Artifact
	err       error
}

func (w *Worker) run(ctx context.Context) {
	defer w.cancel(nil)

	if w.cfg.Timeout > 0 {
		timer := time.AfterFunc(w.cfg.Timeout, func() { w.cancel(ErrTimeout) })
		defer timer.Stop()
	}

	var ticks <-chan time.Time
	if w.cfg.ProgressInterval > 0 {
		ticker := time.NewTicker(w.cfg.ProgressInterval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	// The transport may ignore ctx entirely, so extraction runs on its own
	// goroutine and this loop alone decides the terminal state.
	result := make(chan extraction, 1)
	go func() {
		artifacts, err := w.extract(ctx)
		result <- extraction{artifacts: artifacts, err: err}
	}()

	for {
		select {
		case <-ctx.Done():
			w.finishCancelled(ctx)
			return

		case r := <-result:
			switch {
			case ctx.Err() != nil:
				w.finishCancelled(ctx)
			case r.err != nil:
				w.finish(dump.StateError, r.err.Error(), nil)
			default:
				w.finish(dump.StateCompleted, "", r.artifacts)
			}
			return

		case <-ticks:
			if w.State() == dump.StateExtracting {
				elapsed := time.Since(w.startedAt).Truncate(time.Second)
				w.progress(dump.StateExtracting, -1, fmt.Sprintf("extracting... %s elapsed", elapsed))
			}
		}
	}
}

func (w *Worker) extract(ctx context.Context) ([]dump.Artifact, error) {
	total := len(w.cfg.Commands)
	for i, c := range w.cfg.Commands {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if c.Dir == "" {
			c.Dir = w.cfg.DumpPath
		}

		replies, err := w.transport.Dispatch(ctx, w.cfg.DeviceID, c)
		if err != nil {
			return nil, fmt.Errorf("failed to dispatch %q: %w", c.Name, err)
		}
		if i == 0 && w.transition(dump.StateExtracting) {
			w.progress(dump.StateExtracting, 10, fmt.Sprintf("dispatched %s", c.Name))
		}

		select {
		case reply := <-replies:
			if reply.Err != nil {
				return nil, fmt.Errorf("command %q failed: %w", c.Name, reply.Err)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		w.progress(dump.StateExtracting, 10+70*(i+1)/total, fmt.Sprintf("finished %s", c.Name))
	}

	if total == 0 {
		w.transition(dump.StateExtracting)
	}
	if !w.transition(dump.StateVerifying) {
		return nil, ctx.Err()
	}
	w.progress(dump.StateVerifying, 90, "")

	artifacts, err := Verify(w.cfg.DumpPath, w.cfg.ExpectedArtifacts)
	if err != nil {
		return nil, fmt.Errorf("verification failed: %w", err)
	}
	return artifacts, nil
}

// transition moves to a non-terminal state unless a terminal state has
// already been reached.
func (w *Worker) transition(to dump.State) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state.IsTerminal() {
		return false
	}
	w.state = to
	return true
}

func (w *Worker) finishCancelled(ctx context.Context) {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrTimeout):
		w.finish(dump.StateCancelled, fmt.Sprintf("timed out after %s", w.cfg.Timeout), nil)
	case cause == nil || errors.Is(cause, context.Canceled):
		w.finish(dump.StateCancelled, "cancelled", nil)
	default:
		w.finish(dump.StateCancelled, cause.Error(), nil)
	}
}

func (w *Worker) finish(state dump.State, message string, artifacts []dump.Artifact) {
	w.finishOnce.Do(func() {
		w.mu.Lock()
		w.state = state
		startedAt := w.startedAt
		w.mu.Unlock()

		outcome := Outcome{
			IssueID:      w.cfg.IssueID,
			DeviceID:     w.cfg.DeviceID,
			State:        state,
			ErrorMessage: message,
			DumpPath:     w.cfg.DumpPath,
			Artifacts:    artifacts,
			StartedAt:    startedAt,
			CompletedAt:  time.Now().UTC(),
		}

		w.logEvent("worker_finished", map[string]interface{}{
			"state":     string(state),
			"message":   message,
			"artifacts": len(artifacts),
		})

		w.reporter.Terminal(outcome)
		close(w.done)
	})
}

// progress reports a status update. A negative percent repeats the last one.
func (w *Worker) progress(stage dump.State, percent int, message string) {
	w.mu.Lock()
	if w.state.IsTerminal() {
		w.mu.Unlock()
		return
	}
	if percent < 0 {
		percent = w.lastPercent
	} else {
		w.lastPercent = percent
	}
	w.mu.Unlock()

	w.reporter.Progress(Progress{
		IssueID:  w.cfg.IssueID,
		DeviceID: w.cfg.DeviceID,
		Stage:    stage,
		Percent:  percent,
		Message:  message,
	})
}

// logEvent logs a structured event in JSON format.
func (w *Worker) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["component"] = "worker"
	data["event_type"] = eventType
	data["issue_id"] = w.cfg.IssueID
	data["device_id"] = w.cfg.DeviceID

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Worker] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
