package coordinator

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dyluth/burrow/internal/manifest"
	"github.com/dyluth/burrow/internal/pathstrategy"
	"github.com/dyluth/burrow/internal/worker"
	"github.com/dyluth/burrow/pkg/dump"
)

// issueIDLayout renders the creation time of an issue, e.g. 241017-093012.
const issueIDLayout = "060102-150405"

func (c *Coordinator) handleRequest(req Request) (string, error) {
	if c.shuttingDown {
		return "", ErrNotRunning
	}
	if err := req.TriggeredBy.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	targets, err := normalizeDevices(req.Devices)
	if err != nil {
		return "", err
	}

	now := c.cfg.Now()
	issueID := c.newIssueID(now, req.TriggeredBy)

	uploadEnabled := c.cfg.AutoUploadEnabled
	if req.UploadEnabled != nil {
		uploadEnabled = *req.UploadEnabled
	}
	explicitOptIn := req.UploadEnabled != nil && *req.UploadEnabled

	// Resolved once so every device of the issue shares one directory.
	issueDir := c.cfg.Strategy.IssueDir(issueID, req.TriggeredBy)
	grouped := c.cfg.Strategy.Grouped(req.TriggeredBy)

	m := &dump.Manifest{
		IssueID:       issueID,
		RequestID:     req.RequestID,
		TriggeredBy:   req.TriggeredBy,
		PathStrategy:  c.cfg.Strategy.Name(),
		IssueDir:      issueDir,
		Targets:       targets,
		Results:       make(map[string]*dump.DeviceResult, len(targets)),
		UploadEnabled: uploadEnabled,
		ShowDialog:    req.TriggeredBy == dump.TriggerManual || explicitOptIn,
		CreatedAt:     now,
	}
	for _, d := range targets {
		m.Results[d] = &dump.DeviceResult{
			DeviceID: d,
			State:    dump.StateIdle,
			DumpPath: pathstrategy.DeviceDir(c.cfg.Strategy, issueID, d, req.TriggeredBy),
		}
	}

	is := &issue{
		manifest: m,
		path:     manifest.Path(issueDir, issueID, grouped),
		grouped:  grouped,
		mode:     req.TriggeredBy.Mode(),
	}

	if err := c.write(is); err != nil {
		return "", fmt.Errorf("failed to write initial manifest for issue %s: %w", issueID, err)
	}
	c.issues[issueID] = is
	c.cfg.Metrics.IssueOpened(c.bgCtx, string(req.TriggeredBy))

	c.logEvent("issue_opened", map[string]interface{}{
		"issue_id":       issueID,
		"request_id":     req.RequestID,
		"triggered_by":   string(req.TriggeredBy),
		"targets":        targets,
		"issue_dir":      issueDir,
		"upload_enabled": uploadEnabled,
		"show_dialog":    m.ShowDialog,
	})

	for _, d := range targets {
		t := target{issueID: issueID, deviceID: d}
		if !c.isConnected(d) {
			c.recordSkipped(t, "device not connected")
			continue
		}
		c.queue = append(c.queue, t)
		c.cfg.Metrics.Queued(c.bgCtx, 1)
	}
	c.admit()

	return issueID, nil
}

// normalizeDevices rejects empty device lists and ids, dropping duplicates
// while keeping the requested order.
func normalizeDevices(devices []string) ([]string, error) {
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no devices requested", ErrInvalidRequest)
	}
	seen := make(map[string]bool, len(devices))
	var out []string
	for _, d := range devices {
		d = strings.TrimSpace(d)
		if d == "" {
			return nil, fmt.Errorf("%w: empty device id", ErrInvalidRequest)
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out, nil
}

// newIssueID derives an id from now, suffixing -2, -3, ... when the plain
// form is held by a tracked issue or by a manifest already on disk, as left by
// another process opening an issue in the same second.
func (c *Coordinator) newIssueID(now time.Time, trigger dump.Trigger) string {
	base := now.Format(issueIDLayout)
	if !c.issueIDTaken(base, trigger) {
		return base
	}
	for n := 2; ; n++ {
		id := fmt.Sprintf("%s-%d", base, n)
		if !c.issueIDTaken(id, trigger) {
			return id
		}
	}
}

func (c *Coordinator) issueIDTaken(id string, trigger dump.Trigger) bool {
	if _, tracked := c.issues[id]; tracked {
		return true
	}
	p := manifest.Path(c.cfg.Strategy.IssueDir(id, trigger), id, c.cfg.Strategy.Grouped(trigger))
	_, err := os.Stat(p)
	return err == nil
}

// admit starts queued devices, oldest first, until the concurrency bound is
// reached. Queued devices of every issue share one FIFO. A device already
// extracting for another issue keeps its place until that worker ends.
func (c *Coordinator) admit() {
	for i := 0; !c.shuttingDown && len(c.running) < c.cfg.MaxConcurrency && i < len(c.queue); {
		t := c.queue[i]
		if c.deviceBusy(t.deviceID) {
			i++
			continue
		}
		c.queue = append(c.queue[:i:i], c.queue[i+1:]...)
		c.cfg.Metrics.Queued(c.bgCtx, -1)
		c.startWorker(t)
	}
}

func (c *Coordinator) deviceBusy(deviceID string) bool {
	for t := range c.running {
		if t.deviceID == deviceID {
			return true
		}
	}
	return false
}

func (c *Coordinator) startWorker(t target) {
	is := c.issues[t.issueID]
	result := is.manifest.Results[t.deviceID]

	if err := os.MkdirAll(result.DumpPath, 0o755); err != nil {
		c.recordFailure(t, fmt.Sprintf("failed to create dump directory: %v", err))
		return
	}

	timeout := c.cfg.DialogTimeout
	if is.mode == dump.ModeHeadless {
		timeout = c.cfg.HeadlessTimeout
	}

	w := worker.New(worker.Config{
		IssueID:           t.issueID,
		DeviceID:          t.deviceID,
		DumpPath:          result.DumpPath,
		Commands:          c.cfg.Commands,
		ExpectedArtifacts: c.cfg.ExpectedArtifacts,
		Timeout:           timeout,
		ProgressInterval:  c.cfg.ProgressInterval,
	}, c.cfg.Transport, workerReporter{c: c})

	startedAt := c.cfg.Now()
	c.running[t] = &runningWorker{w: w, startedAt: startedAt}
	if len(c.running) > c.peakRunning {
		c.peakRunning = len(c.running)
	}

	r := *result
	r.State = dump.StateStarting
	r.StartedAt = &startedAt
	is.manifest.Results[t.deviceID] = &r
	c.storeSnapshot(is)

	c.publish(dump.DumpStarted{
		IssueID:     t.issueID,
		DeviceID:    t.deviceID,
		TriggeredBy: is.manifest.TriggeredBy,
		DumpPath:    result.DumpPath,
	})

	if err := w.Start(c.workerCtx); err != nil {
		delete(c.running, t)
		c.recordFailure(t, err.Error())
		return
	}
	c.cfg.Metrics.WorkerStarted(c.bgCtx)
}

func (c *Coordinator) handleTerminal(o worker.Outcome) {
	t := target{issueID: o.IssueID, deviceID: o.DeviceID}
	rw, ok := c.running[t]
	if !ok {
		log.Printf("[Coordinator] [WARN] Ignoring terminal report for %s/%s: worker is not running", o.IssueID, o.DeviceID)
		return
	}
	delete(c.running, t)
	c.cfg.Metrics.WorkerFinished(c.bgCtx, string(o.State), o.CompletedAt.Sub(rw.startedAt))

	c.applyResult(o.IssueID, o.Result())
	c.admit()
}

// recordSkipped closes out a device that never got a worker.
func (c *Coordinator) recordSkipped(t target, reason string) {
	c.cfg.Metrics.DeviceSkipped(c.bgCtx, string(dump.StateCancelled))
	c.closeOut(t, dump.StateCancelled, reason)
}

// recordFailure closes out a device whose worker could not be started.
func (c *Coordinator) recordFailure(t target, reason string) {
	c.cfg.Metrics.DeviceSkipped(c.bgCtx, string(dump.StateError))
	c.closeOut(t, dump.StateError, reason)
}

func (c *Coordinator) closeOut(t target, state dump.State, reason string) {
	now := c.cfg.Now()
	prev := c.issues[t.issueID].manifest.Results[t.deviceID]
	c.applyResult(t.issueID, dump.DeviceResult{
		DeviceID:     t.deviceID,
		State:        state,
		Success:      dump.Bool(false),
		ErrorMessage: reason,
		DumpPath:     prev.DumpPath,
		StartedAt:    prev.StartedAt,
		CompletedAt:  &now,
	})
}

// dropQueued removes matching devices from the queue and records them as
// cancelled with reason.
func (c *Coordinator) dropQueued(match func(target) bool, reason string) {
	var dropped []target
	kept := c.queue[:0]
	for _, t := range c.queue {
		if match(t) {
			dropped = append(dropped, t)
		} else {
			kept = append(kept, t)
		}
	}
	c.queue = kept

	for _, t := range dropped {
		c.cfg.Metrics.Queued(c.bgCtx, -1)
		c.recordSkipped(t, reason)
	}
}

// applyResult records a device's terminal result, persists the manifest and
// only then announces the result. A second result for the same device is
// ignored.
func (c *Coordinator) applyResult(issueID string, r dump.DeviceResult) {
	is, ok := c.issues[issueID]
	if !ok {
		log.Printf("[Coordinator] [WARN] Result for unknown issue %s dropped", issueID)
		return
	}
	if prev, ok := is.manifest.Results[r.DeviceID]; ok && !prev.Pending() {
		log.Printf("[Coordinator] [WARN] Duplicate result for %s/%s ignored", issueID, r.DeviceID)
		return
	}

	is.manifest.SetResult(r)
	c.persist(is)

	c.publish(dump.DumpProgress{
		IssueID:  issueID,
		DeviceID: r.DeviceID,
		Stage:    r.State,
		Progress: 100,
		Message:  r.ErrorMessage,
	})
	c.publish(dump.DeviceDumpCompleted{
		IssueID:      issueID,
		DeviceID:     r.DeviceID,
		State:        r.State,
		Success:      *r.Success,
		ErrorMessage: r.ErrorMessage,
		DumpPath:     r.DumpPath,
	})

	c.logEvent("device_finished", map[string]interface{}{
		"issue_id":  issueID,
		"device_id": r.DeviceID,
		"state":     string(r.State),
		"success":   *r.Success,
		"message":   r.ErrorMessage,
		"artifacts": len(r.Artifacts),
	})

	c.checkComplete(is)
}

// checkComplete fires the aggregate completion once every target is
// terminal. It runs only on the Run goroutine, so it fires once per issue.
func (c *Coordinator) checkComplete(is *issue) {
	if is.completed || !is.manifest.Complete() {
		return
	}
	is.completed = true
	m := is.manifest

	results := make(map[string]bool, len(m.Results))
	for id, r := range m.Results {
		results[id] = *r.Success
	}
	c.publish(dump.AllDumpsCompleted{
		IssueID:   m.IssueID,
		RequestID: m.RequestID,
		IssueDir:  m.IssueDir,
		Summary: dump.Summary{
			SuccessCount: m.SuccessCount,
			FailCount:    m.FailCount,
			Results:      results,
		},
	})

	c.logEvent("issue_completed", map[string]interface{}{
		"issue_id":      m.IssueID,
		"success_count": m.SuccessCount,
		"fail_count":    m.FailCount,
		"stale":         is.stale,
	})

	c.handOffUpload(is)
}
