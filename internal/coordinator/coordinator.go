// Package coordinator turns dump requests into per-device extractions and
// aggregates their outcomes into one manifest per issue.
//
// All mutable state is owned by the goroutine running Run. Public methods and
// worker callbacks post messages to it and, where a reply is needed, wait for
// one. Outcomes are therefore applied one at a time, which is what keeps the
// manifest writes ordered and the completion event single.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyluth/burrow/internal/pathstrategy"
	"github.com/dyluth/burrow/internal/telemetry"
	"github.com/dyluth/burrow/internal/upload"
	"github.com/dyluth/burrow/internal/worker"
	"github.com/dyluth/burrow/pkg/dump"
)

var (
	// ErrInvalidRequest is returned for requests that cannot open an issue.
	ErrInvalidRequest = errors.New("invalid dump request")

	// ErrUnknownIssue is returned when an issue id is not tracked.
	ErrUnknownIssue = errors.New("unknown issue")

	// ErrNotRunning is returned when the coordinator loop is not accepting work.
	ErrNotRunning = errors.New("coordinator is not running")
)

// ManifestWriter durably replaces an issue's manifest.
type ManifestWriter interface {
	Write(ctx context.Context, path string, m *dump.Manifest) error
}

// SnapshotWriter mirrors manifests for remote readers.
type SnapshotWriter interface {
	WriteSnapshot(ctx context.Context, m *dump.Manifest) error
}

// Config wires a coordinator to its collaborators and policy.
type Config struct {
	InstanceName string

	Bus       dump.Bus
	Transport worker.Transport
	Store     ManifestWriter
	Strategy  pathstrategy.Strategy
	Gateway   upload.Gateway // Nil records headless uploads as failed
	Mirror    SnapshotWriter // Optional
	Metrics   *telemetry.Dumps

	MaxConcurrency        int
	UploadDirectoryPrefix string
	AutoUploadEnabled     bool
	HeadlessTimeout       time.Duration
	DialogTimeout         time.Duration
	ProgressInterval      time.Duration
	ShutdownGrace         time.Duration
	Commands              []worker.Command
	ExpectedArtifacts     []string
	Devices               []string // Connected at startup

	Now func() time.Time
}

// Request is a dump request.
type Request struct {
	RequestID     string
	TriggeredBy   dump.Trigger
	Devices       []string
	UploadEnabled *bool // Nil defers to AutoUploadEnabled
}

// Stats is a point-in-time view of admission state.
type Stats struct {
	Running     int `json:"running"`
	Queued      int `json:"queued"`
	PeakRunning int `json:"peak_running"`
	Issues      int `json:"issues"`
}

type uploadState int

const (
	uploadNone uploadState = iota
	uploadInFlight
	uploadAwaitingDialog
	uploadDone
)

// issue is the coordinator's in-memory record of one issue. manifest mirrors
// the file contents; stale is set once a write has failed for good.
type issue struct {
	manifest  *dump.Manifest
	path      string
	grouped   bool
	mode      dump.Mode
	completed bool
	cancelled bool
	stale     bool
	upload    uploadState
}

type target struct {
	issueID  string
	deviceID string
}

type runningWorker struct {
	w         *worker.Worker
	startedAt time.Time
}

// Coordinator is the single owner of issue state.
type Coordinator struct {
	cfg   Config
	inbox chan message
	ready chan struct{}
	done  chan struct{}

	started atomic.Bool

	// Owned by the Run goroutine.
	issues       map[string]*issue
	queue        []target
	running      map[target]*runningWorker
	connected    map[string]bool
	deviceOrder  []string
	peakRunning  int
	shuttingDown bool
	bgCtx        context.Context
	workerCtx    context.Context
	uploadCtx    context.Context

	uploadMu sync.Mutex

	snapMu    sync.RWMutex
	snapshots map[string]*dump.Manifest
	stats     Stats
}

// New validates cfg, applies defaults and returns a coordinator ready to Run.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("device transport is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("manifest store is required")
	}
	if cfg.Strategy == nil {
		return nil, fmt.Errorf("path strategy is required")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 3
	}
	if cfg.UploadDirectoryPrefix == "" {
		cfg.UploadDirectoryPrefix = "issues"
	}
	if cfg.HeadlessTimeout <= 0 {
		cfg.HeadlessTimeout = 5 * time.Minute
	}
	if cfg.DialogTimeout <= 0 {
		cfg.DialogTimeout = 10 * time.Minute
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	if cfg.InstanceName == "" {
		cfg.InstanceName = "default"
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	c := &Coordinator{
		cfg:       cfg,
		inbox:     make(chan message, 64),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		issues:    make(map[string]*issue),
		running:   make(map[target]*runningWorker),
		connected: make(map[string]bool),
		snapshots: make(map[string]*dump.Manifest),
	}
	for _, d := range cfg.Devices {
		c.setConnected(d, true)
	}
	return c, nil
}

// Run processes requests, worker outcomes and bus events until ctx is
// cancelled, then shuts down: queued devices are cancelled, running workers
// are cancelled and awaited for up to ShutdownGrace, and every manifest gets a
// final write. Run returns an error if the bus subscription fails.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("coordinator already started")
	}
	defer close(c.done)

	// Manifest writes and worker lifetimes must survive ctx so that shutdown
	// can still record what happened.
	c.bgCtx = context.WithoutCancel(ctx)
	workerCtx, cancelWorkers := context.WithCancel(c.bgCtx)
	defer cancelWorkers()
	c.workerCtx = workerCtx
	uploadCtx, cancelUploads := context.WithCancel(c.bgCtx)
	defer cancelUploads()
	c.uploadCtx = uploadCtx

	sub, err := c.cfg.Bus.Subscribe(ctx, dump.ChannelIntake, dump.ChannelCompletion)
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}
	defer sub.Close()
	close(c.ready)

	log.Printf("[Coordinator] Starting for instance '%s' (max_concurrency=%d, path_strategy=%s)",
		c.cfg.InstanceName, c.cfg.MaxConcurrency, c.cfg.Strategy.Name())

	events, errs := sub.Events(), sub.Errors()
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			cancelUploads()
			return nil

		case msg := <-c.inbox:
			c.handle(msg)

		case e, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					events = nil
					continue
				}
				log.Printf("[Coordinator] [ERROR] Event subscription closed")
				c.shutdown()
				return fmt.Errorf("event subscription closed unexpectedly")
			}
			c.handleEvent(e)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("[Coordinator] [WARN] Subscription error: %v", err)
		}
		c.refreshStats()
	}
}

// RequestDump opens a new issue for devices and begins admitting them. It
// returns once the initial manifest is durable. uploadEnabled may be nil to
// use the configured default.
func (c *Coordinator) RequestDump(ctx context.Context, triggeredBy dump.Trigger, devices []string, uploadEnabled *bool) (string, error) {
	return c.Submit(ctx, Request{TriggeredBy: triggeredBy, Devices: devices, UploadEnabled: uploadEnabled})
}

// Submit is RequestDump with a correlation id.
func (c *Coordinator) Submit(ctx context.Context, req Request) (string, error) {
	reply := make(chan requestReply, 1)
	if err := c.send(ctx, requestMsg{req: req, reply: reply}); err != nil {
		return "", err
	}
	select {
	case r := <-reply:
		return r.issueID, r.err
	case <-c.done:
		return "", ErrNotRunning
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// CancelIssue cancels the running and queued devices of an issue. Devices
// that already finished keep their results.
func (c *Coordinator) CancelIssue(ctx context.Context, issueID string) error {
	reply := make(chan error, 1)
	if err := c.send(ctx, cancelIssueMsg{issueID: issueID, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of an issue's current manifest. It may lag the
// file by one in-flight update.
func (c *Coordinator) Snapshot(issueID string) (*dump.Manifest, bool) {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	m, ok := c.snapshots[issueID]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// IssueIDs returns every tracked issue id, oldest first.
func (c *Coordinator) IssueIDs() []string {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	ids := make([]string, 0, len(c.snapshots))
	for id := range c.snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns the latest admission counters.
func (c *Coordinator) Stats() Stats {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.stats
}

// Ready is closed once Run is subscribed to the bus.
func (c *Coordinator) Ready() <-chan struct{} {
	return c.ready
}

// Done is closed when Run has returned.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// send delivers a message to the Run goroutine.
func (c *Coordinator) send(ctx context.Context, msg message) error {
	select {
	case c.inbox <- msg:
		return nil
	case <-c.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post is send for internal producers that have no context of their own.
func (c *Coordinator) post(msg message) {
	select {
	case c.inbox <- msg:
	case <-c.done:
	}
}

func (c *Coordinator) handleEvent(e dump.Event) {
	switch ev := e.(type) {
	case dump.DumpRequested:
		devices := ev.RequestedDevices
		if len(devices) == 0 {
			devices = c.connectedDevices()
		}
		issueID, err := c.handleRequest(Request{
			RequestID:     ev.RequestID,
			TriggeredBy:   ev.TriggeredBy,
			Devices:       devices,
			UploadEnabled: ev.UploadEnabled,
		})
		if err != nil {
			log.Printf("[Coordinator] [WARN] Rejected dump request %s: %v", ev.RequestID, err)
			return
		}
		log.Printf("[Coordinator] Dump request %s opened issue %s", ev.RequestID, issueID)

	case dump.DeviceConnectionChanged:
		c.handleConnection(ev.DeviceID, ev.Connected)

	case dump.UploadCompleted:
		c.handleUploadResult(uploadResultMsg{
			issueID: ev.IssueID,
			source:  sourceDialog,
			result: dump.UploadResult{
				Success:   ev.Success,
				Message:   ev.Message,
				Links:     ev.Links,
				Timestamp: c.cfg.Now(),
			},
		})
	}
}

func (c *Coordinator) handleConnection(deviceID string, connected bool) {
	c.setConnected(deviceID, connected)
	if connected {
		log.Printf("[Coordinator] Device %s connected", deviceID)
		return
	}

	log.Printf("[Coordinator] Device %s disconnected", deviceID)
	for t, rw := range c.running {
		if t.deviceID == deviceID {
			rw.w.Cancel("device disconnected")
		}
	}
	c.dropQueued(func(t target) bool { return t.deviceID == deviceID }, "device disconnected")
}

func (c *Coordinator) setConnected(deviceID string, connected bool) {
	if _, known := c.connected[deviceID]; !known {
		c.deviceOrder = append(c.deviceOrder, deviceID)
	}
	c.connected[deviceID] = connected
}

// isConnected treats devices never reported as connected.
func (c *Coordinator) isConnected(deviceID string) bool {
	connected, known := c.connected[deviceID]
	return !known || connected
}

func (c *Coordinator) connectedDevices() []string {
	var devices []string
	for _, d := range c.deviceOrder {
		if c.connected[d] {
			devices = append(devices, d)
		}
	}
	return devices
}

func (c *Coordinator) handleCancelIssue(issueID string) error {
	is, ok := c.issues[issueID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownIssue, issueID)
	}
	if is.completed {
		return nil
	}

	is.cancelled = true
	log.Printf("[Coordinator] Cancelling issue %s", issueID)
	for t, rw := range c.running {
		if t.issueID == issueID {
			rw.w.Cancel("issue cancelled")
		}
	}
	c.dropQueued(func(t target) bool { return t.issueID == issueID }, "issue cancelled")
	return nil
}

func (c *Coordinator) publish(e dump.Event) {
	if err := c.cfg.Bus.Publish(c.bgCtx, e); err != nil {
		log.Printf("[Coordinator] [WARN] Failed to publish %s: %v", e.Kind(), err)
	}
}

func (c *Coordinator) refreshStats() {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	c.stats = Stats{
		Running:     len(c.running),
		Queued:      len(c.queue),
		PeakRunning: c.peakRunning,
		Issues:      len(c.issues),
	}
}

func (c *Coordinator) storeSnapshot(is *issue) {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	c.snapshots[is.manifest.IssueID] = is.manifest.Clone()
}

// persist writes an issue's manifest. A write that fails after retries marks
// the issue stale: its file is left as last written and later changes are kept
// in memory only.
func (c *Coordinator) persist(is *issue) {
	if is.stale {
		is.manifest.UpdatedAt = c.cfg.Now()
		c.storeSnapshot(is)
		log.Printf("[Coordinator] [WARN] Not writing stale manifest for issue %s", is.manifest.IssueID)
		return
	}

	if err := c.write(is); err != nil {
		is.stale = true
		log.Printf("[Coordinator] [ERROR] Manifest for issue %s is stale, further updates will not be persisted: %v",
			is.manifest.IssueID, err)
	}
}

// write stamps and persists an issue's manifest, then publishes it as the
// snapshot and mirrors it. A failed write leaves the snapshot as last persisted.
func (c *Coordinator) write(is *issue) error {
	is.manifest.UpdatedAt = c.cfg.Now()

	if err := c.cfg.Store.Write(c.bgCtx, is.path, is.manifest); err != nil {
		c.cfg.Metrics.ManifestWriteFailed(c.bgCtx)
		return err
	}
	c.storeSnapshot(is)

	if c.cfg.Mirror != nil {
		if err := c.cfg.Mirror.WriteSnapshot(c.bgCtx, is.manifest); err != nil {
			log.Printf("[Coordinator] [WARN] Failed to mirror manifest for issue %s: %v", is.manifest.IssueID, err)
		}
	}
	return nil
}

// logEvent logs a structured event in JSON format.
func (c *Coordinator) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "coordinator"
	data["event_type"] = eventType
	data["instance"] = c.cfg.InstanceName

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Coordinator] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
