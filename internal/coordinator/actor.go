package coordinator

import (
	"log"
	"time"

	"github.com/dyluth/burrow/internal/manifest"
	"github.com/dyluth/burrow/internal/worker"
	"github.com/dyluth/burrow/pkg/dump"
)

// message is sent to the Run goroutine. The set is closed.
type message interface {
	isMessage()
}

type requestReply struct {
	issueID string
	err     error
}

type requestMsg struct {
	req   Request
	reply chan<- requestReply
}

type terminalMsg struct {
	outcome worker.Outcome
}

type cancelIssueMsg struct {
	issueID string
	reply   chan<- error
}

type uploadSource int

const (
	sourceHeadless uploadSource = iota
	sourceDialog
)

type uploadResultMsg struct {
	issueID string
	source  uploadSource
	result  dump.UploadResult
}

type recoverMsg struct {
	entries []manifest.Entry
	reply   chan<- int
}

func (requestMsg) isMessage()      {}
func (terminalMsg) isMessage()     {}
func (cancelIssueMsg) isMessage()  {}
func (uploadResultMsg) isMessage() {}
func (recoverMsg) isMessage()      {}

func (c *Coordinator) handle(msg message) {
	switch m := msg.(type) {
	case requestMsg:
		issueID, err := c.handleRequest(m.req)
		m.reply <- requestReply{issueID: issueID, err: err}
	case terminalMsg:
		c.handleTerminal(m.outcome)
	case cancelIssueMsg:
		m.reply <- c.handleCancelIssue(m.issueID)
	case uploadResultMsg:
		c.handleUploadResult(m)
	case recoverMsg:
		m.reply <- c.handleRecover(m.entries)
	}
}

// workerReporter forwards worker updates: progress straight to the bus,
// terminal outcomes into the coordinator's inbox.
type workerReporter struct {
	c *Coordinator
}

func (r workerReporter) Progress(p worker.Progress) {
	r.c.publish(dump.DumpProgress{
		IssueID:  p.IssueID,
		DeviceID: p.DeviceID,
		Stage:    p.Stage,
		Progress: p.Percent,
		Message:  p.Message,
	})
}

func (r workerReporter) Terminal(o worker.Outcome) {
	r.c.post(terminalMsg{outcome: o})
}

// shutdown runs on the Run goroutine once its context is done.
func (c *Coordinator) shutdown() {
	c.shuttingDown = true
	log.Printf("[Coordinator] Shutting down (%d running, %d queued)", len(c.running), len(c.queue))

	c.dropQueued(func(target) bool { return true }, "coordinator shutting down")
	for _, rw := range c.running {
		rw.w.Cancel("coordinator shutting down")
	}

	grace := time.NewTimer(c.cfg.ShutdownGrace)
	defer grace.Stop()

	for len(c.running) > 0 {
		select {
		case msg := <-c.inbox:
			c.handleDuringShutdown(msg)
		case <-grace.C:
			log.Printf("[Coordinator] [WARN] %d worker(s) did not stop within %s", len(c.running), c.cfg.ShutdownGrace)
			c.abandonRunning()
		}
		c.refreshStats()
	}

	// Results that arrived while workers were stopping are already on disk;
	// this last pass catches anything recorded only in memory.
	for _, is := range c.issues {
		if !is.stale {
			c.persist(is)
		}
	}
	c.refreshStats()
	log.Printf("[Coordinator] Shutdown complete")
}

func (c *Coordinator) handleDuringShutdown(msg message) {
	switch m := msg.(type) {
	case requestMsg:
		m.reply <- requestReply{err: ErrNotRunning}
	case cancelIssueMsg:
		m.reply <- ErrNotRunning
	case recoverMsg:
		m.reply <- 0
	default:
		c.handle(msg)
	}
}

// abandonRunning records cancelled outcomes for workers that ignored
// cancellation. Their late terminal reports are discarded.
func (c *Coordinator) abandonRunning() {
	now := c.cfg.Now()
	for t, rw := range c.running {
		delete(c.running, t)
		c.cfg.Metrics.WorkerFinished(c.bgCtx, string(dump.StateCancelled), now.Sub(rw.startedAt))
		c.applyResult(t.issueID, dump.DeviceResult{
			DeviceID:     t.deviceID,
			State:        dump.StateCancelled,
			Success:      dump.Bool(false),
			ErrorMessage: "coordinator shut down before the device finished",
			DumpPath:     c.issues[t.issueID].manifest.Results[t.deviceID].DumpPath,
			StartedAt:    &rw.startedAt,
			CompletedAt:  &now,
		})
	}
}
