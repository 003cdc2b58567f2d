package coordinator

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/dyluth/burrow/internal/manifest"
	"github.com/dyluth/burrow/pkg/dump"
)

const interruptedMessage = "interrupted by coordinator restart"

// Recover loads the manifests under root left by a previous run. Devices
// still pending are recorded as cancelled, the issue's completion is
// announced, and an upload that was owed but never recorded is handed off.
// Issues that had fully finished are only registered. Recover returns the
// number of issues it had to act on.
func (c *Coordinator) Recover(ctx context.Context, root string) (int, error) {
	entries, skipped, err := manifest.LoadAll(root)
	if err != nil {
		return 0, fmt.Errorf("failed to scan manifests under %s: %w", root, err)
	}
	for _, s := range skipped {
		log.Printf("[Coordinator] [WARN] Skipping unreadable manifest: %v", s)
	}

	reply := make(chan int, 1)
	if err := c.send(ctx, recoverMsg{entries: entries, reply: reply}); err != nil {
		return 0, err
	}
	select {
	case n := <-reply:
		return n, nil
	case <-c.done:
		return 0, ErrNotRunning
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *Coordinator) handleRecover(entries []manifest.Entry) int {
	acted := 0
	for _, e := range entries {
		m := e.Manifest
		if _, known := c.issues[m.IssueID]; known {
			continue
		}

		is := &issue{
			manifest: m,
			path:     e.Path,
			grouped:  filepath.Base(e.Path) == manifest.FileName,
			mode:     m.TriggeredBy.Mode(),
		}
		c.issues[m.IssueID] = is

		pending := m.PendingDevices()
		owed := m.UploadEnabled && m.UploadResult == nil

		if len(pending) == 0 {
			is.completed = true
			c.storeSnapshot(is)
			if owed {
				acted++
				log.Printf("[Coordinator] Recovered issue %s with an owed upload", m.IssueID)
				c.handOffUpload(is)
			}
			continue
		}

		acted++
		log.Printf("[Coordinator] Recovering interrupted issue %s (%d device(s) pending)", m.IssueID, len(pending))
		now := c.cfg.Now()
		for _, d := range pending {
			prev := m.Results[d]
			r := dump.DeviceResult{
				DeviceID:     d,
				State:        dump.StateCancelled,
				Success:      dump.Bool(false),
				ErrorMessage: interruptedMessage,
				CompletedAt:  &now,
			}
			if prev != nil {
				r.DumpPath = prev.DumpPath
				r.StartedAt = prev.StartedAt
			}
			m.SetResult(r)
		}
		c.persist(is)

		c.logEvent("issue_recovered", map[string]interface{}{
			"issue_id":  m.IssueID,
			"cancelled": pending,
		})
		c.checkComplete(is)
	}
	return acted
}
