package coordinator

import (
	"log"
	"path"
	"path/filepath"

	"github.com/dyluth/burrow/internal/upload"
	"github.com/dyluth/burrow/pkg/dump"
)

// handOffUpload starts the single upload attempt of a completed issue.
// Dialog issues are handed to the UI with UploadRequested; headless issues
// are uploaded here, one at a time, off the Run goroutine.
func (c *Coordinator) handOffUpload(is *issue) {
	m := is.manifest
	if !m.UploadEnabled || m.UploadResult != nil || is.upload != uploadNone {
		return
	}
	if c.shuttingDown {
		// Left owed; Recover performs it on the next start.
		log.Printf("[Coordinator] Upload of issue %s deferred by shutdown", m.IssueID)
		return
	}
	if is.cancelled {
		c.finishUpload(is, dump.UploadResult{
			Success:   false,
			Message:   "upload skipped: issue cancelled",
			Timestamp: c.cfg.Now(),
		})
		return
	}

	targetPath := path.Join(c.cfg.UploadDirectoryPrefix, m.IssueID)

	if m.ShowDialog {
		is.upload = uploadAwaitingDialog
		c.publish(dump.UploadRequested{
			IssueID:    m.IssueID,
			IssueDir:   m.IssueDir,
			TargetPath: targetPath,
			Targets:    append([]string(nil), m.Targets...),
			ShowDialog: true,
		})
		c.logEvent("upload_requested", map[string]interface{}{
			"issue_id":    m.IssueID,
			"target_path": targetPath,
		})
		return
	}

	if c.cfg.Gateway == nil {
		c.finishUpload(is, dump.UploadResult{
			Success:   false,
			Message:   "no upload gateway configured",
			Timestamp: c.cfg.Now(),
		})
		return
	}

	is.upload = uploadInFlight
	req := upload.Request{
		IssueID:    m.IssueID,
		Root:       m.IssueDir,
		Paths:      uploadPaths(is),
		TargetPath: targetPath,
	}
	log.Printf("[Coordinator] Starting headless upload of issue %s to %s", m.IssueID, targetPath)

	go func() {
		c.uploadMu.Lock()
		res, err := c.cfg.Gateway.Upload(c.uploadCtx, req)
		c.uploadMu.Unlock()

		msg := uploadResultMsg{issueID: req.IssueID, source: sourceHeadless}
		if err != nil {
			msg.result = dump.UploadResult{Success: false, Message: err.Error(), Timestamp: c.cfg.Now()}
		} else {
			msg.result = dump.UploadResult{Success: true, Message: res.Message, Links: res.Links, Timestamp: c.cfg.Now()}
		}
		c.post(msg)
	}()
}

// uploadPaths selects what to upload from the issue directory. A grouped
// issue owns its directory; otherwise the directory is shared and only this
// issue's device directories and manifest are sent.
func uploadPaths(is *issue) []string {
	if is.grouped {
		return nil
	}
	paths := make([]string, 0, len(is.manifest.Targets)+1)
	for _, id := range is.manifest.Targets {
		if rel, err := filepath.Rel(is.manifest.IssueDir, is.manifest.Results[id].DumpPath); err == nil {
			paths = append(paths, rel)
		}
	}
	return append(paths, filepath.Base(is.path))
}

func (c *Coordinator) handleUploadResult(msg uploadResultMsg) {
	is, ok := c.issues[msg.issueID]
	if !ok {
		return
	}

	switch {
	case msg.source == sourceDialog && is.upload != uploadAwaitingDialog:
		// Includes the echo of our own headless UploadCompleted.
		return
	case msg.source == sourceHeadless && is.upload != uploadInFlight:
		log.Printf("[Coordinator] [WARN] Unexpected upload result for issue %s ignored", msg.issueID)
		return
	}

	if msg.source == sourceHeadless {
		c.finishUpload(is, msg.result)
		return
	}
	c.recordUpload(is, msg.result)
}

// finishUpload records a result the coordinator produced itself and
// announces it, so every enabled upload ends in UploadRequested or
// UploadCompleted.
func (c *Coordinator) finishUpload(is *issue, r dump.UploadResult) {
	c.recordUpload(is, r)
	c.publish(dump.UploadCompleted{
		IssueID: is.manifest.IssueID,
		Success: r.Success,
		Message: r.Message,
		Links:   r.Links,
	})
}

func (c *Coordinator) recordUpload(is *issue, r dump.UploadResult) {
	is.upload = uploadDone
	is.manifest.UploadResult = &r
	c.persist(is)

	mode := string(dump.ModeHeadless)
	if is.manifest.ShowDialog {
		mode = string(dump.ModeDialog)
	}
	c.cfg.Metrics.Upload(c.bgCtx, mode, r.Success)

	if r.Success {
		log.Printf("[Coordinator] Upload of issue %s succeeded: %s", is.manifest.IssueID, r.Message)
	} else {
		log.Printf("[Coordinator] [WARN] Upload of issue %s failed: %s", is.manifest.IssueID, r.Message)
	}
	c.logEvent("upload_recorded", map[string]interface{}{
		"issue_id": is.manifest.IssueID,
		"mode":     mode,
		"success":  r.Success,
		"links":    len(r.Links),
	})
}
