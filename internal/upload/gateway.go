// Package upload hands an issue's artifacts to remote artifact storage.
package upload

import (
	"context"
	"errors"
)

// ErrGateway marks a failed upload attempt. Upload failures are recorded,
// never retried automatically.
var ErrGateway = errors.New("upload gateway error")

// Request describes one issue upload.
type Request struct {
	IssueID    string
	Root       string   // Local directory the paths are relative to
	Paths      []string // Files or directories under Root; empty means all of Root
	TargetPath string   // Remote path, {upload_directory_prefix}/{issue_id}
}

// Result is a successful upload.
type Result struct {
	Message string
	Files   int
	Links   map[string]string // "repository" and "upload" reference links
}

// Gateway performs uploads. Implementations may block for a long time and
// must honour ctx.
type Gateway interface {
	Upload(ctx context.Context, req Request) (Result, error)
}
