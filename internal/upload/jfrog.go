package upload

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// JFrogGateway uploads through the JFrog CLI, one `jf rt upload` per file.
type JFrogGateway struct {
	CLI         string        // CLI binary, default "jf"
	ServerID    string        // Optional --server-id
	Repository  string        // Target repository
	PlatformURL string        // Base URL used to build reference links
	Timeout     time.Duration // Per-file timeout
	Run         Runner        // Defaults to running the CLI
}

var _ Gateway = (*JFrogGateway)(nil)

// Upload sends every file under the request paths. Any failed file fails the
// whole upload; files already sent stay in place.
func (g *JFrogGateway) Upload(ctx context.Context, req Request) (Result, error) {
	if g.Repository == "" {
		return Result{}, fmt.Errorf("%w: no repository configured", ErrGateway)
	}

	files, err := collectFiles(req.Root, req.Paths)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	target := strings.Trim(req.TargetPath, "/")
	uploaded := 0
	for _, rel := range files {
		if err := g.uploadFile(ctx, filepath.Join(req.Root, rel), path.Join(g.Repository, target, filepath.ToSlash(rel))); err != nil {
			return Result{}, fmt.Errorf("%w: uploaded %d of %d files: %v", ErrGateway, uploaded, len(files), err)
		}
		uploaded++
	}

	log.Printf("[Upload] Uploaded %d files for issue %s to %s/%s", uploaded, req.IssueID, g.Repository, target)
	return Result{
		Message: fmt.Sprintf("uploaded %d files to %s/%s", uploaded, g.Repository, target),
		Files:   uploaded,
		Links:   g.links(target),
	}, nil
}

func (g *JFrogGateway) uploadFile(ctx context.Context, local, remote string) error {
	cli := g.CLI
	if cli == "" {
		cli = "jf"
	}
	run := g.Run
	if run == nil {
		run = execRunner
	}

	fileCtx := ctx
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		fileCtx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	args := []string{"rt", "upload", "--flat=true"}
	if g.ServerID != "" {
		args = append(args, "--server-id="+g.ServerID)
	}
	args = append(args, local, remote)

	out, err := run(fileCtx, cli, args...)
	if err != nil {
		return fmt.Errorf("%s: %w (%s)", filepath.Base(local), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (g *JFrogGateway) links(target string) map[string]string {
	if g.PlatformURL == "" {
		return nil
	}
	base := strings.TrimRight(g.PlatformURL, "/")
	return map[string]string{
		"repository": fmt.Sprintf("%s/ui/repos/tree/General/%s/%s", base, g.Repository, target),
		"upload":     fmt.Sprintf("%s/artifactory/%s/%s/", base, g.Repository, target),
	}
}

// collectFiles lists regular files under root (restricted to paths when
// given), relative to root and sorted by walk order.
func collectFiles(root string, paths []string) ([]string, error) {
	if len(paths) == 0 {
		paths = []string{"."}
	}

	var files []string
	for _, p := range paths {
		start := filepath.Join(root, p)
		err := filepath.WalkDir(start, func(full string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(root, full)
			if err != nil {
				return err
			}
			files = append(files, rel)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to collect files under %s: %w", start, err)
		}
	}

	if len(files) == 0 {
		if _, err := os.Stat(root); err != nil {
			return nil, fmt.Errorf("upload root unavailable: %w", err)
		}
	}
	return files, nil
}
