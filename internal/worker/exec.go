package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// defaultMaxOutput caps the captured output of a single command.
const defaultMaxOutput = 64 * 1024

// ExecTransport runs each command as a local subprocess with the device
// serial exported in the environment, the way device tooling such as adb
// selects its target.
type ExecTransport struct {
	SerialEnv string // Environment variable carrying the device id (default ADB_SERIAL)
	MaxOutput int    // Captured output limit in bytes
}

var _ Transport = (*ExecTransport)(nil)

// Dispatch starts the subprocess. The process is killed when ctx ends.
func (t *ExecTransport) Dispatch(ctx context.Context, deviceID string, c Command) (<-chan Reply, error) {
	if len(c.Argv) == 0 {
		return nil, fmt.Errorf("command %q has no program", c.Name)
	}

	serialEnv := t.SerialEnv
	if serialEnv == "" {
		serialEnv = "ADB_SERIAL"
	}
	limit := t.MaxOutput
	if limit <= 0 {
		limit = defaultMaxOutput
	}

	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), serialEnv+"="+deviceID)
	cmd.Env = append(cmd.Env, c.Env...)

	out := &limitedWriter{w: &bytes.Buffer{}, limit: limit}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %q: %w", c.Name, err)
	}

	replies := make(chan Reply, 1)
	go func() {
		err := cmd.Wait()
		output := out.String()
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && ctx.Err() == nil {
				err = fmt.Errorf("exited with code %d: %s", exitErr.ExitCode(), tail(output, 512))
			}
		}
		replies <- Reply{Output: output, Err: err}
	}()

	return replies, nil
}

// limitedWriter wraps a writer and enforces a size limit.
// Once the limit is reached, further writes are discarded.
type limitedWriter struct {
	mu      sync.Mutex
	w       *bytes.Buffer
	limit   int
	written int
}

var _ io.Writer = (*limitedWriter)(nil)

func (lw *limitedWriter) Write(p []byte) (n int, err error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return len(p), nil
	}

	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
	}

	n, err = lw.w.Write(toWrite)
	lw.written += n
	return len(p), err
}

func (lw *limitedWriter) String() string {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.String()
}

// tail keeps the last maxLen bytes of s, which is where tools print the cause.
func tail(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}
