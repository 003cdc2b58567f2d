package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/burrow/pkg/dump"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a Reporter that keeps everything it is told.
type recorder struct {
	mu        sync.Mutex
	progress  []Progress
	outcomes  []Outcome
	terminals chan Outcome
}

func newRecorder() *recorder {
	return &recorder{terminals: make(chan Outcome, 10)}
}

func (r *recorder) Progress(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
}

func (r *recorder) Terminal(o Outcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()
	r.terminals <- o
}

func (r *recorder) wait(t *testing.T, within time.Duration) Outcome {
	t.Helper()
	select {
	case o := <-r.terminals:
		return o
	case <-time.After(within):
		t.Fatalf("no terminal outcome within %s", within)
		return Outcome{}
	}
}

func (r *recorder) terminalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outcomes)
}

func (r *recorder) stages() []dump.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stages []dump.State
	for _, p := range r.progress {
		if len(stages) == 0 || stages[len(stages)-1] != p.Stage {
			stages = append(stages, p.Stage)
		}
	}
	return stages
}

// fakeTransport scripts per-command behaviour.
type fakeTransport struct {
	mu         sync.Mutex
	dispatched []string

	dispatchErr error
	replyErr    error
	hang        bool   // never reply, ignore ctx
	writeFile   string // artifact written into cmd.Dir on dispatch
	content     string
	replies     []chan Reply
}

func (f *fakeTransport) Dispatch(ctx context.Context, deviceID string, c Command) (<-chan Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dispatchErr != nil {
		return nil, f.dispatchErr
	}
	f.dispatched = append(f.dispatched, c.Name)

	if f.writeFile != "" {
		if err := os.WriteFile(filepath.Join(c.Dir, f.writeFile), []byte(f.content), 0o644); err != nil {
			return nil, err
		}
	}

	ch := make(chan Reply, 1)
	f.replies = append(f.replies, ch)
	if !f.hang {
		ch <- Reply{Err: f.replyErr}
	}
	return ch, nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dispatched)
}

func newConfig(t *testing.T) Config {
	return Config{
		IssueID:           "251017-101500",
		DeviceID:          "dev1",
		DumpPath:          t.TempDir(),
		Commands:          []Command{{Name: "coredump", Argv: []string{"coredump.sh"}}},
		ExpectedArtifacts: []string{"*.zip"},
		Timeout:           5 * time.Second,
	}
}

func TestWorkerCompletes(t *testing.T) {
	cfg := newConfig(t)
	cfg.Commands = append(cfg.Commands, Command{Name: "logs", Argv: []string{"pull-logs.sh"}})
	transport := &fakeTransport{writeFile: "dump.zip", content: "core"}
	rec := newRecorder()

	w := New(cfg, transport, rec)
	require.NoError(t, w.Start(context.Background()))

	o := rec.wait(t, 2*time.Second)
	assert.Equal(t, dump.StateCompleted, o.State)
	assert.True(t, o.Success())
	assert.Empty(t, o.ErrorMessage)
	require.Len(t, o.Artifacts, 1)
	assert.Equal(t, "dump.zip", o.Artifacts[0].Name)
	assert.Len(t, o.Artifacts[0].Digest, 64)
	assert.Equal(t, []string{"coredump", "logs"}, transport.dispatched)

	assert.Equal(t, []dump.State{dump.StateStarting, dump.StateExtracting, dump.StateVerifying}, rec.stages())
	assert.Equal(t, dump.StateCompleted, w.State())

	r := o.Result()
	require.NotNil(t, r.Success)
	assert.True(t, *r.Success)
	assert.NotNil(t, r.StartedAt)
	assert.NotNil(t, r.CompletedAt)

	<-w.Done()
	assert.Error(t, w.Start(context.Background()), "terminal workers cannot restart")
}

func TestWorkerErrors(t *testing.T) {
	tests := []struct {
		name      string
		transport *fakeTransport
		contains  string
	}{
		{"dispatch failure", &fakeTransport{dispatchErr: errors.New("device offline")}, "failed to dispatch"},
		{"command failure", &fakeTransport{replyErr: errors.New("exit 3")}, "exit 3"},
		{"missing artifact", &fakeTransport{}, "verification failed"},
		{"empty artifact", &fakeTransport{writeFile: "dump.zip"}, "no non-empty artifact"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecorder()
			w := New(newConfig(t), tt.transport, rec)
			require.NoError(t, w.Start(context.Background()))

			o := rec.wait(t, 2*time.Second)
			assert.Equal(t, dump.StateError, o.State)
			assert.False(t, o.Success())
			assert.Contains(t, o.ErrorMessage, tt.contains)
		})
	}
}

func TestWorkerTimeout(t *testing.T) {
	cfg := newConfig(t)
	cfg.Timeout = 100 * time.Millisecond
	rec := newRecorder()

	w := New(cfg, &fakeTransport{hang: true}, rec)
	start := time.Now()
	require.NoError(t, w.Start(context.Background()))

	o := rec.wait(t, 2*time.Second)
	assert.Equal(t, dump.StateCancelled, o.State)
	assert.Contains(t, o.ErrorMessage, "timed out")
	assert.Less(t, time.Since(start), time.Second)
}

func TestWorkerCancelDuringExtraction(t *testing.T) {
	cfg := newConfig(t)
	cfg.Commands = append(cfg.Commands, Command{Name: "second"})
	transport := &fakeTransport{hang: true}
	rec := newRecorder()

	w := New(cfg, transport, rec)
	require.NoError(t, w.Start(context.Background()))

	require.Eventually(t, func() bool { return w.State() == dump.StateExtracting }, time.Second, 5*time.Millisecond)
	w.Cancel("device disconnected")

	o := rec.wait(t, time.Second)
	assert.Equal(t, dump.StateCancelled, o.State)
	assert.Equal(t, "device disconnected", o.ErrorMessage)

	// A late reply and repeated cancels change nothing.
	transport.mu.Lock()
	transport.replies[0] <- Reply{}
	transport.mu.Unlock()
	w.Cancel("again")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.terminalCount())
	assert.Equal(t, 1, transport.count(), "no commands after cancellation")
	assert.Equal(t, dump.StateCancelled, w.State())
}

func TestWorkerCancelBeforeStart(t *testing.T) {
	rec := newRecorder()
	transport := &fakeTransport{}
	w := New(newConfig(t), transport, rec)

	w.Cancel("coordinator shutting down")
	o := rec.wait(t, time.Second)
	assert.Equal(t, dump.StateCancelled, o.State)
	assert.Equal(t, "coordinator shutting down", o.ErrorMessage)

	assert.Error(t, w.Start(context.Background()))
	assert.Zero(t, transport.count())
}

func TestWorkerParentContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := newRecorder()

	w := New(newConfig(t), &fakeTransport{hang: true}, rec)
	require.NoError(t, w.Start(ctx))
	cancel()

	o := rec.wait(t, time.Second)
	assert.Equal(t, dump.StateCancelled, o.State)
	assert.Equal(t, "cancelled", o.ErrorMessage)
}

func TestWorkerProgressTicks(t *testing.T) {
	cfg := newConfig(t)
	cfg.ProgressInterval = 10 * time.Millisecond
	rec := newRecorder()

	w := New(cfg, &fakeTransport{hang: true}, rec)
	require.NoError(t, w.Start(context.Background()))

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		ticks := 0
		for _, p := range rec.progress {
			if p.Stage == dump.StateExtracting && p.Percent == 10 {
				ticks++
			}
		}
		return ticks >= 3
	}, time.Second, 5*time.Millisecond)

	w.Cancel("done")
	rec.wait(t, time.Second)
}
