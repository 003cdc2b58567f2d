//go:build integration

package coordinator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dyluth/burrow/internal/pathstrategy"
	"github.com/dyluth/burrow/internal/worker"
	"github.com/dyluth/burrow/pkg/dump"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container for testing.
func setupRedis(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisURL := fmt.Sprintf("redis://%s:%s", host, port.Port())

	cleanup := func() {
		if err := redisC.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	}

	return redisURL, cleanup
}

func newRedisClient(t *testing.T, redisURL, instance string) *dump.Client {
	t.Helper()
	opts, err := redis.ParseURL(redisURL)
	require.NoError(t, err)
	client, err := dump.NewClient(opts, instance)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

// TestCoordinatorOverRedis drives a request published by a separate client
// through a coordinator serving the same instance.
func TestCoordinatorOverRedis(t *testing.T) {
	redisURL, cleanup := setupRedis(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	instance := "it-" + uuid.NewString()[:8]
	server := newRedisClient(t, redisURL, instance)
	requester := newRedisClient(t, redisURL, instance)

	strategy, err := pathstrategy.New(pathstrategy.Unified, pathstrategy.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	gateway := &fakeGateway{}
	coord, err := New(Config{
		InstanceName:    instance,
		Bus:             server,
		Mirror:          server,
		Transport:       newScriptTransport(),
		Store:           newMemStore(),
		Strategy:        strategy,
		Gateway:         gateway,
		HeadlessTimeout: 5 * time.Second,
		ShutdownGrace:   time.Second,
		Commands:        []worker.Command{{Name: "bugreport", Argv: []string{"bugreport"}}},
	})
	require.NoError(t, err)

	runCtx, stop := context.WithCancel(ctx)
	defer func() {
		stop()
		<-coord.Done()
	}()
	go func() { _ = coord.Run(runCtx) }()
	<-coord.Ready()

	sub, err := requester.Subscribe(ctx, dump.ChannelCompletion)
	require.NoError(t, err)
	defer sub.Close()

	requestID := uuid.NewString()
	require.NoError(t, requester.Publish(ctx, dump.DumpRequested{
		RequestID:        requestID,
		TriggeredBy:      dump.TriggerTestFailed,
		RequestedDevices: []string{"dev1", "dev2"},
	}))

	var issueID string
	for issueID == "" || len(gateway.calls()) == 0 {
		select {
		case e := <-sub.Events():
			switch ev := e.(type) {
			case dump.AllDumpsCompleted:
				if ev.RequestID == requestID {
					issueID = ev.IssueID
					assert.Equal(t, 2, ev.Summary.SuccessCount)
				}
			case dump.UploadCompleted:
				if ev.IssueID == issueID {
					assert.True(t, ev.Success)
				}
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for the issue to complete")
		}
	}

	require.Eventually(t, func() bool {
		m, err := requester.GetSnapshot(ctx, issueID)
		return err == nil && m.UploadResult != nil
	}, 10*time.Second, 50*time.Millisecond)

	m, err := requester.GetSnapshot(ctx, issueID)
	require.NoError(t, err)
	assert.Equal(t, requestID, m.RequestID)
	assert.True(t, m.UploadResult.Success)

	ids, err := requester.ListIssues(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, issueID)
}
