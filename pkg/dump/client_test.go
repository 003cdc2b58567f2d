package dump

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.NotNil(t, client)
		assert.Equal(t, "test-instance", client.instanceName)
		assert.NoError(t, client.Ping(context.Background()))
	})

	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})
}

func TestClientPubSub(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := client.Subscribe(ctx, ChannelCompletion)
	require.NoError(t, err)
	defer sub.Close()

	// Intake events go to a channel this subscriber did not join.
	require.NoError(t, client.Publish(ctx, DumpRequested{TriggeredBy: TriggerManual}))
	require.NoError(t, client.Publish(ctx, UploadCompleted{IssueID: "251017-101500", Success: true, Message: "ok"}))

	select {
	case e := <-sub.Events():
		got, ok := e.(UploadCompleted)
		require.True(t, ok, "expected UploadCompleted, got %T", e)
		assert.Equal(t, "251017-101500", got.IssueID)
		assert.True(t, got.Success)
	case err := <-sub.Errors():
		t.Fatalf("unexpected subscription error: %v", err)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestClientSubscriptionReportsUndecodable(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := client.Subscribe(ctx, ChannelIntake)
	require.NoError(t, err)
	defer sub.Close()

	mr.Publish(EventsChannel("test-instance", ChannelIntake), "garbage")
	require.NoError(t, client.Publish(ctx, DeviceConnectionChanged{DeviceID: "dev1", Connected: false}))

	select {
	case err := <-sub.Errors():
		assert.Contains(t, err.Error(), "failed to decode event")
	case <-ctx.Done():
		t.Fatal("expected decode error")
	}

	select {
	case e := <-sub.Events():
		assert.Equal(t, DeviceConnectionChanged{DeviceID: "dev1"}, e)
	case <-ctx.Done():
		t.Fatal("subscription stopped after bad message")
	}
}

func TestSnapshots(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	_, err := client.GetSnapshot(ctx, "missing")
	assert.True(t, IsNotFound(err))

	created := time.Date(2025, 10, 17, 10, 15, 0, 0, time.UTC)
	for i, id := range []string{"251017-101500", "251017-101600"} {
		m := &Manifest{
			IssueID:     id,
			TriggeredBy: TriggerCrashMonitor,
			Targets:     []string{"dev1"},
			Results:     map[string]*DeviceResult{"dev1": {DeviceID: "dev1", State: StateIdle}},
			CreatedAt:   created.Add(time.Duration(i) * time.Minute),
			UpdatedAt:   created.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, client.WriteSnapshot(ctx, m))
	}

	assert.True(t, mr.Exists("burrow:test-instance:issue:251017-101500"))

	got, err := client.GetSnapshot(ctx, "251017-101500")
	require.NoError(t, err)
	assert.Equal(t, TriggerCrashMonitor, got.TriggeredBy)
	assert.Equal(t, []string{"dev1"}, got.Targets)

	ids, err := client.ListIssues(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"251017-101600", "251017-101500"}, ids)
}

func TestSchema(t *testing.T) {
	assert.Equal(t, "burrow:lab:issue:abc", IssueKey("lab", "abc"))
	assert.Equal(t, "burrow:lab:issues", IssueIndexKey("lab"))
	assert.Equal(t, "burrow:lab:progress_events", EventsChannel("lab", ChannelProgress))
}
