package dump

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Client provides instance-scoped Redis operations for burrow: it implements
// Bus over Redis Pub/Sub and mirrors manifest snapshots for remote readers.
// The client is safe for concurrent use.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

var _ Bus = (*Client)(nil)

// NewClient creates a new client for the specified instance.
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Publish encodes e and publishes it on its channel.
func (c *Client) Publish(ctx context.Context, e Event) error {
	if e == nil {
		return fmt.Errorf("cannot publish nil event")
	}

	data, err := Encode(e)
	if err != nil {
		return err
	}

	channel := EventsChannel(c.instanceName, e.Channel())
	if err := c.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", e.Kind(), err)
	}

	return nil
}

// Subscribe subscribes to the given channels (all channels if none given).
// The subscription is confirmed by Redis before Subscribe returns, so events
// published afterwards are delivered.
//
// Redis Pub/Sub is at-most-once: a subscriber that is not connected when an
// event is published never sees it.
func (c *Client) Subscribe(ctx context.Context, channels ...Channel) (*Subscription, error) {
	if len(channels) == 0 {
		channels = AllChannels
	}

	names := make([]string, len(channels))
	for i, ch := range channels {
		names[i] = EventsChannel(c.instanceName, ch)
	}

	pubsub := c.rdb.Subscribe(ctx, names...)
	for range names {
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			return nil, fmt.Errorf("failed to subscribe to events: %w", err)
		}
	}

	eventsChan := make(chan Event, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				e, err := Decode([]byte(msg.Payload))
				if err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to decode event on %s: %w", msg.Channel, err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- e:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// WriteSnapshot mirrors a manifest to Redis and indexes its issue id.
// The snapshot is a read-only copy; the manifest file stays authoritative.
func (c *Client) WriteSnapshot(ctx context.Context, m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest snapshot: %w", err)
	}

	key := IssueKey(c.instanceName, m.IssueID)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"manifest":      string(data),
		"updated_at_ms": strconv.FormatInt(m.UpdatedAt.UnixMilli(), 10),
	})
	pipe.ZAdd(ctx, IssueIndexKey(c.instanceName), redis.Z{
		Score:  float64(m.CreatedAt.UnixMilli()),
		Member: m.IssueID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write manifest snapshot: %w", err)
	}

	return nil
}

// GetSnapshot retrieves the mirrored manifest of an issue.
// Returns (nil, redis.Nil) if no snapshot exists; use IsNotFound to check.
func (c *Client) GetSnapshot(ctx context.Context, issueID string) (*Manifest, error) {
	raw, err := c.rdb.HGet(ctx, IssueKey(c.instanceName, issueID), "manifest").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to read manifest snapshot: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest snapshot: %w", err)
	}
	return &m, nil
}

// ListIssues returns mirrored issue ids, newest first.
func (c *Client) ListIssues(ctx context.Context) ([]string, error) {
	ids, err := c.rdb.ZRevRange(ctx, IssueIndexKey(c.instanceName), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	return ids, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
