package dump

import (
	"context"
	"sync"
)

// Bus is the publish/subscribe transport between the coordinator, its workers
// and observers such as the UI. Delivery is asynchronous: subscribers must not
// assume an event is handled on the publishing goroutine.
type Bus interface {
	// Publish delivers e to every subscriber of e.Channel().
	Publish(ctx context.Context, e Event) error

	// Subscribe returns a subscription to the given channels. With no channels
	// the subscription receives every channel.
	Subscribe(ctx context.Context, channels ...Channel) (*Subscription, error)
}

// Subscription is an active subscription to one or more bus channels.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan Event
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of decoded events.
// The channel is closed when the subscription is closed or its context ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Errors returns non-fatal subscription errors such as undecodable messages.
// The subscription continues after errors; the offending message is skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

func wantsChannel(channels []Channel, ch Channel) bool {
	if len(channels) == 0 {
		return true
	}
	for _, c := range channels {
		if c == ch {
			return true
		}
	}
	return false
}
