package dump

import (
	"context"
	"fmt"
	"sync"
)

// LocalBus is an in-process Bus. Publish never blocks: every subscriber owns an
// unbounded FIFO drained by its own goroutine, so a slow subscriber delays only
// itself and a publisher may safely be one of its own subscribers.
type LocalBus struct {
	mu   sync.Mutex
	subs map[*localSub]struct{}
}

type localSub struct {
	channels []Channel
	mu       sync.Mutex
	queue    []Event
	wake     chan struct{}
}

// NewLocalBus creates an empty in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[*localSub]struct{})}
}

// Publish enqueues e for every matching subscriber.
func (b *LocalBus) Publish(ctx context.Context, e Event) error {
	if e == nil {
		return fmt.Errorf("cannot publish nil event")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	targets := make([]*localSub, 0, len(b.subs))
	for s := range b.subs {
		if wantsChannel(s.channels, e.Channel()) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.push(e)
	}
	return nil
}

// Subscribe registers a new subscriber. Events published before Subscribe
// returns are not delivered to it.
func (b *LocalBus) Subscribe(ctx context.Context, channels ...Channel) (*Subscription, error) {
	sub := &localSub{
		channels: append([]Channel(nil), channels...),
		wake:     make(chan struct{}, 1),
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	eventsChan := make(chan Event, 16)
	errorsChan := make(chan error)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
		}()

		for {
			next, ok := sub.pop()
			if !ok {
				select {
				case <-subCtx.Done():
					return
				case <-sub.wake:
					continue
				}
			}

			select {
			case eventsChan <- next:
			case <-subCtx.Done():
				return
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

func (s *localSub) push(e Event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *localSub) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	e := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return e, true
}
