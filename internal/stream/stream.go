// Package stream fans activity events out to live subscribers (SSE clients).
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"guildhall.org/internal/activity"
)

const bufferSize = 16

type subscriber struct {
	ch    chan activity.Event
	orgID string // empty means all organizations
}

// Stream fan-outs activity events to all active subscribers.
type Stream struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	dropped atomic.Uint64
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events of orgID, or of every organization when orgID is empty. The channel
// is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context, orgID string) <-chan activity.Event {
	ch := make(chan activity.Event, bufferSize)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{ch: ch, orgID: orgID}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all matching subscribers.
func (s *Stream) Publish(evt activity.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.orgID != "" && sub.orgID != evt.OrganizationID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
			s.dropped.Add(1)
		}
	}
}

// Notify implements activity.Notifier.
func (s *Stream) Notify(_ context.Context, evt activity.Event) error {
	s.Publish(evt)
	return nil
}

// Subscribers returns the number of active subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }
