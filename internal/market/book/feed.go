package book

import (
	"sync"

	"github.com/finsim/marketd/pkg/models"
)

// Feed is a live multicast stream of book events. Subscribers receive every
// event emitted after they subscribe; there is no replay of earlier history.
// Delivery is per-subscriber FIFO and the publish path never blocks on slow
// consumers: each subscription drains its own unbounded queue.
type Feed struct {
	mu   sync.Mutex
	subs []*Subscription
}

// NewFeed creates an empty event feed
func NewFeed() *Feed {
	return &Feed{}
}

// Subscription is one consumer's view of a feed
type Subscription struct {
	feed      *Feed
	mu        sync.Mutex
	queue     []models.Event
	wake      chan struct{}
	out       chan models.Event
	done      chan struct{}
	closeOnce sync.Once
}

// Subscribe registers a new consumer starting from the current point in the
// stream. The caller must eventually call Close to release the subscription.
func (f *Feed) Subscribe() *Subscription {
	s := &Subscription{
		feed: f,
		wake: make(chan struct{}, 1),
		out:  make(chan models.Event),
		done: make(chan struct{}),
	}
	go s.pump()

	f.mu.Lock()
	f.subs = append(f.subs, s)
	f.mu.Unlock()
	return s
}

// remove unregisters the subscription so later publishes no longer visit it.
// A fresh slice is built because Publish iterates a snapshot of the old one.
func (f *Feed) remove(s *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := make([]*Subscription, 0, len(f.subs))
	for _, sub := range f.subs {
		if sub != s {
			subs = append(subs, sub)
		}
	}
	f.subs = subs
}

// Publish delivers an event to every current subscriber
func (f *Feed) Publish(ev models.Event) {
	f.mu.Lock()
	subs := f.subs
	f.mu.Unlock()

	for _, s := range subs {
		s.enqueue(ev)
	}
}

// C returns the channel events are delivered on. The channel is closed when
// the subscription is closed.
func (s *Subscription) C() <-chan models.Event {
	return s.out
}

// Close detaches the subscription from its feed. Events still queued are
// discarded and the feed stops delivering to it.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.feed.remove(s)
	})
}

func (s *Subscription) enqueue(ev models.Event) {
	select {
	case <-s.done:
		return
	default:
	}

	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump moves events from the queue to the out channel, preserving order
func (s *Subscription) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.out <- ev:
			case <-s.done:
				return
			}
		}
	}
}
