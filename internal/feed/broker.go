package feed

import (
	"context"
	"errors"
	"sync"
)

// subscriberBuffer bounds the events queued per subscription. Events carry no
// payload, so dropping one while others are still queued loses nothing.
const subscriberBuffer = 16

var ErrBrokerClosed = errors.New("feed broker closed")

// Broker is an in-process Publisher and Subscriber.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[*brokerSub]struct{}
	closed bool
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[*brokerSub]struct{})}
}

func (b *Broker) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBrokerClosed
	}
	for s := range b.subs[ChannelName(e.UserID)] {
		s.deliver(e)
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, userID string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &brokerSub{
		broker:  b,
		channel: ChannelName(userID),
		ch:      make(chan Event, subscriberBuffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}
	set, ok := b.subs[s.channel]
	if !ok {
		set = make(map[*brokerSub]struct{})
		b.subs[s.channel] = set
	}
	set[s] = struct{}{}
	return s, nil
}

// Subscribers returns the number of open subscriptions for userID.
func (b *Broker) Subscribers(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[ChannelName(userID)])
}

// Close ends every open subscription.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*brokerSub
	for _, set := range b.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	b.subs = make(map[string]map[*brokerSub]struct{})
	b.mu.Unlock()

	for _, s := range all {
		s.close()
	}
	return nil
}

func (b *Broker) remove(s *brokerSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[s.channel]
	delete(set, s)
	if len(set) == 0 {
		delete(b.subs, s.channel)
	}
}

type brokerSub struct {
	broker  *Broker
	channel string

	mu     sync.Mutex
	ch     chan Event
	closed bool
	once   sync.Once
}

func (s *brokerSub) Events() <-chan Event { return s.ch }

func (s *brokerSub) Unsubscribe() error {
	s.once.Do(func() {
		s.broker.remove(s)
		s.close()
	})
	return nil
}

func (s *brokerSub) deliver(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
	}
}

func (s *brokerSub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
