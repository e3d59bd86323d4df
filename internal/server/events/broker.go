package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Broker manages event distribution to multiple subscribers.
// Events are delivered to subscribers in publish order.
type Broker struct {
	subscribers []Subscriber
	events      chan Event
	mu          sync.RWMutex
	logger      *zerolog.Logger
	dropped     func()
}

// NewBroker creates a new event broker.
func NewBroker(logger *zerolog.Logger) *Broker {
	return &Broker{
		subscribers: make([]Subscriber, 0),
		events:      make(chan Event, 1024),
		logger:      logger,
	}
}

// OnDrop registers fn to be called when an event is dropped.
func (b *Broker) OnDrop(fn func()) {
	b.dropped = fn
}

// Run starts the broker's event loop. Should be called in a goroutine.
// The broker will run until the context is cancelled.
func (b *Broker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			for _, sub := range b.subscribers {
				_ = sub.Close()
			}
			b.subscribers = nil
			b.mu.Unlock()
			b.logger.Info().Msg("Event broker shut down")
			return

		case event := <-b.events:
			b.dispatch(event)
		}
	}
}

func (b *Broker) dispatch(event Event) {
	b.mu.RLock()
	subs := make([]Subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.Send(event); err != nil {
			b.logger.Warn().
				Err(err).
				Str("channel", event.Channel).
				Msg("Failed to send event to subscriber")
		}
	}

	b.logger.Debug().
		Str("channel", event.Channel).
		Str("type", string(event.Notification.Type)).
		Str("uid", event.Notification.UID).
		Int("subscribers", len(subs)).
		Msg("Event broadcasted")
}

// Publish queues an event for all subscribers.
func (b *Broker) Publish(event Event) {
	select {
	case b.events <- event:
	default:
		if b.dropped != nil {
			b.dropped()
		}
		b.logger.Warn().
			Str("channel", event.Channel).
			Str("uid", event.Notification.UID).
			Msg("Event channel full, event dropped")
	}
}

// Subscribe registers a new subscriber to receive events.
func (b *Broker) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, sub)
	b.logger.Debug().
		Str("subscriber", fmt.Sprintf("%T", sub)).
		Int("total_subscribers", len(b.subscribers)).
		Msg("Subscriber registered")
}

// Unsubscribe removes a subscriber from receiving events.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subscribers {
		if s == sub {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			_ = s.Close()
			return
		}
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
