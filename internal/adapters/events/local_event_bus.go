package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/doctorq/backend/internal/domain/entities"
	"github.com/doctorq/backend/internal/domain/providers"
)

const subscriberBuffer = 100

var (
	_ providers.EventBus = (*RedisEventBus)(nil)
	_ providers.EventBus = (*LocalEventBus)(nil)
)

// LocalEventBus implements the EventBus interface in process. It serves a
// single API instance or tests.
type LocalEventBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan *entities.QueueEvent]struct{}
	closed      bool
}

// NewLocalEventBus creates a new in-process event bus
func NewLocalEventBus() *LocalEventBus {
	return &LocalEventBus{
		subscribers: make(map[string]map[chan *entities.QueueEvent]struct{}),
	}
}

// Publish delivers the event to every current subscriber of the channel.
// A subscriber whose buffer is full misses the event.
func (b *LocalEventBus) Publish(ctx context.Context, channel string, event *entities.QueueEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	fanOut(channel, b.subscribers[channel], event)
	return nil
}

// Subscribe subscribes to events on a channel until ctx is done
func (b *LocalEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.QueueEvent, error) {
	eventChan := make(chan *entities.QueueEvent, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(eventChan)
		return eventChan, nil
	}
	if b.subscribers[channel] == nil {
		b.subscribers[channel] = make(map[chan *entities.QueueEvent]struct{})
	}
	b.subscribers[channel][eventChan] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.removeSubscriber(channel, eventChan)
	}()

	return eventChan, nil
}

func (b *LocalEventBus) removeSubscriber(channel string, eventChan chan *entities.QueueEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subscribers, exists := b.subscribers[channel]
	if !exists {
		return
	}
	if _, ok := subscribers[eventChan]; !ok {
		return
	}
	delete(subscribers, eventChan)
	close(eventChan)
	if len(subscribers) == 0 {
		delete(b.subscribers, channel)
	}
}

// Unsubscribe closes every subscription on a channel
func (b *LocalEventBus) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for subscriber := range b.subscribers[channel] {
		close(subscriber)
	}
	delete(b.subscribers, channel)
	return nil
}

// Close closes the event bus and all subscriptions
func (b *LocalEventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for channel, subscribers := range b.subscribers {
		for subscriber := range subscribers {
			close(subscriber)
		}
		delete(b.subscribers, channel)
	}
	return nil
}

// SubscriberCount returns the number of live subscriptions on a channel
func (b *LocalEventBus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[channel])
}

// fanOut must be called with the subscriber set read-locked
func fanOut(channel string, subscribers map[chan *entities.QueueEvent]struct{}, event *entities.QueueEvent) {
	for subscriber := range subscribers {
		select {
		case subscriber <- event:
		default:
			log.Warn().Str("channel", channel).Str("event_id", event.ID).Msg("subscriber channel full, skipping event")
		}
	}
}
