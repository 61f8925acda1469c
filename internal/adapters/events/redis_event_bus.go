package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/doctorq/backend/internal/domain/entities"
	redisclient "github.com/doctorq/backend/internal/infrastructure/clients/redis"
)

// RedisEventBus implements the EventBus interface using Redis Pub/Sub so
// every API instance sees every clinic's events.
//
// All channels share one Redis connection: a busy clinic has a stream per
// waiting patient, and each SUBSCRIBE is added to the same PubSub.
type RedisEventBus struct {
	client *redisclient.Client

	mu          sync.RWMutex
	pubsub      *redis.PubSub
	subscribers map[string]map[chan *entities.QueueEvent]struct{}
	closed      bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisEventBus creates a new Redis-based event bus
func NewRedisEventBus(client *redisclient.Client) *RedisEventBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisEventBus{
		client:      client,
		subscribers: make(map[string]map[chan *entities.QueueEvent]struct{}),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// Publish publishes an event to every instance subscribed to the channel
func (b *RedisEventBus) Publish(ctx context.Context, channel string, event *entities.QueueEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	receivers, err := b.client.Client().Publish(ctx, channel, data).Result()
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	log.Debug().
		Str("channel", channel).
		Str("event_id", event.ID).
		Str("event", string(event.Name)).
		Int64("instances", receivers).
		Msg("published event")
	return nil
}

// Subscribe registers a local subscriber, adding the channel to the shared
// Redis subscription on first use. The returned channel closes when ctx is
// done or the bus is closed.
func (b *RedisEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.QueueEvent, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		closed := make(chan *entities.QueueEvent)
		close(closed)
		return closed, nil
	}

	if _, listening := b.subscribers[channel]; !listening {
		if err := b.listen(channel); err != nil {
			b.mu.Unlock()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
		}
		b.subscribers[channel] = make(map[chan *entities.QueueEvent]struct{})
	}

	eventChan := make(chan *entities.QueueEvent, subscriberBuffer)
	b.subscribers[channel][eventChan] = struct{}{}
	subscriberCount := len(b.subscribers[channel])
	b.mu.Unlock()

	log.Debug().Str("channel", channel).Int("subscribers", subscriberCount).Msg("subscribed to channel")

	go func() {
		select {
		case <-ctx.Done():
			b.removeSubscriber(channel, eventChan)
		case <-b.done:
		}
	}()

	return eventChan, nil
}

// listen must be called with mu held
func (b *RedisEventBus) listen(channel string) error {
	if b.pubsub == nil {
		b.pubsub = b.client.Client().Subscribe(b.ctx, channel)
		go b.receiveMessages(b.pubsub)
		return nil
	}
	return b.pubsub.Subscribe(b.ctx, channel)
}

// receiveMessages routes every message on the shared connection to the
// local subscribers of its channel
func (b *RedisEventBus) receiveMessages(pubsub *redis.PubSub) {
	ch := pubsub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event entities.QueueEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Warn().Err(err).Str("channel", msg.Channel).Msg("failed to unmarshal event")
				continue
			}

			b.mu.RLock()
			fanOut(msg.Channel, b.subscribers[msg.Channel], &event)
			b.mu.RUnlock()
		}
	}
}

func (b *RedisEventBus) removeSubscriber(channel string, eventChan chan *entities.QueueEvent) {
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
		b.dropChannel(channel)
	}
}

// dropChannel must be called with mu held
func (b *RedisEventBus) dropChannel(channel string) {
	delete(b.subscribers, channel)
	if b.pubsub == nil || b.closed {
		return
	}
	if err := b.pubsub.Unsubscribe(b.ctx, channel); err != nil {
		log.Warn().Err(err).Str("channel", channel).Msg("failed to unsubscribe from channel")
		return
	}
	log.Debug().Str("channel", channel).Msg("unsubscribed from channel")
}

// Unsubscribe closes every local subscriber of a channel
func (b *RedisEventBus) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subscriber := range b.subscribers[channel] {
		close(subscriber)
	}
	b.dropChannel(channel)
	return nil
}

// Close closes the shared subscription and every local subscriber. It is
// safe to call more than once.
func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.cancel()
	close(b.done)

	for channel, subscribers := range b.subscribers {
		for subscriber := range subscribers {
			close(subscriber)
		}
		delete(b.subscribers, channel)
	}
	pubsub := b.pubsub
	b.pubsub = nil
	b.mu.Unlock()

	if pubsub != nil {
		if err := pubsub.Close(); err != nil {
			return fmt.Errorf("failed to close redis subscription: %w", err)
		}
	}

	log.Info().Msg("redis event bus closed")
	return nil
}

// SubscriberCount returns the number of local subscribers on a channel
func (b *RedisEventBus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[channel])
}
