package cache

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/doctorq/backend/internal/domain/providers"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func (i memoryItem) expired(now time.Time) bool {
	return !now.Before(i.expiresAt)
}

// MemoryAdapter implements the CacheProvider interface with a bounded
// in-process LRU. Expired items are dropped lazily on read and by a
// periodic sweep.
type MemoryAdapter struct {
	items         *lru.Cache[string, memoryItem]
	sweepInterval time.Duration
	now           func() time.Time

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewMemoryAdapter creates an in-memory cache holding at most size keys
func NewMemoryAdapter(size int, sweepInterval time.Duration) (*MemoryAdapter, error) {
	items, err := lru.New[string, memoryItem](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	return &MemoryAdapter{
		items:         items,
		sweepInterval: sweepInterval,
		now:           time.Now,
	}, nil
}

// Get retrieves a value from cache
func (a *MemoryAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	item, ok := a.items.Get(key)
	if !ok {
		return nil, providers.ErrCacheMiss
	}
	if item.expired(a.now()) {
		a.items.Remove(key)
		return nil, providers.ErrCacheMiss
	}
	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, nil
}

// Set stores a value in cache with expiration
func (a *MemoryAdapter) Set(ctx context.Context, key string, value []byte, expirationSeconds int) error {
	if expirationSeconds < 1 {
		expirationSeconds = 1
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	a.items.Add(key, memoryItem{
		value:     stored,
		expiresAt: a.now().Add(time.Duration(expirationSeconds) * time.Second),
	})
	return nil
}

// Delete removes a value from cache
func (a *MemoryAdapter) Delete(ctx context.Context, key string) error {
	a.items.Remove(key)
	return nil
}

// Exists checks if a live key exists in cache
func (a *MemoryAdapter) Exists(ctx context.Context, key string) (bool, error) {
	item, ok := a.items.Peek(key)
	if !ok {
		return false, nil
	}
	return !item.expired(a.now()), nil
}

// DeletePattern removes every key matching a glob pattern
func (a *MemoryAdapter) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, fmt.Errorf("invalid cache pattern %q: %w", pattern, err)
	}
	removed := 0
	for _, key := range a.items.Keys() {
		if ok, _ := path.Match(pattern, key); ok {
			if a.items.Remove(key) {
				removed++
			}
		}
	}
	return removed, nil
}

// Len returns the number of stored keys, expired ones included
func (a *MemoryAdapter) Len() int {
	return a.items.Len()
}

// Sweep drops expired items and returns how many were removed
func (a *MemoryAdapter) Sweep() int {
	now := a.now()
	removed := 0
	for _, key := range a.items.Keys() {
		item, ok := a.items.Peek(key)
		if ok && item.expired(now) {
			if a.items.Remove(key) {
				removed++
			}
		}
	}
	return removed
}

// Start runs the periodic sweep until Stop
func (a *MemoryAdapter) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stop != nil {
		return
	}
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	go a.sweepLoop(a.stop, a.done)
}

// Stop halts the sweeper
func (a *MemoryAdapter) Stop() {
	a.mu.Lock()
	stop, done := a.stop, a.done
	a.stop, a.done = nil, nil
	a.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (a *MemoryAdapter) sweepLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(a.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n := a.Sweep(); n > 0 {
				log.Debug().Int("removed", n).Msg("swept expired cache entries")
			}
		}
	}
}
