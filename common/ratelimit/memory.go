package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	windowStart time.Time
	window      time.Duration
	count       int64
}

// MemoryStore is the in-process fixed-window store, the default when no
// Redis is configured. A janitor drops lapsed buckets.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
	stop    chan struct{}
}

// NewMemoryStore creates a memory store and starts its janitor.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		buckets: make(map[string]*bucket),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

// Allow implements Store.
func (s *MemoryStore) Allow(ctx context.Context, key string, window time.Duration, max int64) (*Decision, error) {
	if window <= 0 {
		window = time.Minute
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok || now.Sub(b.windowStart) >= b.window {
		b = &bucket{windowStart: now, window: window}
		s.buckets[key] = b
	}

	d := &Decision{Limit: max}
	if b.count < max {
		b.count++
		d.Allowed = true
		d.Current = b.count
		return d, nil
	}
	d.Current = b.count
	d.RetryAfter = b.windowStart.Add(b.window).Sub(now).Milliseconds()
	if d.RetryAfter < 0 {
		d.RetryAfter = 0
	}
	return d, nil
}

// Current implements Store.
func (s *MemoryStore) Current(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[key]
	if !ok || s.now().Sub(b.windowStart) >= b.window {
		return 0, nil
	}
	return b.count, nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

// Close stops the janitor.
func (s *MemoryStore) Close() {
	close(s.stop)
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			now := s.now()
			s.mu.Lock()
			for k, b := range s.buckets {
				if now.Sub(b.windowStart) >= b.window {
					delete(s.buckets, k)
				}
			}
			s.mu.Unlock()
		}
	}
}
