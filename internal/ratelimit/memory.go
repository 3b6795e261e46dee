package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sliding windows in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type clientWindow struct {
	timestamps []time.Time
	window     time.Duration
}

// NewMemoryStore creates a MemoryStore and starts its cleanup loop.
// Call Close to stop it.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		clients: make(map[string]*clientWindow),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go s.cleanupLoop(5 * time.Minute)
	return s
}

func (s *MemoryStore) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	cw, ok := s.clients[key]
	if !ok {
		cw = &clientWindow{}
		s.clients[key] = cw
	}
	cw.window = window
	cw.prune(now.Add(-window))

	if len(cw.timestamps) >= limit {
		oldest := cw.timestamps[0]
		return Decision{Allowed: false, RetryAfter: oldest.Add(window).Sub(now)}, nil
	}
	cw.timestamps = append(cw.timestamps, now)
	return Decision{Allowed: true, Remaining: limit - len(cw.timestamps)}, nil
}

// prune drops timestamps at or before windowStart, in place.
func (cw *clientWindow) prune(windowStart time.Time) {
	valid := cw.timestamps[:0]
	for _, ts := range cw.timestamps {
		if ts.After(windowStart) {
			valid = append(valid, ts)
		}
	}
	cw.timestamps = valid
}

// cleanupLoop periodically removes idle keys.
func (s *MemoryStore) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *MemoryStore) cleanup() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, cw := range s.clients {
		cw.prune(now.Add(-cw.window))
		if len(cw.timestamps) == 0 {
			delete(s.clients, key)
		}
	}
}

// Close stops the cleanup loop.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}
