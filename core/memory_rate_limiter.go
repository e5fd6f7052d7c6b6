package core

import (
	"context"
	"sync"
	"time"
)

type MemoryRateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
	now     func() time.Time
}

type clientWindow struct {
	count     int
	windowEnd time.Time
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		clients: make(map[string]*clientWindow),
		now:     time.Now,
	}
}

func (r *MemoryRateLimiter) CheckAndIncrement(_ context.Context, client string, limit int, window time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cw, exists := r.clients[client]

	if !exists || now.After(cw.windowEnd) {
		r.clients[client] = &clientWindow{
			count:     1,
			windowEnd: now.Add(window),
		}
		r.evict(now)
		return nil
	}

	if cw.count >= limit {
		return ErrRateLimitExceeded
	}

	cw.count++
	return nil
}

// evict drops closed windows so the map doesn't grow with every address seen.
func (r *MemoryRateLimiter) evict(now time.Time) {
	for client, cw := range r.clients {
		if now.After(cw.windowEnd) {
			delete(r.clients, client)
		}
	}
}
