// Package ratelimit provides fixed-window counters used to detect SMS send abuse.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter counts events per key in a fixed window.
type Limiter interface {
	// Allow increments the counter for key and reports whether it is still within limit
	// for the current window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is an in-process Limiter for single-instance deployments and tests.
type MemoryLimiter struct {
	mu   sync.Mutex
	m    map[string]*window
	nowF func() time.Time
}

// NewMemoryLimiter returns an empty MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{m: make(map[string]*window), nowF: time.Now}
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(ctx context.Context, key string, limit int, win time.Duration) (bool, error) {
	now := l.nowF()
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.m[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(win)}
		l.m[key] = w
	}
	w.count++
	return w.count <= limit, nil
}
