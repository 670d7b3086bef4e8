// Package ratelimit implements the advisory fixed-window request limiter.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Counter counts hits per key in the window containing now.
type Counter interface {
	Increment(ctx context.Context, key string, now time.Time) (int, error)
}

type bucket struct {
	start time.Time
	count int
}

// FixedWindow is an in-memory Counter. Counts reset when the process restarts.
type FixedWindow struct {
	window time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewFixedWindow creates a FixedWindow counter with the given window length.
func NewFixedWindow(window time.Duration) *FixedWindow {
	if window <= 0 {
		window = time.Minute
	}
	return &FixedWindow{window: window, buckets: make(map[string]*bucket)}
}

func (f *FixedWindow) Increment(_ context.Context, key string, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.buckets[key]
	if !ok || !now.Before(b.start.Add(f.window)) {
		b = &bucket{start: now}
		f.buckets[key] = b
	}
	b.count++
	return b.count, nil
}

// Sweep drops windows that ended before now and returns how many were dropped.
func (f *FixedWindow) Sweep(now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for key, b := range f.buckets {
		if !now.Before(b.start.Add(f.window)) {
			delete(f.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (f *FixedWindow) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buckets)
}
