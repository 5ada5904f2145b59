// Package ratelimit throttles inbound requests per caller over a sliding
// window. Window keeps the log in process; RedisLimiter shares it between
// replicas.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultRequests = 120
	DefaultWindow   = time.Minute
)

// Limit is the number of requests a key may make within Window.
type Limit struct {
	Requests int
	Window   time.Duration
}

func (l Limit) withDefaults() Limit {
	if l.Requests <= 0 {
		l.Requests = DefaultRequests
	}
	if l.Window <= 0 {
		l.Window = DefaultWindow
	}
	return l
}

// Limiter decides whether one more request for key fits in the window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Window is an in-process sliding-window Limiter.
type Window struct {
	limit Limit
	now   func() time.Time

	mu        sync.Mutex
	hits      map[string][]time.Time
	lastSweep time.Time
}

// NewWindow returns a Window enforcing limit. Zero fields select the defaults.
func NewWindow(limit Limit) *Window {
	return &Window{
		limit: limit.withDefaults(),
		now:   time.Now,
		hits:  make(map[string][]time.Time),
	}
}

func (w *Window) Allow(_ context.Context, key string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-w.limit.Window)
	if now.Sub(w.lastSweep) >= w.limit.Window {
		w.sweep(cutoff)
		w.lastSweep = now
	}

	hits := trim(w.hits[key], cutoff)
	if len(hits) >= w.limit.Requests {
		w.hits[key] = hits
		return false, nil
	}
	w.hits[key] = append(hits, now)
	return true, nil
}

// sweep drops keys whose every hit has aged out, so one-off callers do not
// accumulate.
func (w *Window) sweep(cutoff time.Time) {
	for key, hits := range w.hits {
		if len(trim(hits, cutoff)) == 0 {
			delete(w.hits, key)
		}
	}
}

// trim drops hits at or before cutoff. hits is ordered oldest first.
func trim(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}
