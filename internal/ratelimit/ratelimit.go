// Package ratelimit implements a sliding-window rate limiter with
// escalating blocks, keyed by an opaque identifier (normally a bare JID).
package ratelimit

import (
	"sync"
	"time"
)

// Config contains limiter settings.
type Config struct {
	// Window is the sliding window length.
	Window time.Duration

	// MaxPerWindow is the number of requests admitted per window.
	MaxPerWindow int

	// MaxViolations is the number of rejections before the identifier
	// is blocked outright.
	MaxViolations int

	// BlockDuration is how long a blocked identifier stays blocked.
	BlockDuration time.Duration
}

type entry struct {
	timestamps   []time.Time
	violations   int
	blockedUntil time.Time
}

// Limiter is a sliding-window rate limiter. It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*entry

	// now is swappable for tests.
	now func() time.Time
}

// New creates a limiter with the given configuration.
func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	if cfg.MaxPerWindow <= 0 {
		cfg.MaxPerWindow = 10
	}
	if cfg.MaxViolations <= 0 {
		cfg.MaxViolations = 3
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = 5 * time.Minute
	}
	return &Limiter{
		cfg:     cfg,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Allow reports whether a request from id is admitted. A blocked id is
// rejected without touching its window; the block clears on its own when
// the cool-down elapses.
func (l *Limiter) Allow(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	e := l.entries[id]
	if e == nil {
		e = &entry{}
		l.entries[id] = e
	}

	if !e.blockedUntil.IsZero() {
		if now.Before(e.blockedUntil) {
			return false
		}
		// Cool-down elapsed, start fresh.
		*e = entry{}
	}

	// Purge timestamps outside the window before every admission check.
	cutoff := now.Add(-l.cfg.Window)
	kept := e.timestamps[:0]
	for _, ts := range e.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	e.timestamps = kept

	if len(e.timestamps) < l.cfg.MaxPerWindow {
		e.timestamps = append(e.timestamps, now)
		return true
	}

	e.violations++
	if e.violations >= l.cfg.MaxViolations {
		e.blockedUntil = now.Add(l.cfg.BlockDuration)
	}
	return false
}

// Blocked reports whether id is currently blocked.
func (l *Limiter) Blocked(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entries[id]
	if e == nil || e.blockedUntil.IsZero() {
		return false
	}
	return l.now().Before(e.blockedUntil)
}

// Unblock clears any block and violation history for id.
func (l *Limiter) Unblock(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, id)
}
