package otp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	// RateWindow is the fixed window length.
	RateWindow = 60 * time.Second
	// RateMax is the number of requests allowed per window.
	RateMax = 3
)

// Decision is the outcome of Limiter.Allow
type Decision struct {
	Allowed   bool
	Count     int
	Remaining int
	ResetAt   time.Time
	ResetIn   time.Duration
}

// ResetInSeconds rounds ResetIn up to whole seconds
func (d Decision) ResetInSeconds() int {
	secs := int(d.ResetIn / time.Second)
	if d.ResetIn%time.Second > 0 {
		secs++
	}
	return secs
}

type window struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"resetAt"`
}

// Limiter is a fixed-window counter per key
type Limiter struct {
	mu     sync.Mutex
	cache  Cache
	window time.Duration
	max    int
	now    func() time.Time
}

// NewLimiter creates a limiter allowing RateMax requests per RateWindow
func NewLimiter(cache Cache) *Limiter {
	return &Limiter{cache: cache, window: RateWindow, max: RateMax, now: time.Now}
}

func limiterKey(key string) string {
	return "otp-rl:" + strings.ToLower(strings.TrimSpace(key))
}

// Allow counts one request for key. A missing or elapsed window starts a new one at count 1.
// Requests beyond the limit are still counted.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := limiterKey(key)
	now := l.now()

	w, ok, err := l.read(ctx, k)
	if err != nil {
		return Decision{}, err
	}
	if !ok || now.After(w.ResetAt) {
		w = window{Count: 1, ResetAt: now.Add(l.window)}
	} else {
		w.Count++
	}

	raw, err := json.Marshal(w)
	if err != nil {
		return Decision{}, fmt.Errorf("encode rate window: %w", err)
	}
	if err := l.cache.Set(ctx, k, raw, w.ResetAt.Sub(now)+time.Second); err != nil {
		return Decision{}, fmt.Errorf("write rate window: %w", err)
	}

	d := Decision{
		Allowed:   w.Count <= l.max,
		Count:     w.Count,
		Remaining: l.max - w.Count,
		ResetAt:   w.ResetAt,
		ResetIn:   w.ResetAt.Sub(now),
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	return d, nil
}

// Reset forgets the window for key
func (l *Limiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache.Delete(ctx, limiterKey(key))
}

func (l *Limiter) read(ctx context.Context, key string) (window, bool, error) {
	raw, ok, err := l.cache.Get(ctx, key)
	if err != nil {
		return window{}, false, fmt.Errorf("read rate window: %w", err)
	}
	if !ok {
		return window{}, false, nil
	}
	var w window
	if err := json.Unmarshal(raw, &w); err != nil {
		return window{}, false, fmt.Errorf("decode rate window: %w", err)
	}
	return w, true, nil
}
