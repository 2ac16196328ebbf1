package ratelimit

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/keithlinneman/requestguard/internal/xerrors"
)

// Registry hands out one Limiter per config key and reuses it on every later
// request for that key. Limiters are independent: each has its own lock.
type Registry struct {
	opts  []Option
	hooks options

	mu         sync.RWMutex
	limiters   map[string]*Limiter
	mismatched map[string]bool
}

// NewRegistry returns an empty registry. opts are applied to every limiter it
// creates.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		opts:       opts,
		hooks:      buildOptions(opts),
		limiters:   make(map[string]*Limiter),
		mismatched: make(map[string]bool),
	}
}

// Get returns the limiter registered under cfg.Key(), creating it on first
// use. The first registration of a name wins: later calls with the same name
// but different limits get the original limiter, and the mismatch hook fires
// once for that name.
func (r *Registry) Get(cfg Config) (*Limiter, error) {
	key := cfg.Key()

	r.mu.RLock()
	l, ok := r.limiters[key]
	r.mu.RUnlock()
	if ok {
		r.checkMismatch(l, cfg)
		return l, nil
	}

	r.mu.Lock()
	if l, ok = r.limiters[key]; ok {
		r.mu.Unlock()
		r.checkMismatch(l, cfg)
		return l, nil
	}
	l, err := NewLimiter(cfg, r.opts...)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.limiters[key] = l
	r.mu.Unlock()
	return l, nil
}

func (r *Registry) checkMismatch(l *Limiter, requested Config) {
	if l.cfg.sameLimits(requested) {
		return
	}
	key := requested.Key()

	r.mu.Lock()
	first := !r.mismatched[key]
	r.mismatched[key] = true
	r.mu.Unlock()

	if first && r.hooks.onConfigMismatch != nil {
		r.hooks.onConfigMismatch(l.cfg, requested)
	}
}

// Reset forgets every client of every limiter. Limiters stay registered.
func (r *Registry) Reset() {
	for _, l := range r.all() {
		l.Reset()
	}
}

// ResetLimiter forgets every client of the named limiter.
// Reports false if no limiter has that name.
func (r *Registry) ResetLimiter(name string) bool {
	r.mu.RLock()
	l, ok := r.limiters[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	l.Reset()
	return true
}

// Len returns the number of registered limiters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limiters)
}

// Check makes the registry a readiness probe: it fails until at least one
// limiter is registered.
func (r *Registry) Check(context.Context) error {
	if r.Len() == 0 {
		return xerrors.New("no limiters registered")
	}
	return nil
}

// LimiterInfo describes one registered limiter.
type LimiterInfo struct {
	Name        string `json:"name"`
	MaxRequests int    `json:"max_requests"`
	WindowMs    int64  `json:"window_ms"`
	Clients     int    `json:"clients"`
}

// Snapshot lists all registered limiters sorted by name.
func (r *Registry) Snapshot() []LimiterInfo {
	ls := r.all()
	out := make([]LimiterInfo, 0, len(ls))
	for _, l := range ls {
		out = append(out, LimiterInfo{
			Name:        l.cfg.Key(),
			MaxRequests: l.cfg.MaxRequests,
			WindowMs:    l.cfg.Window.Milliseconds(),
			Clients:     l.Clients(),
		})
	}
	slices.SortFunc(out, func(a, b LimiterInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// TrackedClients returns the tracked client count per limiter name.
func (r *Registry) TrackedClients() map[string]int {
	ls := r.all()
	out := make(map[string]int, len(ls))
	for _, l := range ls {
		out[l.cfg.Key()] = l.Clients()
	}
	return out
}

// Sweep runs an immediate sweep on every limiter and returns the total
// number of evicted clients.
func (r *Registry) Sweep() int {
	total := 0
	for _, l := range r.all() {
		total += l.Sweep()
	}
	return total
}

// StartSweeper sweeps every limiter each interval until ctx is cancelled.
// It complements the call-triggered sweep for processes that need memory
// released even when traffic stops. Non-positive intervals are a no-op.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

// all copies the limiter set so callers can work without the registry lock.
func (r *Registry) all() []*Limiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Limiter, 0, len(r.limiters))
	for _, l := range r.limiters {
		out = append(out, l)
	}
	return out
}
