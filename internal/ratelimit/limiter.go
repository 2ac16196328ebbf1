package ratelimit

import (
	"sync"
	"time"

	"github.com/keithlinneman/requestguard/internal/xerrors"
)

// Result is the outcome of a rate limit decision for one client.
type Result struct {
	Allowed bool
	// Remaining is how many more requests the client may make in the current
	// window. Never negative.
	Remaining int
	// Reset is the time until the oldest counted request ages out and frees a
	// slot, or the full window when nothing is counted.
	Reset time.Duration
}

// entry is the sliding log for one client, oldest first.
type entry struct {
	stamps []time.Time
}

// prune drops timestamps that are at least window old.
func (e *entry) prune(now time.Time, window time.Duration) {
	i := 0
	for i < len(e.stamps) && now.Sub(e.stamps[i]) >= window {
		i++
	}
	if i == 0 {
		return
	}
	n := copy(e.stamps, e.stamps[i:])
	clear(e.stamps[n:])
	e.stamps = e.stamps[:n]
}

// Limiter enforces one Config across any number of client keys.
type Limiter struct {
	cfg  Config
	opts options

	mu            sync.Mutex
	clients       map[string]*entry
	lastCleanupAt time.Time
}

// NewLimiter validates cfg and returns a limiter for it.
func NewLimiter(cfg Config, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Wrapf(err, "limiter %q", cfg.Key())
	}
	o := buildOptions(opts)
	return &Limiter{
		cfg:           cfg,
		opts:          o,
		clients:       make(map[string]*entry),
		lastCleanupAt: o.clock.Now(),
	}, nil
}

// Config returns the policy this limiter enforces.
func (l *Limiter) Config() Config { return l.cfg }

// Check decides whether one more request from key is admitted and records it
// if so. Rejected attempts are not recorded.
func (l *Limiter) Check(key string) Result {
	now := l.opts.clock.Now()

	l.mu.Lock()
	swept, evicted := false, 0
	if now.Sub(l.lastCleanupAt) >= CleanupInterval {
		swept, evicted = true, l.sweepLocked(now)
	}

	e, ok := l.clients[key]
	if !ok {
		if l.opts.maxClients > 0 && len(l.clients) >= l.opts.maxClients {
			l.mu.Unlock()
			l.afterSweep(swept, evicted)
			if l.opts.onCapacity != nil {
				l.opts.onCapacity(l.cfg)
			}
			return Result{Allowed: false, Remaining: 0, Reset: l.cfg.Window}
		}
		e = &entry{}
		l.clients[key] = e
	}

	e.prune(now, l.cfg.Window)
	res := l.evaluate(e, now)
	if len(e.stamps) >= l.cfg.MaxRequests {
		res.Allowed = false
		res.Remaining = 0
	} else {
		e.stamps = append(e.stamps, now)
		res.Allowed = true
		res.Remaining--
	}
	l.mu.Unlock()

	l.afterSweep(swept, evicted)
	return res
}

// Peek reports the current standing of key without consuming a slot.
// Allowed says whether a Check right now would be admitted.
func (l *Limiter) Peek(key string) Result {
	now := l.opts.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.clients[key]
	if !ok {
		return Result{Allowed: true, Remaining: l.cfg.MaxRequests, Reset: l.cfg.Window}
	}
	e.prune(now, l.cfg.Window)
	res := l.evaluate(e, now)
	res.Allowed = len(e.stamps) < l.cfg.MaxRequests
	return res
}

// evaluate computes remaining and reset from an already pruned entry.
func (l *Limiter) evaluate(e *entry, now time.Time) Result {
	remaining := l.cfg.MaxRequests - len(e.stamps)
	if remaining < 0 {
		remaining = 0
	}
	reset := l.cfg.Window
	if len(e.stamps) > 0 {
		if r := l.cfg.Window - now.Sub(e.stamps[0]); r < reset {
			reset = r
		}
	}
	return Result{Remaining: remaining, Reset: reset}
}

// Sweep prunes every client and drops the empty ones immediately, regardless
// of when the last sweep ran. Returns the number of evicted clients.
func (l *Limiter) Sweep() int {
	now := l.opts.clock.Now()
	l.mu.Lock()
	evicted := l.sweepLocked(now)
	l.mu.Unlock()
	l.afterSweep(true, evicted)
	return evicted
}

func (l *Limiter) sweepLocked(now time.Time) int {
	evicted := 0
	for key, e := range l.clients {
		e.prune(now, l.cfg.Window)
		if len(e.stamps) == 0 {
			delete(l.clients, key)
			evicted++
		}
	}
	l.lastCleanupAt = now
	return evicted
}

func (l *Limiter) afterSweep(swept bool, evicted int) {
	if swept && l.opts.onSweep != nil {
		l.opts.onSweep(l.cfg, evicted)
	}
}

// Clients returns the number of client keys currently tracked.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Reset forgets every client, restoring full allowance on the next Check.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.clients)
	l.lastCleanupAt = l.opts.clock.Now()
}
