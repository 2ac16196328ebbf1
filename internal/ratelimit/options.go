package ratelimit

import "github.com/keithlinneman/requestguard/internal/clock"

type options struct {
	clock      clock.Clock
	maxClients int

	onSweep          func(cfg Config, evicted int)
	onCapacity       func(cfg Config)
	onConfigMismatch func(existing, requested Config)
}

// Option configures a Limiter or every Limiter a Registry creates.
type Option func(*options)

// WithClock sets the time source. Defaults to clock.Real().
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithMaxClients caps the number of distinct clients a limiter tracks.
// Once the cap is hit, unseen clients are rejected until a sweep frees room.
// Zero (the default) disables the cap.
func WithMaxClients(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxClients = n
		}
	}
}

// WithOnSweep is called after every sweep with the number of evicted clients.
// Runs outside the limiter lock.
func WithOnSweep(fn func(cfg Config, evicted int)) Option {
	return func(o *options) {
		o.onSweep = fn
	}
}

// WithOnCapacity is called each time an unseen client is turned away because
// the limiter is at its client cap. Runs outside the limiter lock.
func WithOnCapacity(fn func(cfg Config)) Option {
	return func(o *options) {
		o.onCapacity = fn
	}
}

// WithOnConfigMismatch is called the first time a Registry is asked for an
// existing name with different limits. The existing config stays in force.
func WithOnConfigMismatch(fn func(existing, requested Config)) Option {
	return func(o *options) {
		o.onConfigMismatch = fn
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: clock.Real()}
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
