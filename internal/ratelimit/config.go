package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// CleanupInterval is the minimum time between two call-triggered sweeps of a
// limiter's client map.
const CleanupInterval = 60 * time.Second

// ErrInvalidConfig is returned for configs that cannot back a limiter.
var ErrInvalidConfig = errors.New("invalid rate limit config")

// Config is a named rate limit policy: at most MaxRequests accepted requests
// per client within any trailing Window.
type Config struct {
	MaxRequests int
	Window      time.Duration
	Name        string
}

// Key identifies the limiter for this config in a Registry. Configs without a
// name fall back to "{maxRequests}/{windowMs}".
func (c Config) Key() string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("%d/%d", c.MaxRequests, c.Window.Milliseconds())
}

// Validate reports every problem with c, or nil.
func (c Config) Validate() error {
	var errs []error
	if c.MaxRequests <= 0 {
		errs = append(errs, fmt.Errorf("%w: max requests must be positive (got %d)", ErrInvalidConfig, c.MaxRequests))
	}
	if c.Window < time.Millisecond {
		errs = append(errs, fmt.Errorf("%w: window must be at least 1ms (got %s)", ErrInvalidConfig, c.Window))
	}
	return errors.Join(errs...)
}

// sameLimits reports whether two configs enforce the same policy.
func (c Config) sameLimits(o Config) bool {
	return c.MaxRequests == o.MaxRequests && c.Window == o.Window
}
