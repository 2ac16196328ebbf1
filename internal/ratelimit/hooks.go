package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/requestguard/internal/log"
)

// CapacityWarner returns an OnCapacity hook that logs at most one warning per
// interval per limiter name. count is called on every capacity rejection and
// may be nil.
func CapacityWarner(L log.Logger, interval time.Duration, count func(endpoint string)) func(Config) {
	if L == nil {
		L = log.Nop()
	}
	var mu sync.Mutex
	per := make(map[string]*rate.Sometimes)
	return func(cfg Config) {
		name := cfg.Key()
		if count != nil {
			count(name)
		}
		mu.Lock()
		s, ok := per[name]
		if !ok {
			s = &rate.Sometimes{Interval: interval}
			per[name] = s
		}
		mu.Unlock()
		s.Do(func() {
			L.Warn(context.Background(), "rate limit client capacity reached, rejecting new clients until a sweep frees room",
				"endpoint", name,
			)
		})
	}
}
