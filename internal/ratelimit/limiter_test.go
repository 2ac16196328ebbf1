package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/keithlinneman/requestguard/internal/clock"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestLimiter(t *testing.T, max int, window time.Duration, opts ...Option) (*Limiter, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(epoch)
	l, err := NewLimiter(Config{MaxRequests: max, Window: window, Name: "test"}, append([]Option{WithClock(clk)}, opts...)...)
	if err != nil {
		t.Fatalf("NewLimiter: %v", err)
	}
	return l, clk
}

func TestConfig_Key(t *testing.T) {
	if got := (Config{MaxRequests: 5, Window: time.Minute, Name: "auth"}).Key(); got != "auth" {
		t.Fatalf("named key = %q", got)
	}
	if got := (Config{MaxRequests: 5, Window: time.Minute}).Key(); got != "5/60000" {
		t.Fatalf("fallback key = %q, want 5/60000", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{MaxRequests: 1, Window: time.Millisecond}, false},
		{"zero max", Config{MaxRequests: 0, Window: time.Second}, true},
		{"negative max", Config{MaxRequests: -1, Window: time.Second}, true},
		{"zero window", Config{MaxRequests: 1}, true},
		{"sub millisecond window", Config{MaxRequests: 1, Window: time.Microsecond}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("error %v does not wrap ErrInvalidConfig", err)
			}
		})
	}
}

func TestNewLimiter_InvalidConfig(t *testing.T) {
	_, err := NewLimiter(Config{Name: "broken"})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestCheck_WindowAdmission(t *testing.T) {
	const n = 5
	l, clk := newTestLimiter(t, n, time.Second)

	for i := 0; i < n; i++ {
		res := l.Check("k")
		if !res.Allowed {
			t.Fatalf("call %d rejected", i+1)
		}
		if want := n - 1 - i; res.Remaining != want {
			t.Fatalf("call %d remaining = %d, want %d", i+1, res.Remaining, want)
		}
		clk.Advance(10 * time.Millisecond)
	}

	res := l.Check("k")
	if res.Allowed || res.Remaining != 0 {
		t.Fatalf("call %d = %+v, want rejected with 0 remaining", n+1, res)
	}
}

func TestCheck_IndependentKeys(t *testing.T) {
	l, _ := newTestLimiter(t, 2, time.Minute)

	l.Check("a")
	l.Check("a")
	if res := l.Check("a"); res.Allowed {
		t.Fatal("a should be exhausted")
	}

	res := l.Check("b")
	if !res.Allowed || res.Remaining != 1 {
		t.Fatalf("b = %+v, want allowed with 1 remaining", res)
	}
}

func TestCheck_WindowExpiry(t *testing.T) {
	const n = 3
	window := 10 * time.Second
	l, clk := newTestLimiter(t, n, window)

	for i := 0; i < n; i++ {
		l.Check("k")
	}
	if l.Check("k").Allowed {
		t.Fatal("expected limit to be exhausted")
	}

	clk.Advance(window + time.Millisecond)
	res := l.Check("k")
	if !res.Allowed || res.Remaining != n-1 {
		t.Fatalf("after window = %+v, want allowed with %d remaining", res, n-1)
	}
}

func TestCheck_ExactWindowBoundaryExpires(t *testing.T) {
	l, clk := newTestLimiter(t, 1, time.Second)

	l.Check("k")
	clk.Advance(time.Second)
	if res := l.Check("k"); !res.Allowed {
		t.Fatalf("timestamp exactly one window old should be pruned, got %+v", res)
	}
}

func TestCheck_ResetBound(t *testing.T) {
	window := 10 * time.Second
	l, clk := newTestLimiter(t, 1, window)

	l.Check("k")
	clk.Advance(3 * time.Second)
	res := l.Check("k")
	if res.Allowed {
		t.Fatal("second call should be rejected")
	}
	if res.Reset <= 0 || res.Reset > window {
		t.Fatalf("reset = %s, want in (0, %s]", res.Reset, window)
	}
	if res.Reset != 7*time.Second {
		t.Fatalf("reset = %s, want 7s", res.Reset)
	}
}

func TestCheck_ResetIsFullWindowForFreshKey(t *testing.T) {
	l, _ := newTestLimiter(t, 3, 10*time.Second)
	// a fresh key is pruned to empty before the append, so reset is the full window
	if res := l.Check("fresh"); res.Reset != 10*time.Second {
		t.Fatalf("reset = %s, want 10s", res.Reset)
	}
}

func TestCheck_RejectionsNotRecorded(t *testing.T) {
	window := 10 * time.Second
	l, clk := newTestLimiter(t, 1, window)

	l.Check("k")
	for i := 0; i < 20; i++ {
		clk.Advance(100 * time.Millisecond)
		l.Check("k")
	}
	// only the first call is in the log, so it expires one window after it was made
	clk.Set(epoch.Add(window))
	if res := l.Check("k"); !res.Allowed {
		t.Fatalf("rejections extended the window: %+v", res)
	}
}

func TestCheck_CleanupBounding(t *testing.T) {
	window := 10 * time.Second
	l, clk := newTestLimiter(t, 5, window)

	for i := 0; i < 100; i++ {
		l.Check(fmt.Sprintf("client-%d", i))
	}
	if got := l.Clients(); got != 100 {
		t.Fatalf("clients = %d, want 100", got)
	}

	clk.Advance(window + CleanupInterval + time.Millisecond)
	l.Check("newcomer")

	if got := l.Clients(); got != 1 {
		t.Fatalf("clients after sweep = %d, want 1", got)
	}
}

func TestCheck_NoSweepBeforeInterval(t *testing.T) {
	l, clk := newTestLimiter(t, 5, time.Second)

	l.Check("a")
	clk.Advance(CleanupInterval - time.Millisecond)
	l.Check("b")

	// a's log is stale but the sweep is not due yet
	if got := l.Clients(); got != 2 {
		t.Fatalf("clients = %d, want 2", got)
	}
}

func TestCheck_ConcreteScenario(t *testing.T) {
	l, clk := newTestLimiter(t, 3, 10000*time.Millisecond)
	const ip = "1.2.3.4"

	steps := []struct {
		allowed   bool
		remaining int
	}{
		{true, 2},
		{true, 1},
		{true, 0},
		{false, 0},
	}
	for i, s := range steps {
		res := l.Check(ip)
		if res.Allowed != s.allowed || res.Remaining != s.remaining {
			t.Fatalf("step %d = %+v, want allowed=%v remaining=%d", i+1, res, s.allowed, s.remaining)
		}
		if !s.allowed && res.Reset <= 0 {
			t.Fatalf("step %d reset = %s, want > 0", i+1, res.Reset)
		}
	}

	clk.Advance(11000 * time.Millisecond)
	if res := l.Check(ip); !res.Allowed || res.Remaining != 2 {
		t.Fatalf("after advance = %+v, want allowed with 2 remaining", res)
	}
}

func TestReset_RestoresAllowance(t *testing.T) {
	l, _ := newTestLimiter(t, 2, time.Minute)

	l.Check("a")
	l.Check("a")
	l.Check("b")
	l.Reset()

	if got := l.Clients(); got != 0 {
		t.Fatalf("clients after reset = %d", got)
	}
	if res := l.Check("a"); !res.Allowed || res.Remaining != 1 {
		t.Fatalf("after reset = %+v, want allowed with 1 remaining", res)
	}
}

func TestPeek_DoesNotConsume(t *testing.T) {
	l, clk := newTestLimiter(t, 2, 10*time.Second)

	if res := l.Peek("k"); !res.Allowed || res.Remaining != 2 || res.Reset != 10*time.Second {
		t.Fatalf("peek unknown = %+v", res)
	}
	if l.Clients() != 0 {
		t.Fatal("peek should not create an entry")
	}

	l.Check("k")
	clk.Advance(4 * time.Second)
	for i := 0; i < 3; i++ {
		res := l.Peek("k")
		if !res.Allowed || res.Remaining != 1 || res.Reset != 6*time.Second {
			t.Fatalf("peek %d = %+v", i, res)
		}
	}

	l.Check("k")
	if res := l.Peek("k"); res.Allowed || res.Remaining != 0 {
		t.Fatalf("peek exhausted = %+v", res)
	}
}

func TestSweep_Forced(t *testing.T) {
	var evictedSeen []int
	l, clk := newTestLimiter(t, 5, time.Second, WithOnSweep(func(_ Config, n int) {
		evictedSeen = append(evictedSeen, n)
	}))

	l.Check("a")
	l.Check("b")
	clk.Advance(500 * time.Millisecond)
	l.Check("c")
	clk.Advance(600 * time.Millisecond)

	if n := l.Sweep(); n != 2 {
		t.Fatalf("evicted = %d, want 2", n)
	}
	if l.Clients() != 1 {
		t.Fatalf("clients = %d, want 1", l.Clients())
	}
	if len(evictedSeen) != 1 || evictedSeen[0] != 2 {
		t.Fatalf("onSweep calls = %v", evictedSeen)
	}
}

func TestCheck_OnSweepHookFiresOnLazySweep(t *testing.T) {
	calls := 0
	l, clk := newTestLimiter(t, 5, time.Second, WithOnSweep(func(cfg Config, n int) {
		calls++
		if cfg.Name != "test" || n != 1 {
			t.Errorf("onSweep(%q, %d)", cfg.Name, n)
		}
	}))

	l.Check("old")
	clk.Advance(CleanupInterval)
	l.Check("new")
	l.Check("new")

	if calls != 1 {
		t.Fatalf("onSweep called %d times, want 1", calls)
	}
}

func TestCheck_MaxClients(t *testing.T) {
	capacity := 0
	l, clk := newTestLimiter(t, 5, time.Second,
		WithMaxClients(2),
		WithOnCapacity(func(Config) { capacity++ }),
	)

	l.Check("a")
	l.Check("b")
	res := l.Check("c")
	if res.Allowed || res.Reset != time.Second {
		t.Fatalf("third client = %+v, want rejected", res)
	}
	if capacity != 1 {
		t.Fatalf("onCapacity called %d times", capacity)
	}
	if !l.Check("a").Allowed {
		t.Fatal("known clients are still served at capacity")
	}

	clk.Advance(CleanupInterval)
	if !l.Check("c").Allowed {
		t.Fatal("sweep should free room for new clients")
	}
}

func TestCheck_Concurrent(t *testing.T) {
	const (
		max     = 50
		workers = 8
		perW    = 20
	)
	l, _ := newTestLimiter(t, max, time.Minute)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perW; i++ {
				if l.Check("shared").Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if allowed != max {
		t.Fatalf("allowed = %d, want exactly %d", allowed, max)
	}
}
