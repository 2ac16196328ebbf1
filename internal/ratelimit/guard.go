package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/requestguard/internal/httpmw"
	"github.com/keithlinneman/requestguard/internal/log"
)

// Response headers set on rejections and on decorated successes.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// rejectionBody is the same for every endpoint so nothing about other
// clients or internal state leaks.
const rejectionBody = `{"error":"Too many requests. Please try again later."}`

// Guard adapts a Registry to HTTP requests: it resolves the client key,
// consults the limiter for an endpoint config and shapes the response.
type Guard struct {
	registry   *Registry
	logger     log.Logger
	onDecision func(endpoint string, allowed bool)
}

type GuardOption func(*Guard)

// WithLogger sets the fallback logger used when the request context carries
// none.
func WithLogger(l log.Logger) GuardOption {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithOnDecision is called for every decision, used for prometheus counters.
func WithOnDecision(fn func(endpoint string, allowed bool)) GuardOption {
	return func(g *Guard) {
		g.onDecision = fn
	}
}

// NewGuard returns a Guard backed by reg.
func NewGuard(reg *Registry, opts ...GuardOption) *Guard {
	g := &Guard{
		registry: reg,
		logger:   log.Nop(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Rejection is the response for a request over its limit.
type Rejection struct {
	Limit  int
	Result Result
}

// ServeHTTP writes the 429 with rate limit headers and the generic body.
func (rj *Rejection) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h := w.Header()
	setHeaders(h, rj.Limit, rj.Result)
	h.Set("Retry-After", resetSeconds(rj.Result.Reset))
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(rejectionBody))
}

// Enforce consumes a slot for the request's client under cfg. It returns nil
// when the request may proceed, otherwise a Rejection to serve instead. Each
// rejection is logged once at warn level.
func (g *Guard) Enforce(r *http.Request, cfg Config) *Rejection {
	rj, _, _ := g.enforce(r, cfg)
	return rj
}

func (g *Guard) enforce(r *http.Request, cfg Config) (*Rejection, Config, Result) {
	ctx := r.Context()
	key := httpmw.ResolveClientKey(r)

	l, err := g.registry.Get(cfg)
	if err != nil {
		// misconfiguration should not take the endpoint down with it
		g.loggerFor(ctx).Error(ctx, err, "rate limit config invalid, allowing request", "endpoint", cfg.Key())
		return nil, cfg, Result{Allowed: true}
	}
	active := l.Config()
	res := l.Check(key)

	annotateSpan(ctx, active, res)
	if g.onDecision != nil {
		g.onDecision(active.Key(), res.Allowed)
	}
	if res.Allowed {
		return nil, active, res
	}

	g.loggerFor(ctx).Warn(ctx, "rate limit exceeded",
		"ip", key,
		"endpoint", active.Key(),
		"limit", active.MaxRequests,
		"windowMs", active.Window.Milliseconds(),
	)
	return &Rejection{Limit: active.MaxRequests, Result: res}, active, res
}

// Decorate sets the rate limit headers for the request's client on a success
// response without consuming a slot. Call it before the response is written.
func (g *Guard) Decorate(w http.ResponseWriter, r *http.Request, cfg Config) {
	l, err := g.registry.Get(cfg)
	if err != nil {
		return
	}
	setHeaders(w.Header(), l.Config().MaxRequests, l.Peek(httpmw.ResolveClientKey(r)))
}

// Middleware enforces cfg in front of next and sets the rate limit headers on
// admitted requests. It panics if cfg is invalid, which is a programming
// error caught at route registration.
func (g *Guard) Middleware(cfg Config) func(http.Handler) http.Handler {
	if err := cfg.Validate(); err != nil {
		panic("ratelimit: " + err.Error())
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rj, active, res := g.enforce(r, cfg)
			if rj != nil {
				rj.ServeHTTP(w, r)
				return
			}
			// the just-consumed slot is already reflected in res
			setHeaders(w.Header(), active.MaxRequests, res)
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Guard) loggerFor(ctx context.Context) log.Logger {
	return log.FromContextOr(ctx, g.logger)
}

func setHeaders(h http.Header, limit int, res Result) {
	h.Set(HeaderLimit, strconv.Itoa(limit))
	h.Set(HeaderRemaining, strconv.Itoa(max(res.Remaining, 0)))
	h.Set(HeaderReset, resetSeconds(res.Reset))
}

// resetSeconds renders d as whole seconds, rounded up.
func resetSeconds(d time.Duration) string {
	if d <= 0 {
		return "0"
	}
	return strconv.FormatInt(int64((d+time.Second-1)/time.Second), 10)
}

func annotateSpan(ctx context.Context, cfg Config, res Result) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetAttributes(
		attribute.String("ratelimit.endpoint", cfg.Key()),
		attribute.Bool("ratelimit.allowed", res.Allowed),
		attribute.Int("ratelimit.remaining", res.Remaining),
	)
	if !res.Allowed {
		span.AddEvent("rate limit exceeded")
	}
}
