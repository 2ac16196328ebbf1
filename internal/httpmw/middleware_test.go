package httpmw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/requestguard/internal/log"
)

// spyLogger records every call for assertions.
type spyLogger struct {
	mu      sync.Mutex
	fields  []any
	records []spyRecord
}

type spyRecord struct {
	level string
	msg   string
	err   error
	kv    []any
}

func (s *spyLogger) With(kv ...any) log.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields = append(s.fields, kv...)
	return s
}

func (s *spyLogger) add(level, msg string, err error, kv []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, spyRecord{level: level, msg: msg, err: err, kv: kv})
}

func (s *spyLogger) Debug(_ context.Context, msg string, kv ...any) { s.add("debug", msg, nil, kv) }
func (s *spyLogger) Info(_ context.Context, msg string, kv ...any)  { s.add("info", msg, nil, kv) }
func (s *spyLogger) Warn(_ context.Context, msg string, kv ...any)  { s.add("warn", msg, nil, kv) }
func (s *spyLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	s.add("error", msg, err, kv)
}
func (s *spyLogger) Sync() error { return nil }

func (s *spyLogger) snapshot() []spyRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]spyRecord(nil), s.records...)
}

func kvValue(kv []any, key string) (any, bool) {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i] == key {
			return kv[i+1], true
		}
	}
	return nil, false
}

func ok200(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(ok200), mw("a"), nil, mw("b"), mw("c"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if got := strings.Join(order, ","); got != "a,b,c" {
		t.Fatalf("order = %s, want a,b,c", got)
	}
}

func TestRequestID_GeneratesAndEchoes(t *testing.T) {
	var seen string
	h := RequestID("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if len(seen) != 32 {
		t.Fatalf("generated id %q, want 32 hex chars", seen)
	}
	if rec.Header().Get("X-Request-Id") != seen {
		t.Fatalf("response header %q != context id %q", rec.Header().Get("X-Request-Id"), seen)
	}
}

func TestRequestID_PropagatesAndCaps(t *testing.T) {
	h := RequestID("X-Request-Id")(http.HandlerFunc(ok200))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-Id", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if got := rec.Header().Get("X-Request-Id"); got != "abc-123" {
		t.Fatalf("propagated id = %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-Id", strings.Repeat("x", maxRequestIDLen+1))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if got := rec.Header().Get("X-Request-Id"); len(got) != 32 {
		t.Fatalf("oversized id should be replaced, got %q", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(ok200)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	for _, h := range []string{"Strict-Transport-Security", "Content-Security-Policy", "X-Content-Type-Options", "X-Frame-Options", "Referrer-Policy"} {
		if rec.Header().Get(h) == "" {
			t.Errorf("missing %s", h)
		}
	}
}

func TestMaxBody(t *testing.T) {
	var readErr error
	h := MaxBody(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("too long")))

	var mbe *http.MaxBytesError
	if !errors.As(readErr, &mbe) {
		t.Fatalf("read error = %v, want *http.MaxBytesError", readErr)
	}
}

func TestWithLogger_AndAccessLog(t *testing.T) {
	spy := &spyLogger{}

	r := chi.NewRouter()
	r.Use(AccessLog)
	r.Get("/api/search", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := RequestID("")(ClientKey(WithLogger(spy)(r)))

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=secret", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if v, _ := kvValue(spy.fields, "client.address"); v != "203.0.113.5" {
		t.Errorf("client.address = %v", v)
	}
	for i := 0; i+1 < len(spy.fields); i += 2 {
		if s, ok := spy.fields[i+1].(string); ok && strings.Contains(s, "secret") {
			t.Errorf("query string leaked into logger field %v", spy.fields[i])
		}
	}

	recs := spy.snapshot()
	if len(recs) != 1 || recs[0].msg != "http request" {
		t.Fatalf("records = %+v, want one access log", recs)
	}
	if v, _ := kvValue(recs[0].kv, "http.response.status_code"); v != http.StatusTeapot {
		t.Errorf("status = %v", v)
	}
	if v, _ := kvValue(recs[0].kv, "http.route"); v != "/api/search" {
		t.Errorf("route = %v", v)
	}
}

func TestAccessLog_SkipsHealth(t *testing.T) {
	spy := &spyLogger{}
	h := WithLogger(spy)(AccessLog(http.HandlerFunc(ok200)))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/-/healthy", nil))

	if n := len(spy.snapshot()); n != 0 {
		t.Fatalf("health probe produced %d records", n)
	}
}

func TestScope_AddsHandlerField(t *testing.T) {
	spy := &spyLogger{}
	h := WithLogger(spy)(Scope("search")(http.HandlerFunc(ok200)))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if v, _ := kvValue(spy.fields, "handler"); v != "search" {
		t.Fatalf("handler field = %v", v)
	}
}

func TestRecover(t *testing.T) {
	spy := &spyLogger{}
	var panics int
	h := Recover(spy, func() { panics++ })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("something broke")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if panics != 1 {
		t.Fatalf("onPanic called %d times", panics)
	}
	recs := spy.snapshot()
	if len(recs) != 1 || recs[0].level != "error" || !strings.Contains(recs[0].err.Error(), "something broke") {
		t.Fatalf("records = %+v", recs)
	}
}

func TestRecover_ReRaisesAbort(t *testing.T) {
	h := Recover(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Fatalf("recovered %v, want http.ErrAbortHandler", rec)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}
