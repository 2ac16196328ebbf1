package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveClientKey(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"no headers", nil, "unknown"},
		{"single xff", map[string]string{"X-Forwarded-For": "203.0.113.7"}, "203.0.113.7"},
		{"xff first entry wins", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1, 10.0.0.2"}, "203.0.113.7"},
		{"xff trimmed", map[string]string{"X-Forwarded-For": "   198.51.100.4  ,10.0.0.1"}, "198.51.100.4"},
		{"xff wins over real ip", map[string]string{"X-Forwarded-For": "1.1.1.1", "X-Real-IP": "2.2.2.2"}, "1.1.1.1"},
		{"real ip fallback", map[string]string{"X-Real-IP": "2.2.2.2"}, "2.2.2.2"},
		{"empty first xff entry falls through", map[string]string{"X-Forwarded-For": " , 1.1.1.1", "X-Real-IP": "2.2.2.2"}, "2.2.2.2"},
		{"real ip trimmed", map[string]string{"X-Forwarded-For": ", 1.2.3.4", "X-Real-IP": " 7.7.7.7 "}, "7.7.7.7"},
		{"blank headers", map[string]string{"X-Forwarded-For": " ,", "X-Real-IP": "  "}, "unknown"},
		{"not validated", map[string]string{"X-Forwarded-For": "not-an-ip"}, "not-an-ip"},
		{"ipv6", map[string]string{"X-Forwarded-For": "2001:db8::1"}, "2001:db8::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ResolveClientKey(r); got != tt.want {
				t.Fatalf("ResolveClientKey = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveClientKey_IgnoresRemoteAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:5555"
	if got := ResolveClientKey(r); got != UnknownClient {
		t.Fatalf("got %q, want %q", got, UnknownClient)
	}
}

func TestClientKey_Middleware(t *testing.T) {
	var got string
	h := ClientKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientKeyFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Real-IP", "198.51.100.9")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if got != "198.51.100.9" {
		t.Fatalf("context key = %q", got)
	}
}

func TestWithClientKey_EmptyIsNoop(t *testing.T) {
	ctx := context.Background()
	if WithClientKey(ctx, "") != ctx {
		t.Fatal("empty key should return the same context")
	}
	if ClientKeyFromContext(ctx) != "" {
		t.Fatal("empty context should have no key")
	}
}
