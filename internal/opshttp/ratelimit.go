package opshttp

import (
	"encoding/json"
	"net/http"

	"github.com/keithlinneman/requestguard/internal/log"
	"github.com/keithlinneman/requestguard/internal/ratelimit"
)

type limitsResponse struct {
	Limiters []ratelimit.LimiterInfo `json:"limiters"`
}

type resetResponse struct {
	Reset string `json:"reset"`
}

func registerRateLimit(mux *http.ServeMux, L log.Logger, admin LimiterAdmin) {
	mux.HandleFunc("GET /ratelimit", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, limitsResponse{Limiters: admin.Snapshot()})
	})

	// POST /ratelimit/reset clears every limiter, ?name= clears one
	mux.HandleFunc("POST /ratelimit/reset", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if name == "" {
			admin.Reset()
			L.Info(r.Context(), "rate limiters reset", "scope", "all")
			writeJSON(w, http.StatusOK, resetResponse{Reset: "all"})
			return
		}
		if !admin.ResetLimiter(name) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown limiter"})
			return
		}
		L.Info(r.Context(), "rate limiters reset", "scope", name)
		writeJSON(w, http.StatusOK, resetResponse{Reset: name})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
