package opshttp

import (
	"net/http"

	"github.com/keithlinneman/requestguard/internal/health"
	"github.com/keithlinneman/requestguard/internal/ratelimit"
)

// LimiterAdmin is the slice of *ratelimit.Registry the ops server exposes.
type LimiterAdmin interface {
	Snapshot() []ratelimit.LimiterInfo
	Reset()
	ResetLimiter(name string) bool
}

type Options struct {
	Port         int
	Metrics      http.Handler
	EnablePprof  bool
	Health       health.Probe
	Readiness    health.Probe
	Limits       LimiterAdmin // optional, mounts /ratelimit when set
	UseRecoverMW bool
	OnPanic      func() // optional, e.g. to increment a prometheus counter
}
