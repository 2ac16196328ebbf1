package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/requestguard/internal/health"
	"github.com/keithlinneman/requestguard/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func() // optional, e.g. to increment a prometheus counter
	MetricsMW    func(http.Handler) http.Handler
	Health       health.Probe
	Readiness    health.Probe

	// APIRoutes mounts the application routes on the public router.
	APIRoutes func(chi.Router)

	// MaxBodyBytes caps request bodies. Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// ShutdownTimeout bounds the graceful drain in stop. Zero means 5s.
	ShutdownTimeout time.Duration
}
