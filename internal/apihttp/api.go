// Package apihttp mounts the rate limited API endpoints. Each route is bound
// to its endpoint preset and guarded before the injected handler runs.
package apihttp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/requestguard/internal/httpmw"
	"github.com/keithlinneman/requestguard/internal/log"
	"github.com/keithlinneman/requestguard/internal/ratelimit"
)

// Handlers are the business handlers behind each guarded route. Nil entries
// answer 501 so the limits can be deployed ahead of the features.
type Handlers struct {
	AuthRegister       http.Handler
	AuthForgotPassword http.Handler
	Search             http.Handler
	SearchGlobal       http.Handler
	Comments           http.Handler
	Cron               http.Handler
}

// Route binds one endpoint to its rate limit.
type Route struct {
	Method  string
	Pattern string
	Limit   ratelimit.Config
}

// Routes is the API route table.
func Routes() []Route {
	return []Route{
		{http.MethodPost, "/api/auth/register", ratelimit.AuthRegister},
		{http.MethodPost, "/api/auth/forgot-password", ratelimit.AuthForgotPassword},
		{http.MethodGet, "/api/search", ratelimit.Search},
		{http.MethodGet, "/api/search/global", ratelimit.SearchGlobal},
		{http.MethodPost, "/api/comments", ratelimit.Comments},
		{http.MethodPost, "/api/cron", ratelimit.Cron},
	}
}

// API implements httpserver route registration for the guarded endpoints
type API struct {
	guard    *ratelimit.Guard
	handlers map[string]http.Handler
	logger   log.Logger
}

// NewAPI creates the API. guard must not be nil.
func NewAPI(guard *ratelimit.Guard, h Handlers, logger log.Logger) *API {
	if logger == nil {
		logger = log.Nop()
	}
	api := &API{guard: guard, logger: logger}
	api.handlers = map[string]http.Handler{
		ratelimit.AuthRegister.Name:       h.AuthRegister,
		ratelimit.AuthForgotPassword.Name: h.AuthForgotPassword,
		ratelimit.Search.Name:             h.Search,
		ratelimit.SearchGlobal.Name:       h.SearchGlobal,
		ratelimit.Comments.Name:           h.Comments,
		ratelimit.Cron.Name:               h.Cron,
	}
	return api
}

// RegisterRoutes attaches every route in Routes to r behind its limiter.
func (api *API) RegisterRoutes(r chi.Router) {
	for _, rt := range Routes() {
		h := api.handlers[rt.Limit.Name]
		if h == nil {
			h = api.notImplemented(rt.Limit.Name)
		}
		r.With(
			httpmw.Scope(rt.Limit.Name),
			api.guard.Middleware(rt.Limit),
		).Method(rt.Method, rt.Pattern, h)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (api *API) notImplemented(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log.FromContextOr(ctx, api.logger).Debug(ctx, "endpoint has no handler", "endpoint", name)
		api.writeJSON(ctx, w, http.StatusNotImplemented, errorResponse{Error: "not implemented"})
	})
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
