package ratelimit

import "time"

// Endpoint presets. Every value counts requests per rolling minute.
var (
	AuthRegister       = Config{MaxRequests: 5, Window: time.Minute, Name: "auth-register"}
	AuthForgotPassword = Config{MaxRequests: 3, Window: time.Minute, Name: "auth-forgot-password"}
	Search             = Config{MaxRequests: 30, Window: time.Minute, Name: "search"}
	SearchGlobal       = Config{MaxRequests: 20, Window: time.Minute, Name: "search-global"}
	Comments           = Config{MaxRequests: 10, Window: time.Minute, Name: "comments"}
	Cron               = Config{MaxRequests: 4, Window: time.Minute, Name: "cron"}
)

// Presets returns the endpoint preset table keyed by config name.
// The map is a fresh copy on every call.
func Presets() map[string]Config {
	out := make(map[string]Config, 6)
	for _, c := range []Config{AuthRegister, AuthForgotPassword, Search, SearchGlobal, Comments, Cron} {
		out[c.Name] = c
	}
	return out
}
