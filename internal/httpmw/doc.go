// Package httpmw provides HTTP middleware for the public API server.
//
// httpserver.NewHandler composes them outermost first: security headers,
// recovery, request id, client key, OTEL tracing, trace headers, metrics,
// request-scoped logging, then the chi router with access logging and route
// annotation. Rate limiting is applied per route by ratelimit.Guard, which
// resolves the client key through ResolveClientKey.
//
// User-supplied values such as query strings and user agents are kept out of
// logs.
package httpmw
