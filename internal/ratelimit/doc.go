// Package ratelimit guards named API endpoints with a per-client sliding log
// of accepted request timestamps.
//
// Each named endpoint policy (a [Config]) owns one [Limiter]. A limiter keeps
// the timestamps of accepted requests per client key and admits a request
// while fewer than MaxRequests of them fall inside the trailing window.
// Rejected attempts are never recorded, so a client that keeps hammering a
// limited endpoint does not extend its own penalty.
//
// Memory is bounded by a call-triggered sweep: at most once per
// [CleanupInterval] a Check prunes every client and drops the ones with no
// timestamps left. A fully idle limiter therefore never sweeps, which is fine
// because nothing is arriving to grow it. [Registry.StartSweeper] adds a
// ticker-driven sweep for deployments that want a hard bound regardless of
// traffic.
//
// State is process-local. It is not shared between instances and does not
// survive restarts.
package ratelimit
