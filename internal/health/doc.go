// Package health provides composable probes and the HTTP handlers that
// expose them as liveness and readiness endpoints.
//
// Probes combine with [All]; [Named] labels a failing probe, [Fixed] is
// static and [CheckFunc] adapts a plain function. [Timeout] bounds a slow
// probe.
//
// [ShutdownGate] coordinates graceful shutdown: once set, readiness fails
// immediately so load balancers stop routing before in-flight requests are
// drained.
package health
