// Package health provides composable health check probes and HTTP handlers
// for liveness and readiness endpoints.
//
// Probes are combined with [All] and pinned with [Fixed].
// [CheckFunc] adapts a plain function into a [Probe]. [WithTimeout] bounds
// probes that reach the backend API.
//
// [HealthzHandler] and [ReadyzHandler] serve probes over HTTP on both the
// public and ops listeners.
//
// [ShutdownGate] coordinates graceful shutdown: once closed, readiness probes
// fail immediately (via atomic.Bool) so load balancers stop sending traffic
// before in-flight requests are drained.
package health
