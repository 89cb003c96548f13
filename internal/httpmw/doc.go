// Package httpmw provides HTTP middleware for the admin frontend server.
//
// Middleware is composed in httpserver.NewHandler: recover, security
// headers, request ID, client IP extraction, OTEL tracing, metrics,
// structured logging, then the chi router. Routes that render session
// data additionally wrap themselves in [PrivateNoStore].
//
// User-supplied data (query params, user-agent, cookies) is excluded from
// logs. Session cookies are never logged.
package httpmw
