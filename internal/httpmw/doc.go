// Package httpmw provides generic HTTP middleware for the API server.
//
// httpserver.NewHandler composes these, outermost first: security headers,
// panic recovery, request ID, client IP extraction, tracing, metrics,
// request-scoped logger, access log. Rate limiting and the guard pipeline
// are mounted per route inside the router.
//
// Request payloads, query strings and user-agent are never written to logs.
package httpmw
