package httpserver

import (
	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/tradedesk/internal/health"
	"github.com/keithlinneman/tradedesk/internal/httpmw"
	"github.com/keithlinneman/tradedesk/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    httpmw.Middleware
	ClientIPOpts httpmw.ClientIPOptions

	// Identify resolves credentials into a principal; nil leaves every
	// request anonymous.
	Identify httpmw.Middleware
	// Audit records state-changing API calls. It runs inside Identify so
	// entries carry the user id.
	Audit httpmw.Middleware

	Health    health.Probe
	Readiness health.Probe

	// APIRoutes registers the application routes on the root router.
	APIRoutes func(r chi.Router)
}
