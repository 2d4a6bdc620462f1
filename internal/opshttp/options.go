package opshttp

import (
	"net/http"

	"github.com/keithlinneman/tradedesk/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
	// OnPanic runs after a handler panic on the admin listener is recovered,
	// e.g. to bump the panic counter.
	OnPanic func()
}
