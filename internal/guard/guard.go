// Package guard is the per-route request security pipeline.
//
// A Pipeline is an ordered list of named stages. Each stage may declare
// which earlier stages it depends on; NewPipeline refuses an order that
// violates those dependencies. Every stage fails closed: a rejected request
// gets a JSON envelope and never reaches the handler.
//
// The usual order is
//
//	[upload] -> decode -> filter -> sanitize -> validate
//
// decode builds the Payload (body, query, route params) that later stages
// inspect and mutate; filter runs on the raw decoded values so it sees
// attack markup before sanitize strips it.
package guard

import (
	"context"
	"fmt"
	"net/http"

	"github.com/keithlinneman/tradedesk/internal/httpmw"
)

const (
	StageUpload   = "upload"
	StageDecode   = "decode"
	StageFilter   = "filter"
	StageSanitize = "sanitize"
	StageValidate = "validate"
)

// Payload is the decoded request: JSON or form body, query values and chi
// route params. Stages mutate it in place.
type Payload struct {
	Body   map[string]any
	Query  map[string]any
	Params map[string]any
}

// Lookup finds field in Body, then Query, then Params.
func (p *Payload) Lookup(field string) (any, bool) {
	for _, m := range []map[string]any{p.Body, p.Query, p.Params} {
		if v, ok := m[field]; ok {
			return v, true
		}
	}
	return nil, false
}

// String returns the field as a string, or "" when absent or not a string.
func (p *Payload) String(field string) string {
	v, _ := p.Lookup(field)
	s, _ := v.(string)
	return s
}

type payloadKey struct{}

func withPayload(ctx context.Context, p *Payload) context.Context {
	return context.WithValue(ctx, payloadKey{}, p)
}

// PayloadFromContext returns the payload stored by the decode stage, or nil.
func PayloadFromContext(ctx context.Context) *Payload {
	p, _ := ctx.Value(payloadKey{}).(*Payload)
	return p
}

// Stage is one named step of a Pipeline.
type Stage struct {
	Name     string
	Requires []string
	Wrap     httpmw.Middleware
}

// Pipeline is a validated, ordered list of stages.
type Pipeline struct {
	stages []Stage

	// OnReject runs when a stage answers the request itself instead of
	// passing it on.
	OnReject func(stage string)
}

// NewPipeline checks that names are unique and every stage's Requires were
// satisfied by an earlier stage.
func NewPipeline(stages ...Stage) (*Pipeline, error) {
	seen := make(map[string]bool, len(stages))
	for i, s := range stages {
		if s.Name == "" || s.Wrap == nil {
			return nil, fmt.Errorf("guard: stage %d is missing a name or handler", i)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("guard: duplicate stage %q", s.Name)
		}
		for _, req := range s.Requires {
			if !seen[req] {
				return nil, fmt.Errorf("guard: stage %q requires %q to run before it", s.Name, req)
			}
		}
		seen[s.Name] = true
	}
	return &Pipeline{stages: stages}, nil
}

// MustPipeline is NewPipeline for route wiring, where a bad order is a
// programming error.
func MustPipeline(stages ...Stage) *Pipeline {
	p, err := NewPipeline(stages...)
	if err != nil {
		panic(err)
	}
	return p
}

// Names lists the stage names in order.
func (p *Pipeline) Names() []string {
	out := make([]string, len(p.stages))
	for i, s := range p.stages {
		out[i] = s.Name
	}
	return out
}

// Middleware runs the stages in order before next.
func (p *Pipeline) Middleware(next http.Handler) http.Handler {
	h := next
	for i := len(p.stages) - 1; i >= 0; i-- {
		h = p.track(p.stages[i], h)
	}
	return h
}

type passKey struct{}

// track reports a rejection when s returns without calling next.
func (p *Pipeline) track(s Stage, next http.Handler) http.Handler {
	inner := s.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if passed, ok := r.Context().Value(passKey{}).(*bool); ok {
			*passed = true
		}
		next.ServeHTTP(w, r)
	}))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		passed := false
		inner.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), passKey{}, &passed)))
		if !passed && p.OnReject != nil {
			p.OnReject(s.Name)
		}
	})
}

// payloadOr500 fetches the payload for stages that depend on decode.
func payloadOr500(w http.ResponseWriter, r *http.Request) (*Payload, bool) {
	p := PayloadFromContext(r.Context())
	if p == nil {
		httpmw.WriteError(w, http.StatusInternalServerError, "Internal server error")
		return nil, false
	}
	return p, true
}
