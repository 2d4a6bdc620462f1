package ratelimit

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/keithlinneman/tradedesk/internal/httpmw"
	"github.com/keithlinneman/tradedesk/internal/log"
)

// Store decides whether one more request under key fits policy p.
// Implementations must be safe for concurrent use.
type Store interface {
	Allow(ctx context.Context, key string, p Policy) (Decision, error)
}

// Limiter binds named policies to a Store.
type Limiter struct {
	policies map[string]Policy
	store    Store

	// OnDenied runs on every rejected request, after the decision is made.
	OnDenied func(policy, ip string)
}

type Option func(*Limiter)

// WithPolicies replaces the policy set.
func WithPolicies(p map[string]Policy) Option {
	return func(l *Limiter) { l.policies = p }
}

func WithStore(s Store) Option {
	return func(l *Limiter) { l.store = s }
}

// WithOnDenied sets a callback for every denial, used for the denial counter.
func WithOnDenied(fn func(policy, ip string)) Option {
	return func(l *Limiter) { l.OnDenied = fn }
}

// New returns a Limiter over DefaultPolicies. Without WithStore it uses a
// MemoryStore whose cleanup goroutine stops when ctx is done.
func New(ctx context.Context, opts ...Option) *Limiter {
	l := &Limiter{policies: DefaultPolicies()}
	for _, o := range opts {
		o(l)
	}
	if l.store == nil {
		l.store = NewMemoryStore(ctx, WithTTL(MaxWindow(l.policies)))
	}
	return l
}

// Policy returns the named policy.
func (l *Limiter) Policy(name string) (Policy, bool) {
	p, ok := l.policies[name]
	return p, ok
}

// Allow consults the store for ip under the named policy.
func (l *Limiter) Allow(ctx context.Context, policy, ip string) (Decision, error) {
	p, ok := l.policies[policy]
	if !ok {
		return Decision{}, fmt.Errorf("unknown rate limit policy %q", policy)
	}
	return l.store.Allow(ctx, p.Name+":"+ip, p)
}

type deniedBody struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

// Middleware enforces the named policy. It panics when the policy does not
// exist so a typo surfaces at wiring time rather than on the first request.
func (l *Limiter) Middleware(policy string) httpmw.Middleware {
	p, ok := l.policies[policy]
	if !ok {
		panic(fmt.Sprintf("ratelimit: unknown policy %q", policy))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := httpmw.ClientIPFromContext(ctx)

			d, err := l.store.Allow(ctx, p.Name+":"+ip, p)
			if err != nil {
				log.FromContext(ctx).Error(ctx, err, "rate limit store failed", "policy", p.Name)
				httpmw.WriteError(w, http.StatusServiceUnavailable, "rate limiter unavailable")
				return
			}
			if !d.Allowed {
				if l.OnDenied != nil {
					l.OnDenied(p.Name, ip)
				}
				secs := retryAfterSeconds(d.RetryAfter)
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				httpmw.WriteJSON(w, http.StatusTooManyRequests, deniedBody{
					Success:    false,
					Message:    p.Message,
					RetryAfter: secs,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// retryAfterSeconds rounds up to whole seconds, minimum 1.
func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// MaxWindow is the longest window in policies, a safe idle TTL for a
// MemoryStore serving them.
func MaxWindow(policies map[string]Policy) time.Duration {
	var m time.Duration
	for _, p := range policies {
		if p.Window > m {
			m = p.Window
		}
	}
	if m == 0 {
		m = 5 * time.Minute
	}
	return m
}
