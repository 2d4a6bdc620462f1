// Package tradinghttp serves the JSON API: login, market quotes, orders,
// document uploads and administration.
//
// Every route is wrapped, outermost first, by its rate-limit policy, its
// authentication requirement, a body cap and a guard pipeline. Handlers
// read input from the guard Payload and answer with the httpmw envelope.
package tradinghttp

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/tradedesk/internal/auth"
	"github.com/keithlinneman/tradedesk/internal/guard"
	"github.com/keithlinneman/tradedesk/internal/httpmw"
	"github.com/keithlinneman/tradedesk/internal/log"
	"github.com/keithlinneman/tradedesk/internal/ratelimit"
	"github.com/keithlinneman/tradedesk/internal/store"
	"github.com/keithlinneman/tradedesk/internal/uploads"
	"github.com/keithlinneman/tradedesk/internal/xerrors"
)

const defaultMaxBody = 1 << 20

// Accounts logs users in and creates them.
type Accounts interface {
	Login(ctx context.Context, email, password string) (auth.Session, error)
	Register(ctx context.Context, email, password, role string) (store.User, error)
}

type Market interface {
	Quotes(ctx context.Context, symbols []string) ([]store.Quote, error)
}

type OrderBook interface {
	CreateOrder(ctx context.Context, o store.Order) (store.Order, error)
	ListOrders(ctx context.Context, userID int64) ([]store.Order, error)
	CancelOrder(ctx context.Context, userID, id int64) (store.Order, error)
}

type AuditLog interface {
	ListAudit(ctx context.Context, limit int, beforeID int64) ([]store.AuditRecord, error)
}

// Hooks receive domain events, typically for metrics. Any may be nil.
type Hooks struct {
	OrderPlaced   func(side string)
	Upload        func(outcome string)
	AuthFailure   func(reason string)
	GuardRejected func(stage string)
	FilterBlocked func(kind string)
}

type Options struct {
	Accounts  Accounts
	Market    Market
	Orders    OrderBook
	Audit     AuditLog
	Documents uploads.Store

	// Limiter applies the named policies; nil disables rate limiting.
	Limiter *ratelimit.Limiter

	Upload guard.UploadPolicy
	// MaxBodyBytes caps JSON and form bodies. Defaults to 1 MiB.
	MaxBodyBytes int64

	Hooks Hooks
}

// API implements the trading endpoints.
type API struct {
	opts      Options
	inspector *guard.Inspector
}

func NewAPI(opts Options) (*API, error) {
	switch {
	case opts.Accounts == nil:
		return nil, xerrors.New("tradinghttp: Accounts is required")
	case opts.Market == nil:
		return nil, xerrors.New("tradinghttp: Market is required")
	case opts.Orders == nil:
		return nil, xerrors.New("tradinghttp: Orders is required")
	case opts.Audit == nil:
		return nil, xerrors.New("tradinghttp: Audit is required")
	case opts.Documents == nil:
		return nil, xerrors.New("tradinghttp: Documents is required")
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	if opts.Upload.MaxBytes <= 0 || len(opts.Upload.AllowedTypes) == 0 {
		opts.Upload = guard.DefaultUploadPolicy()
	}
	if opts.Limiter != nil {
		for _, name := range []string{ratelimit.PolicyAuth, ratelimit.PolicyAPI, ratelimit.PolicyTrading, ratelimit.PolicyAdmin} {
			if _, ok := opts.Limiter.Policy(name); !ok {
				return nil, xerrors.Newf("tradinghttp: rate-limit policy %q is not configured", name)
			}
		}
	}

	in := guard.NewInspector()
	in.OnBlocked = opts.Hooks.FilterBlocked
	return &API{opts: opts, inspector: in}, nil
}

// RegisterRoutes attaches the API endpoints to the router.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.With(
			api.limit(ratelimit.PolicyAuth),
			api.guard(false,
				guard.Field("email", guard.Required(), guard.String(), guard.Email()),
				guard.SecretField("password", guard.Required(), guard.String(), guard.MaxLen(128)),
			),
		).Post("/auth/login", api.HandleLogin)

		r.With(
			api.limit(ratelimit.PolicyAPI),
			api.guard(false,
				guard.Field("symbols", guard.Required(), guard.String(), guard.SymbolList(maxQuoteSymbols)),
			),
		).Get("/market/quotes", api.HandleQuotes)

		r.Route("/trading/orders", func(r chi.Router) {
			r.Use(api.limit(ratelimit.PolicyTrading), auth.RequireUser)
			r.With(api.guard(false)).Get("/", api.HandleListOrders)
			r.With(api.guard(false,
				guard.Field("symbol", guard.Required(), guard.String(), guard.Symbol()),
				guard.Field("side", guard.Required(), guard.OneOf(store.SideBuy, store.SideSell)),
				guard.Field("type", guard.Required(), guard.OneOf(store.TypeMarket, store.TypeLimit)),
				guard.Field("quantity", guard.Required(), guard.Positive()),
				guard.Field("price", guard.Positive()),
			)).Post("/", api.HandlePlaceOrder)
			r.With(api.guard(false,
				guard.Field("id", guard.Required(), guard.ID()),
			)).Delete("/{id}", api.HandleCancelOrder)
		})

		r.With(
			api.limit(ratelimit.PolicyAPI),
			auth.RequireUser,
			httpmw.MaxBody(api.opts.Upload.MaxBytes+api.opts.MaxBodyBytes),
			api.guard(true),
		).Post("/uploads/documents", api.HandleUploadDocument)

		r.Route("/admin", func(r chi.Router) {
			r.Use(api.limit(ratelimit.PolicyAdmin), auth.RequireRole(store.RoleAdmin))
			r.With(api.guard(false)).Get("/audit", api.HandleListAudit)
			r.With(api.guard(false,
				guard.Field("email", guard.Required(), guard.String(), guard.Email()),
				guard.SecretField("password", guard.Required(), guard.String(), guard.MinLen(minPasswordLen), guard.MaxLen(72)),
				guard.Field("role", guard.OneOf(store.RoleUser, store.RoleAdmin)),
			)).Post("/users", api.HandleCreateUser)
		})
	})
}

func (api *API) limit(policy string) httpmw.Middleware {
	if api.opts.Limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return api.opts.Limiter.Middleware(policy)
}

// guard builds the route pipeline: [upload] decode filter sanitize [validate].
func (api *API) guard(upload bool, rules ...guard.Rule) httpmw.Middleware {
	var stages []guard.Stage
	if upload {
		stages = append(stages, guard.Upload(api.opts.Upload))
	}
	stages = append(stages,
		guard.Decode(api.opts.MaxBodyBytes),
		guard.Filter(api.inspector),
		guard.Sanitize(),
	)
	if len(rules) > 0 {
		stages = append(stages, guard.Validate(rules...))
	}
	p := guard.MustPipeline(stages...)
	p.OnReject = api.opts.Hooks.GuardRejected
	return p.Middleware
}

func (api *API) internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	ctx := r.Context()
	log.FromContext(ctx).Error(ctx, err, msg)
	httpmw.WriteError(w, http.StatusInternalServerError, "Internal server error")
}

func fieldError(w http.ResponseWriter, field, msg string) {
	httpmw.WriteJSON(w, http.StatusBadRequest, httpmw.Envelope{
		Success: false,
		Message: "Validation failed",
		Errors:  []httpmw.FieldError{{Field: field, Message: field + " " + msg}},
	})
}

func hook(fn func(string), v string) {
	if fn != nil {
		fn(v)
	}
}
