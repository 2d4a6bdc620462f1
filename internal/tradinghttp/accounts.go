package tradinghttp

import (
	"errors"
	"net/http"

	"github.com/keithlinneman/tradedesk/internal/auth"
	"github.com/keithlinneman/tradedesk/internal/guard"
	"github.com/keithlinneman/tradedesk/internal/httpmw"
	"github.com/keithlinneman/tradedesk/internal/log"
	"github.com/keithlinneman/tradedesk/internal/store"
)

const minPasswordLen = 8

// HandleLogin exchanges email and password for a bearer token.
func (api *API) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := guard.PayloadFromContext(ctx)

	sess, err := api.opts.Accounts.Login(ctx, p.String("email"), p.String("password"))
	if errors.Is(err, auth.ErrInvalidCredentials) {
		hook(api.opts.Hooks.AuthFailure, "bad_credentials")
		log.FromContext(ctx).Info(ctx, "login rejected")
		httpmw.WriteError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if err != nil {
		api.internalError(w, r, err, "login failed")
		return
	}

	log.FromContext(ctx).Info(ctx, "login succeeded", "user.id", sess.User.ID)
	httpmw.WriteJSON(w, http.StatusOK, httpmw.Envelope{
		Success: true,
		Message: "Login successful",
		Data:    sess,
	})
}

// HandleCreateUser lets an admin create an account. Role defaults to user.
func (api *API) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := guard.PayloadFromContext(ctx)

	role := p.String("role")
	if role == "" {
		role = store.RoleUser
	}
	u, err := api.opts.Accounts.Register(ctx, p.String("email"), p.String("password"), role)
	if errors.Is(err, store.ErrConflict) {
		httpmw.WriteError(w, http.StatusConflict, "Email already registered")
		return
	}
	if err != nil {
		api.internalError(w, r, err, "create user failed")
		return
	}

	log.FromContext(ctx).Info(ctx, "user created", "new_user.id", u.ID, "new_user.role", u.Role)
	httpmw.WriteJSON(w, http.StatusCreated, httpmw.Envelope{
		Success: true,
		Message: "User created",
		Data:    u,
	})
}
