package httpmw

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/keithlinneman/tradedesk/internal/log"
	"github.com/keithlinneman/tradedesk/internal/xerrors"
)

// Recover turns a handler panic into a 500 envelope and an error log line.
// onPanic, when set, runs after logging (used for the panic counter).
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
func Recover(L log.Logger, onPanic func()) Middleware {
	if L == nil {
		L = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}
				var err error
				if e, ok := rec.(error); ok {
					err = xerrors.Wrap(e, "panic")
				} else {
					err = xerrors.Newf("panic: %v", rec)
				}
				ctx := r.Context()
				L.With(
					"request_id", RequestIDFromContext(ctx),
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
				).Error(ctx, err, "httpserver panic recovered", "panic_type", fmt.Sprintf("%T", rec))
				if onPanic != nil {
					onPanic()
				}
				WriteError(w, http.StatusInternalServerError, "Internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
