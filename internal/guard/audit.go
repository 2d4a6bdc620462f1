package guard

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/keithlinneman/tradedesk/internal/httpmw"
	"github.com/keithlinneman/tradedesk/internal/log"
)

// AuditEntry is one state-changing API request.
type AuditEntry struct {
	Time      time.Time `json:"time"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	UserID    string    `json:"userId"`
	ClientIP  string    `json:"clientIp"`
	Status    int       `json:"status"`
	RequestID string    `json:"requestId"`
}

// AuditSink persists audit entries.
type AuditSink interface {
	RecordAudit(ctx context.Context, e AuditEntry) error
}

type AuditOptions struct {
	// Prefix selects audited paths; defaults to "/api".
	Prefix string
	Sink   AuditSink
	// UserID resolves the authenticated user, "" for anonymous.
	UserID func(ctx context.Context) string
	// OnRecorded receives "ok" or "sink_error" for each entry.
	OnRecorded func(outcome string)
	Now        func() time.Time
}

// Audit records every non-GET request under the prefix. The entry is written
// when the handler first writes its response, so the status is known and
// the record exists before the client sees the reply. A handler that panics
// before writing is recorded as 500 and the panic is re-raised for Recover.
// Sink failures are logged and never change the response.
func Audit(opts AuditOptions) httpmw.Middleware {
	if opts.Prefix == "" {
		opts.Prefix = "/api"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || !underPrefix(r.URL.Path, opts.Prefix) {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			rec := httpmw.NewStatusRecorder(w)
			rec.OnFirstWrite = func(status int) {
				opts.record(ctx, r, status)
			}
			defer func() {
				if p := recover(); p != nil {
					if rec.Status() == 0 {
						opts.record(ctx, r, http.StatusInternalServerError)
					}
					panic(p)
				}
			}()
			next.ServeHTTP(rec, r)
			if rec.Status() == 0 {
				// handler wrote nothing; net/http will send 200
				rec.WriteHeader(http.StatusOK)
			}
		})
	}
}

func underPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/")
}

func (o AuditOptions) record(ctx context.Context, r *http.Request, status int) {
	userID := ""
	if o.UserID != nil {
		userID = o.UserID(ctx)
	}
	if userID == "" {
		userID = "anonymous"
	}
	e := AuditEntry{
		Time:      o.Now().UTC(),
		Method:    r.Method,
		Path:      r.URL.Path,
		UserID:    userID,
		ClientIP:  httpmw.ClientIPFromContext(ctx),
		Status:    status,
		RequestID: httpmw.RequestIDFromContext(ctx),
	}
	L := log.FromContext(ctx)
	L.Info(ctx, "audit",
		"audit.time", e.Time.Format(time.RFC3339Nano),
		"audit.method", e.Method,
		"audit.path", e.Path,
		"audit.user_id", e.UserID,
		"audit.client_ip", e.ClientIP,
		"audit.status", e.Status,
		"audit.request_id", e.RequestID,
	)

	outcome := "ok"
	if o.Sink != nil {
		if err := o.Sink.RecordAudit(context.WithoutCancel(ctx), e); err != nil {
			outcome = "sink_error"
			L.Error(ctx, err, "audit sink failed", "audit.request_id", e.RequestID)
		}
	}
	if o.OnRecorded != nil {
		o.OnRecorded(outcome)
	}
}
