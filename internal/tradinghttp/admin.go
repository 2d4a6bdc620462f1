package tradinghttp

import (
	"net/http"
	"strconv"

	"github.com/keithlinneman/tradedesk/internal/guard"
	"github.com/keithlinneman/tradedesk/internal/httpmw"
	"github.com/keithlinneman/tradedesk/internal/store"
)

type AuditPage struct {
	Entries []store.AuditRecord `json:"entries"`
	// NextBefore pages further back; 0 when this is the last page.
	NextBefore int64 `json:"nextBefore,omitempty"`
}

// HandleListAudit pages through the audit trail, newest first.
// Query: limit (1-500, default 100), before (entry id).
func (api *API) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := guard.PayloadFromContext(ctx)

	limit := 100
	if s := p.String("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 500 {
			fieldError(w, "limit", "must be between 1 and 500")
			return
		}
		limit = n
	}
	var before int64
	if s := p.String("before"); s != "" {
		id, ok := guard.ParseID(s)
		if !ok {
			fieldError(w, "before", "must be a positive integer")
			return
		}
		before = id
	}

	entries, err := api.opts.Audit.ListAudit(ctx, limit, before)
	if err != nil {
		api.internalError(w, r, err, "list audit failed")
		return
	}
	page := AuditPage{Entries: entries}
	if len(entries) == limit {
		page.NextBefore = entries[len(entries)-1].ID
	}
	httpmw.WriteData(w, http.StatusOK, page)
}
