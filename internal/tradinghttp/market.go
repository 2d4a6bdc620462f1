package tradinghttp

import (
	"net/http"

	"github.com/keithlinneman/tradedesk/internal/guard"
	"github.com/keithlinneman/tradedesk/internal/httpmw"
)

const maxQuoteSymbols = 20

// HandleQuotes returns quotes for ?symbols=AAPL,MSFT in request order.
// Unlisted symbols are left out of the result.
func (api *API) HandleQuotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	symbols := guard.SplitSymbols(guard.PayloadFromContext(ctx).String("symbols"))

	quotes, err := api.opts.Market.Quotes(ctx, symbols)
	if err != nil {
		api.internalError(w, r, err, "load quotes failed")
		return
	}
	httpmw.WriteData(w, http.StatusOK, quotes)
}
