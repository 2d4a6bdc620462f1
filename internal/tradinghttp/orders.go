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

// HandleListOrders lists the caller's orders, newest first.
func (api *API) HandleListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pr, _ := auth.PrincipalFromContext(ctx)

	orders, err := api.opts.Orders.ListOrders(ctx, pr.UserID)
	if err != nil {
		api.internalError(w, r, err, "list orders failed")
		return
	}
	httpmw.WriteData(w, http.StatusOK, orders)
}

// HandlePlaceOrder accepts a market or limit order. Limit orders need a
// price; a price sent with a market order is ignored.
func (api *API) HandlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pr, _ := auth.PrincipalFromContext(ctx)
	p := guard.PayloadFromContext(ctx)

	qv, _ := p.Lookup("quantity")
	qty, _ := guard.Number(qv)
	o := store.Order{
		UserID:   pr.UserID,
		Symbol:   p.String("symbol"),
		Side:     p.String("side"),
		Type:     p.String("type"),
		Quantity: qty,
	}
	if o.Type == store.TypeLimit {
		pv, ok := p.Lookup("price")
		price, isNum := guard.Number(pv)
		if !ok || !isNum {
			fieldError(w, "price", "is required for limit orders")
			return
		}
		o.Price = &price
	}

	placed, err := api.opts.Orders.CreateOrder(ctx, o)
	if errors.Is(err, store.ErrUnknownInstrument) {
		fieldError(w, "symbol", "is not a listed instrument")
		return
	}
	if err != nil {
		api.internalError(w, r, err, "place order failed")
		return
	}

	hook(api.opts.Hooks.OrderPlaced, placed.Side)
	log.FromContext(ctx).Info(ctx, "order placed",
		"order.id", placed.ID,
		"order.side", placed.Side,
		"order.type", placed.Type,
	)
	httpmw.WriteJSON(w, http.StatusCreated, httpmw.Envelope{
		Success: true,
		Message: "Order placed",
		Data:    placed,
	})
}

// HandleCancelOrder cancels one of the caller's open orders. Orders owned by
// someone else are reported as not found.
func (api *API) HandleCancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pr, _ := auth.PrincipalFromContext(ctx)
	raw, _ := guard.PayloadFromContext(ctx).Lookup("id")
	id, _ := guard.ParseID(raw)

	o, err := api.opts.Orders.CancelOrder(ctx, pr.UserID, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		httpmw.WriteError(w, http.StatusNotFound, "Order not found")
		return
	case errors.Is(err, store.ErrConflict):
		httpmw.WriteError(w, http.StatusConflict, "Only open orders can be cancelled")
		return
	case err != nil:
		api.internalError(w, r, err, "cancel order failed")
		return
	}

	log.FromContext(ctx).Info(ctx, "order cancelled", "order.id", o.ID)
	httpmw.WriteJSON(w, http.StatusOK, httpmw.Envelope{
		Success: true,
		Message: "Order cancelled",
		Data:    o,
	})
}
