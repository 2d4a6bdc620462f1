package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/keithlinneman/tradedesk/internal/xerrors"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"

	TypeMarket = "market"
	TypeLimit  = "limit"

	StatusOpen      = "open"
	StatusFilled    = "filled"
	StatusCancelled = "cancelled"
)

// ErrUnknownInstrument is returned when an order names a symbol that is not
// in the instruments table.
var ErrUnknownInstrument = errors.New("store: unknown instrument")

type Order struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Type      string    `json:"type"`
	Quantity  float64   `json:"quantity"`
	Price     *float64  `json:"price,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const orderColumns = `id, user_id, symbol, side, type, quantity, price, status, created_at, updated_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanOrder(row rowScanner) (Order, error) {
	var (
		o                Order
		price            sql.NullFloat64
		created, updated int64
	)
	if err := row.Scan(&o.ID, &o.UserID, &o.Symbol, &o.Side, &o.Type, &o.Quantity, &price, &o.Status, &created, &updated); err != nil {
		return Order{}, err
	}
	if price.Valid {
		p := price.Float64
		o.Price = &p
	}
	o.CreatedAt = fromMillis(created)
	o.UpdatedAt = fromMillis(updated)
	return o, nil
}

// CreateOrder stores o as a new open order and returns it with its id and
// timestamps filled in. Market orders carry no price.
func (s *Store) CreateOrder(ctx context.Context, o Order) (Order, error) {
	now := s.now().UTC().Truncate(time.Millisecond)
	o.Status = StatusOpen
	o.CreatedAt, o.UpdatedAt = now, now
	if o.Type == TypeMarket {
		o.Price = nil
	}

	var price sql.NullFloat64
	if o.Price != nil {
		price = sql.NullFloat64{Float64: *o.Price, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (user_id, symbol, side, type, quantity, price, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.UserID, o.Symbol, o.Side, o.Type, o.Quantity, price, o.Status, toMillis(now), toMillis(now),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return Order{}, ErrUnknownInstrument
		}
		return Order{}, xerrors.Wrap(err, "insert order")
	}
	if o.ID, err = res.LastInsertId(); err != nil {
		return Order{}, xerrors.Wrap(err, "order id")
	}
	return o, nil
}

// ListOrders returns the user's orders, newest first.
func (s *Store) ListOrders(ctx context.Context, userID int64) ([]Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, xerrors.Wrap(err, "query orders")
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, xerrors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(err, "iterate orders")
	}
	return out, nil
}

// CancelOrder cancels one of the user's open orders. Orders owned by someone
// else are reported as ErrNotFound; orders no longer open as ErrConflict.
func (s *Store) CancelOrder(ctx context.Context, userID, id int64) (Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Order{}, xerrors.Wrap(err, "begin cancel")
	}
	defer func() { _ = tx.Rollback() }()

	o, err := scanOrder(tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ? AND user_id = ?`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, xerrors.Wrap(err, "load order")
	}
	if o.Status != StatusOpen {
		return o, ErrConflict
	}

	o.Status = StatusCancelled
	o.UpdatedAt = s.now().UTC().Truncate(time.Millisecond)
	if _, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`,
		o.Status, toMillis(o.UpdatedAt), o.ID,
	); err != nil {
		return Order{}, xerrors.Wrap(err, "update order")
	}
	if err := tx.Commit(); err != nil {
		return Order{}, xerrors.Wrap(err, "commit cancel")
	}
	return o, nil
}
