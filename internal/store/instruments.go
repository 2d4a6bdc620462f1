package store

import (
	"context"
	"strings"
	"time"

	"github.com/keithlinneman/tradedesk/internal/xerrors"
)

type Quote struct {
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	ChangePct float64   `json:"changePct"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Quotes returns the quotes for symbols in the order requested. Unknown
// symbols are omitted and duplicates collapse to one entry.
func (s *Store) Quotes(ctx context.Context, symbols []string) ([]Quote, error) {
	if len(symbols) == 0 {
		return []Quote{}, nil
	}
	args := make([]any, len(symbols))
	for i, sym := range symbols {
		args[i] = sym
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, name, price, change_pct, updated_at FROM instruments
WHERE symbol IN (?`+strings.Repeat(", ?", len(symbols)-1)+`)`,
		args...,
	)
	if err != nil {
		return nil, xerrors.Wrap(err, "query quotes")
	}
	defer rows.Close()

	found := make(map[string]Quote, len(symbols))
	for rows.Next() {
		var (
			q       Quote
			updated int64
		)
		if err := rows.Scan(&q.Symbol, &q.Name, &q.Price, &q.ChangePct, &updated); err != nil {
			return nil, xerrors.Wrap(err, "scan quote")
		}
		q.UpdatedAt = fromMillis(updated)
		found[q.Symbol] = q
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(err, "iterate quotes")
	}

	out := make([]Quote, 0, len(found))
	for _, sym := range symbols {
		if q, ok := found[sym]; ok {
			out = append(out, q)
			delete(found, sym)
		}
	}
	return out, nil
}
