package store

import (
	"context"

	"github.com/keithlinneman/tradedesk/internal/guard"
	"github.com/keithlinneman/tradedesk/internal/xerrors"
)

var _ guard.AuditSink = (*Store)(nil)

type AuditRecord struct {
	ID int64 `json:"id"`
	guard.AuditEntry
}

func (s *Store) RecordAudit(ctx context.Context, e guard.AuditEntry) error {
	at := e.Time
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (at, method, path, user_id, client_ip, status, request_id)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		toMillis(at), e.Method, e.Path, e.UserID, e.ClientIP, e.Status, e.RequestID,
	)
	return xerrors.Wrap(err, "insert audit entry")
}

// ListAudit returns up to limit entries, newest first. beforeID > 0 pages
// backwards from that id.
func (s *Store) ListAudit(ctx context.Context, limit int, beforeID int64) ([]AuditRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT id, at, method, path, user_id, client_ip, status, request_id FROM audit_log`
	args := []any{}
	if beforeID > 0 {
		query += ` WHERE id < ?`
		args = append(args, beforeID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(err, "query audit log")
	}
	defer rows.Close()

	out := []AuditRecord{}
	for rows.Next() {
		var (
			r  AuditRecord
			at int64
		)
		if err := rows.Scan(&r.ID, &at, &r.Method, &r.Path, &r.UserID, &r.ClientIP, &r.Status, &r.RequestID); err != nil {
			return nil, xerrors.Wrap(err, "scan audit entry")
		}
		r.Time = fromMillis(at)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(err, "iterate audit log")
	}
	return out, nil
}
