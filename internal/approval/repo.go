package approval

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// dbStore is the Postgres-backed store.
type dbStore struct {
	db *sql.DB
}

func (r dbStore) insert(ctx context.Context, p PendingResponse) (PendingResponse, error) {
	return insertPending(ctx, r.db, p)
}

func (r dbStore) setEmailID(ctx context.Context, id, emailID string, now time.Time) error {
	return setApprovalEmailID(ctx, r.db, id, emailID, now)
}

func (r dbStore) transition(ctx context.Context, id string, to Status, now time.Time) (PendingResponse, error) {
	return transitionPending(ctx, r.db, id, to, now)
}

func (r dbStore) get(ctx context.Context, id string) (PendingResponse, error) {
	return getPending(ctx, r.db, id)
}

func (r dbStore) detail(ctx context.Context, id string) (Detail, error) {
	return getDetail(ctx, r.db, id)
}

func (r dbStore) listOpen(ctx context.Context) ([]Detail, error) {
	return listOpenDetails(ctx, r.db)
}

func (r dbStore) listByConversation(ctx context.Context, conversationID string) ([]PendingResponse, error) {
	return listByConversation(ctx, r.db, conversationID)
}

func (r dbStore) countOpen(ctx context.Context) (int, error) {
	return countOpen(ctx, r.db)
}

const pendingCols = `
id, conversation_id, original_message, suggested_response, status,
COALESCE(approval_email_id, ''), responded_at, created_at, updated_at
`

func scanPending(row interface{ Scan(dest ...any) error }) (PendingResponse, error) {
	var p PendingResponse
	if err := row.Scan(
		&p.ID,
		&p.ConversationID,
		&p.OriginalMessage,
		&p.SuggestedResponse,
		&p.Status,
		&p.ApprovalEmailID,
		&p.RespondedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return PendingResponse{}, err
	}
	return p, nil
}

func insertPending(ctx context.Context, db *sql.DB, p PendingResponse) (PendingResponse, error) {
	q := `
INSERT INTO pending_responses (id, conversation_id, original_message, suggested_response, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, 'pending', $5, $5)
RETURNING ` + pendingCols
	return scanPending(db.QueryRowContext(ctx, q,
		p.ID,
		p.ConversationID,
		p.OriginalMessage,
		p.SuggestedResponse,
		p.CreatedAt,
	))
}

func setApprovalEmailID(ctx context.Context, db *sql.DB, id, emailID string, now time.Time) error {
	q := `UPDATE pending_responses SET approval_email_id = $2, updated_at = $3 WHERE id = $1`
	res, err := db.ExecContext(ctx, q, id, emailID, now)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// transitionPending resolves a pending row to a terminal status. The status
// guard makes the update atomic: a second verdict, or a verdict racing the
// reply poller, affects zero rows and is reported as ErrNotFound.
func transitionPending(ctx context.Context, db *sql.DB, id string, to Status, now time.Time) (PendingResponse, error) {
	q := `
UPDATE pending_responses
SET status = $2, responded_at = $3, updated_at = $3
WHERE id = $1 AND status = 'pending'
RETURNING ` + pendingCols
	p, err := scanPending(db.QueryRowContext(ctx, q, id, to, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PendingResponse{}, ErrNotFound
		}
		return PendingResponse{}, err
	}
	return p, nil
}

func getPending(ctx context.Context, db *sql.DB, id string) (PendingResponse, error) {
	q := `SELECT ` + pendingCols + ` FROM pending_responses WHERE id = $1`
	p, err := scanPending(db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PendingResponse{}, ErrNotFound
		}
		return PendingResponse{}, err
	}
	return p, nil
}

const detailQuery = `
SELECT p.id, p.conversation_id, p.original_message, p.suggested_response, p.status,
       COALESCE(p.approval_email_id, ''), p.responded_at, p.created_at, p.updated_at,
       v.channel, c.id, COALESCE(c.name, ''), COALESCE(c.phone, ''), COALESCE(c.email, '')
FROM pending_responses p
JOIN conversations v ON v.id = p.conversation_id
JOIN contacts c ON c.id = v.contact_id
`

func scanDetail(row interface{ Scan(dest ...any) error }) (Detail, error) {
	var d Detail
	if err := row.Scan(
		&d.ID,
		&d.ConversationID,
		&d.OriginalMessage,
		&d.SuggestedResponse,
		&d.Status,
		&d.ApprovalEmailID,
		&d.RespondedAt,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.Channel,
		&d.ContactID,
		&d.ContactName,
		&d.ContactPhone,
		&d.ContactEmail,
	); err != nil {
		return Detail{}, err
	}
	return d, nil
}

func listOpenDetails(ctx context.Context, db *sql.DB) ([]Detail, error) {
	q := detailQuery + `
WHERE p.status = 'pending'
ORDER BY p.created_at DESC
`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Detail
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func getDetail(ctx context.Context, db *sql.DB, id string) (Detail, error) {
	q := detailQuery + `WHERE p.id = $1`
	d, err := scanDetail(db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Detail{}, ErrNotFound
		}
		return Detail{}, err
	}
	return d, nil
}

func listByConversation(ctx context.Context, db *sql.DB, conversationID string) ([]PendingResponse, error) {
	q := `
SELECT ` + pendingCols + `
FROM pending_responses
WHERE conversation_id = $1
ORDER BY created_at DESC
`
	rows, err := db.QueryContext(ctx, q, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingResponse
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func countOpen(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_responses WHERE status = 'pending'`).Scan(&n)
	return n, err
}
