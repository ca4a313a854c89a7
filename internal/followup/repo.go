package followup

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"chattie/internal/conversation"
	"chattie/pkg/utils"
)

// dueConversation is a conversation owed a reminder, joined with the contact
// details needed to draft it.
type dueConversation struct {
	Conversation conversation.Conversation
	ContactName  string
	ContactPhone string
	ContactEmail string
}

func (d dueConversation) contactLabel() string {
	if d.ContactName != "" {
		return d.ContactName
	}
	if d.ContactPhone != "" {
		return d.ContactPhone
	}
	return d.Conversation.ContactID
}

type dbStore struct {
	db *sql.DB
}

// mark locks the row, advances the attempt counter and writes the resulting
// schedule. Completed conversations are not eligible and return ErrNotFound.
func (r dbStore) mark(ctx context.Context, id string, now time.Time) (conversation.Conversation, error) {
	var v conversation.Conversation
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		var count int
		sel := `
SELECT follow_up_count FROM conversations
WHERE id = $1 AND status IN ('active', 'paused')
FOR UPDATE
`
		if err := tx.QueryRowContext(ctx, sel, id).Scan(&count); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		st := advanceFollowUp(count, now)
		upd := `
UPDATE conversations
SET follow_up_count = $2,
    needs_follow_up = $3,
    next_follow_up_at = $4,
    last_follow_up_at = $5,
    status = CASE WHEN $6 THEN 'completed' ELSE status END,
    updated_at = $5
WHERE id = $1
RETURNING id, contact_id, channel, status, follow_up_count, needs_follow_up,
          last_follow_up_at, next_follow_up_at, created_at, updated_at
`
		return tx.QueryRowContext(ctx, upd, id, st.Count, st.Needs, st.Next, now, st.Completed).Scan(
			&v.ID,
			&v.ContactID,
			&v.Channel,
			&v.Status,
			&v.FollowUpCount,
			&v.NeedsFollowUp,
			&v.LastFollowUpAt,
			&v.NextFollowUpAt,
			&v.CreatedAt,
			&v.UpdatedAt,
		)
	})
	if err != nil {
		return conversation.Conversation{}, err
	}
	return v, nil
}

func (r dbStore) unmark(ctx context.Context, id string, now time.Time) error {
	q := `
UPDATE conversations
SET needs_follow_up = FALSE, next_follow_up_at = NULL, updated_at = $2
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q, id, now)
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

func (r dbStore) listDue(ctx context.Context, now time.Time) ([]dueConversation, error) {
	q := `
SELECT v.id, v.contact_id, v.channel, v.status, v.follow_up_count, v.needs_follow_up,
       v.last_follow_up_at, v.next_follow_up_at, v.created_at, v.updated_at,
       COALESCE(c.name, ''), COALESCE(c.phone, ''), COALESCE(c.email, '')
FROM conversations v
JOIN contacts c ON c.id = v.contact_id
WHERE v.needs_follow_up AND v.next_follow_up_at <= $1 AND v.status <> 'completed'
ORDER BY v.next_follow_up_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dueConversation
	for rows.Next() {
		var d dueConversation
		if err := rows.Scan(
			&d.Conversation.ID,
			&d.Conversation.ContactID,
			&d.Conversation.Channel,
			&d.Conversation.Status,
			&d.Conversation.FollowUpCount,
			&d.Conversation.NeedsFollowUp,
			&d.Conversation.LastFollowUpAt,
			&d.Conversation.NextFollowUpAt,
			&d.Conversation.CreatedAt,
			&d.Conversation.UpdatedAt,
			&d.ContactName,
			&d.ContactPhone,
			&d.ContactEmail,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
