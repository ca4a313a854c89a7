package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const contactCols = `
id, COALESCE(phone, ''), COALESCE(email, ''), COALESCE(name, ''),
COALESCE(garden_size, ''), garden_photos, custom_fields, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (Contact, error) {
	var c Contact
	var photos, fields []byte
	if err := row.Scan(
		&c.ID,
		&c.Phone,
		&c.Email,
		&c.Name,
		&c.GardenSize,
		&photos,
		&fields,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return Contact{}, err
	}
	if err := json.Unmarshal(photos, &c.GardenPhotos); err != nil {
		return Contact{}, fmt.Errorf("decode garden_photos: %w", err)
	}
	if err := json.Unmarshal(fields, &c.CustomFields); err != nil {
		return Contact{}, fmt.Errorf("decode custom_fields: %w", err)
	}
	return c, nil
}

func upsertContactByPhone(ctx context.Context, db *sql.DB, id, phone, name string, now time.Time) (Contact, error) {
	// Name is only overwritten when the webhook actually carries one.
	q := `
INSERT INTO contacts (id, phone, name, created_at, updated_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $4)
ON CONFLICT (phone)
DO UPDATE SET name = COALESCE(NULLIF(EXCLUDED.name, ''), contacts.name),
              updated_at = EXCLUDED.updated_at
RETURNING ` + contactCols
	return scanContact(db.QueryRowContext(ctx, q, id, phone, name, now))
}

func findContactByEmail(ctx context.Context, tx *sql.Tx, email string) (Contact, bool, error) {
	q := `SELECT ` + contactCols + ` FROM contacts WHERE email = $1 LIMIT 1`
	c, err := scanContact(tx.QueryRowContext(ctx, q, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Contact{}, false, nil
		}
		return Contact{}, false, err
	}
	return c, true, nil
}

func insertEmailContact(ctx context.Context, tx *sql.Tx, id, email, name string, now time.Time) (Contact, error) {
	q := `
INSERT INTO contacts (id, email, name, created_at, updated_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $4)
RETURNING ` + contactCols
	return scanContact(tx.QueryRowContext(ctx, q, id, email, name, now))
}

func getContact(ctx context.Context, db *sql.DB, id string) (Contact, error) {
	q := `SELECT ` + contactCols + ` FROM contacts WHERE id = $1`
	c, err := scanContact(db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, err
	}
	return c, nil
}

func listContacts(ctx context.Context, db *sql.DB) ([]ContactOverview, error) {
	q := `
SELECT c.id, COALESCE(c.phone, ''), COALESCE(c.email, ''), COALESCE(c.name, ''),
       COALESCE(c.garden_size, ''), c.garden_photos, c.custom_fields, c.created_at, c.updated_at,
       COUNT(DISTINCT v.id), COUNT(m.id)
FROM contacts c
LEFT JOIN conversations v ON v.contact_id = c.id
LEFT JOIN messages m ON m.contact_id = c.id
GROUP BY c.id
ORDER BY c.created_at DESC
`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ContactOverview
	for rows.Next() {
		var o ContactOverview
		var photos, fields []byte
		if err := rows.Scan(
			&o.ID,
			&o.Phone,
			&o.Email,
			&o.Name,
			&o.GardenSize,
			&photos,
			&fields,
			&o.CreatedAt,
			&o.UpdatedAt,
			&o.ConversationCount,
			&o.MessageCount,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(photos, &o.GardenPhotos); err != nil {
			return nil, fmt.Errorf("decode garden_photos: %w", err)
		}
		if err := json.Unmarshal(fields, &o.CustomFields); err != nil {
			return nil, fmt.Errorf("decode custom_fields: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func applyContactInfo(ctx context.Context, db *sql.DB, id string, info CollectedInfo, now time.Time) error {
	extra := info.Extra
	if extra == nil {
		extra = map[string]string{}
	}
	raw, err := json.Marshal(extra)
	if err != nil {
		return err
	}
	// Collected values never blank out what is already known.
	q := `
UPDATE contacts
SET name          = COALESCE(NULLIF($2, ''), name),
    email         = COALESCE(NULLIF($3, ''), email),
    phone         = COALESCE(NULLIF($4, ''), phone),
    garden_size   = COALESCE(NULLIF($5, ''), garden_size),
    custom_fields = custom_fields || $6::jsonb,
    updated_at    = $7
WHERE id = $1
`
	res, err := db.ExecContext(ctx, q, id, info.Name, info.Email, info.Phone, info.GardenSize, raw, now)
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

func appendContactPhoto(ctx context.Context, db *sql.DB, id, url string, now time.Time) error {
	q := `
UPDATE contacts
SET garden_photos = garden_photos || to_jsonb($2::text),
    updated_at = $3
WHERE id = $1
`
	res, err := db.ExecContext(ctx, q, id, url, now)
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

func deleteContact(ctx context.Context, db *sql.DB, id string) error {
	// Conversations, messages and pending rows go with it via FK cascade.
	res, err := db.ExecContext(ctx, `DELETE FROM contacts WHERE id = $1`, id)
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

const conversationCols = `
id, contact_id, channel, status, follow_up_count, needs_follow_up,
last_follow_up_at, next_follow_up_at, created_at, updated_at
`

func scanConversation(row rowScanner) (Conversation, error) {
	var v Conversation
	if err := row.Scan(
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
	); err != nil {
		return Conversation{}, err
	}
	return v, nil
}

func findActiveConversation(ctx context.Context, tx *sql.Tx, contactID string, ch Channel) (Conversation, bool, error) {
	q := `
SELECT ` + conversationCols + `
FROM conversations
WHERE contact_id = $1 AND channel = $2 AND status = 'active'
LIMIT 1
`
	v, err := scanConversation(tx.QueryRowContext(ctx, q, contactID, ch))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, false, nil
		}
		return Conversation{}, false, err
	}
	return v, true, nil
}

func insertConversation(ctx context.Context, tx *sql.Tx, id, contactID string, ch Channel, now time.Time) (Conversation, error) {
	q := `
INSERT INTO conversations (id, contact_id, channel, status, created_at, updated_at)
VALUES ($1, $2, $3, 'active', $4, $4)
RETURNING ` + conversationCols
	return scanConversation(tx.QueryRowContext(ctx, q, id, contactID, ch, now))
}

func getConversation(ctx context.Context, db *sql.DB, id string) (Conversation, error) {
	q := `SELECT ` + conversationCols + ` FROM conversations WHERE id = $1`
	v, err := scanConversation(db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, err
	}
	return v, nil
}

// transitionConversation flips status only from the expected state.
// Zero rows means the conversation is missing or not in that state.
func transitionConversation(ctx context.Context, db *sql.DB, id string, from, to Status, now time.Time) (Conversation, error) {
	q := `
UPDATE conversations
SET status = $3, updated_at = $4
WHERE id = $1 AND status = $2
RETURNING ` + conversationCols
	v, err := scanConversation(db.QueryRowContext(ctx, q, id, from, to, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, err
	}
	return v, nil
}

const messageCols = `
id, conversation_id, contact_id, direction, content, COALESCE(provider_message_id, ''), created_at
`

func scanMessage(row rowScanner) (Message, error) {
	var m Message
	if err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.ContactID,
		&m.Direction,
		&m.Content,
		&m.ProviderMessageID,
		&m.CreatedAt,
	); err != nil {
		return Message{}, err
	}
	return m, nil
}

func insertMessage(ctx context.Context, db *sql.DB, m Message) (Message, error) {
	q := `
INSERT INTO messages (id, conversation_id, contact_id, direction, content, provider_message_id, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
RETURNING ` + messageCols
	return scanMessage(db.QueryRowContext(ctx, q,
		m.ID,
		m.ConversationID,
		m.ContactID,
		m.Direction,
		m.Content,
		m.ProviderMessageID,
		m.CreatedAt,
	))
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// recentMessages returns the last n messages in chronological order.
func recentMessages(ctx context.Context, q queryer, conversationID string, n int) ([]Message, error) {
	query := `
SELECT * FROM (
  SELECT ` + messageCols + `
  FROM messages
  WHERE conversation_id = $1
  ORDER BY created_at DESC
  LIMIT $2
) latest
ORDER BY created_at ASC
`
	rows, err := q.QueryContext(ctx, query, conversationID, n)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func listMessages(ctx context.Context, db *sql.DB, conversationID string) ([]Message, error) {
	q := `
SELECT ` + messageCols + `
FROM messages
WHERE conversation_id = $1
ORDER BY created_at ASC
`
	rows, err := db.QueryContext(ctx, q, conversationID)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func countStats(ctx context.Context, db *sql.DB, dayStart time.Time) (Stats, error) {
	q := `
SELECT
  (SELECT COUNT(*) FROM contacts),
  (SELECT COUNT(*) FROM conversations),
  (SELECT COUNT(*) FROM messages WHERE created_at >= $1)
`
	var s Stats
	if err := db.QueryRowContext(ctx, q, dayStart).Scan(
		&s.TotalContacts,
		&s.TotalConversations,
		&s.TodayMessages,
	); err != nil {
		return Stats{}, err
	}
	return s, nil
}
