package business

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const configCols = `
id, business_name, business_description, COALESCE(website_url, ''),
COALESCE(owner_name, ''), owner_email, COALESCE(owner_phone, ''),
COALESCE(custom_instructions, ''), tone, language, collect_fields,
response_mode, COALESCE(greeting_message, ''), COALESCE(closing_message, ''),
scraped_content, scraped_at, created_at, updated_at
`

func scanConfig(row interface{ Scan(dest ...any) error }) (Config, error) {
	var c Config
	var fields []byte
	var scraped []byte
	if err := row.Scan(
		&c.ID,
		&c.BusinessName,
		&c.BusinessDescription,
		&c.WebsiteURL,
		&c.OwnerName,
		&c.OwnerEmail,
		&c.OwnerPhone,
		&c.CustomInstructions,
		&c.Tone,
		&c.Language,
		&fields,
		&c.ResponseMode,
		&c.GreetingMessage,
		&c.ClosingMessage,
		&scraped,
		&c.ScrapedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return Config{}, err
	}
	if err := json.Unmarshal(fields, &c.CollectFields); err != nil {
		return Config{}, fmt.Errorf("decode collect_fields: %w", err)
	}
	if len(scraped) > 0 {
		c.ScrapedContent = json.RawMessage(scraped)
	}
	return c, nil
}

func findFirstConfig(ctx context.Context, tx *sql.Tx) (Config, bool, error) {
	q := `SELECT ` + configCols + ` FROM business_config ORDER BY created_at ASC LIMIT 1`
	c, err := scanConfig(tx.QueryRowContext(ctx, q))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Config{}, false, nil
		}
		return Config{}, false, err
	}
	return c, true, nil
}

func insertDefaultConfig(ctx context.Context, tx *sql.Tx, id, name, ownerEmail string, mode ResponseMode, now time.Time) (Config, error) {
	q := `
INSERT INTO business_config (id, business_name, owner_email, response_mode, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
RETURNING ` + configCols
	return scanConfig(tx.QueryRowContext(ctx, q, id, name, ownerEmail, mode, now))
}

func updateConfig(ctx context.Context, db *sql.DB, id string, u Update, now time.Time) (Config, error) {
	var fields []byte
	if u.CollectFields != nil {
		raw, err := json.Marshal(u.CollectFields)
		if err != nil {
			return Config{}, err
		}
		fields = raw
	}
	q := `
UPDATE business_config
SET business_name        = COALESCE($2, business_name),
    business_description = COALESCE($3, business_description),
    website_url          = COALESCE($4, website_url),
    owner_name           = COALESCE($5, owner_name),
    owner_email          = COALESCE($6, owner_email),
    owner_phone          = COALESCE($7, owner_phone),
    custom_instructions  = COALESCE($8, custom_instructions),
    tone                 = COALESCE($9, tone),
    language             = COALESCE($10, language),
    collect_fields       = COALESCE($11, collect_fields),
    response_mode        = COALESCE($12, response_mode),
    greeting_message     = COALESCE($13, greeting_message),
    closing_message      = COALESCE($14, closing_message),
    updated_at           = $15
WHERE id = $1
RETURNING ` + configCols
	c, err := scanConfig(db.QueryRowContext(ctx, q,
		id,
		u.BusinessName,
		u.BusinessDescription,
		u.WebsiteURL,
		u.OwnerName,
		u.OwnerEmail,
		u.OwnerPhone,
		u.CustomInstructions,
		u.Tone,
		u.Language,
		fields,
		u.ResponseMode,
		u.GreetingMessage,
		u.ClosingMessage,
		now,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Config{}, ErrNotFound
		}
		return Config{}, err
	}
	return c, nil
}

func saveScrapedSite(ctx context.Context, db *sql.DB, id string, site ScrapedSite, websiteURL string, now time.Time) (Config, error) {
	raw, err := json.Marshal(site)
	if err != nil {
		return Config{}, err
	}
	q := `
UPDATE business_config
SET scraped_content      = $2,
    scraped_at           = $3,
    website_url          = $4,
    business_description = CASE WHEN $5 <> '' THEN $5 ELSE business_description END,
    updated_at           = $3
WHERE id = $1
RETURNING ` + configCols
	c, err := scanConfig(db.QueryRowContext(ctx, q, id, raw, now, websiteURL, site.Description))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Config{}, ErrNotFound
		}
		return Config{}, err
	}
	return c, nil
}
