package business

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"time"

	"chattie/pkg/utils"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

// ValidationError reports a field-level problem with a profile update.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Defaults seed the profile row on first access.
type Defaults struct {
	BusinessName string
	OwnerEmail   string
	ResponseMode ResponseMode
}

// Service owns the single business profile row.
type Service struct {
	db       *sql.DB
	defaults Defaults
	clock    func() time.Time
}

func NewService(db *sql.DB, defaults Defaults) *Service {
	if defaults.BusinessName == "" {
		defaults.BusinessName = "Mijn Bedrijf"
	}
	if defaults.ResponseMode == "" {
		defaults.ResponseMode = ModeApproval
	}
	return &Service{db: db, defaults: defaults, clock: time.Now}
}

// GetConfig returns the profile, creating the seeded row on first call.
func (s *Service) GetConfig(ctx context.Context) (Config, error) {
	now := s.clock().UTC()
	id := uuid.NewString()

	var out Config
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		existing, ok, err := findFirstConfig(ctx, tx)
		if err != nil {
			return err
		}
		if ok {
			out = existing
			return nil
		}
		created, err := insertDefaultConfig(ctx, tx, id, s.defaults.BusinessName, s.defaults.OwnerEmail, s.defaults.ResponseMode, now)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	return out, err
}

// UpdateConfig applies a validated partial update.
func (s *Service) UpdateConfig(ctx context.Context, u Update) (Config, error) {
	if err := validateUpdate(u); err != nil {
		return Config{}, err
	}
	current, err := s.GetConfig(ctx)
	if err != nil {
		return Config{}, err
	}
	return updateConfig(ctx, s.db, current.ID, u, s.clock().UTC())
}

func validateUpdate(u Update) error {
	if u.BusinessName != nil && *u.BusinessName == "" {
		return &ValidationError{Field: "business_name", Reason: "must not be empty"}
	}
	if u.OwnerEmail != nil {
		if _, err := mail.ParseAddress(*u.OwnerEmail); err != nil {
			return &ValidationError{Field: "owner_email", Reason: "must be a valid email address"}
		}
	}
	if u.WebsiteURL != nil && *u.WebsiteURL != "" {
		parsed, err := url.Parse(*u.WebsiteURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return &ValidationError{Field: "website_url", Reason: "must be an absolute URL"}
		}
	}
	if u.Tone != nil {
		switch *u.Tone {
		case ToneFriendly, ToneProfessional, ToneCasual, ToneFormal:
		default:
			return &ValidationError{Field: "tone", Reason: "must be one of friendly, professional, casual, formal"}
		}
	}
	if u.Language != nil {
		switch *u.Language {
		case LanguageDutch, LanguageEnglish:
		default:
			return &ValidationError{Field: "language", Reason: "must be nl or en"}
		}
	}
	if u.ResponseMode != nil {
		switch *u.ResponseMode {
		case ModeApproval, ModeAuto:
		default:
			return &ValidationError{Field: "response_mode", Reason: "must be approval or auto"}
		}
	}
	if u.CollectFields != nil {
		if len(u.CollectFields) == 0 {
			return &ValidationError{Field: "collect_fields", Reason: "must not be empty"}
		}
		for _, f := range u.CollectFields {
			if f == "" {
				return &ValidationError{Field: "collect_fields", Reason: "field names must not be empty"}
			}
		}
	}
	return nil
}

// ResponseMode is a convenience for the inbound pipeline.
func (s *Service) ResponseMode(ctx context.Context) (ResponseMode, error) {
	cfg, err := s.GetConfig(ctx)
	if err != nil {
		return "", err
	}
	return cfg.ResponseMode, nil
}
