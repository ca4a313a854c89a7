package business

import (
	"encoding/json"
	"time"
)

// Tone steers the AI voice in customer replies.
type Tone string

const (
	ToneFriendly     Tone = "friendly"
	ToneProfessional Tone = "professional"
	ToneCasual       Tone = "casual"
	ToneFormal       Tone = "formal"
)

type Language string

const (
	LanguageDutch   Language = "nl"
	LanguageEnglish Language = "en"
)

type ResponseMode string

const (
	// ModeApproval routes every AI reply through the owner before sending.
	ModeApproval ResponseMode = "approval"
	// ModeAuto sends AI replies directly.
	ModeAuto ResponseMode = "auto"
)

// Config is the single business profile row driving prompts and routing.
type Config struct {
	ID                  string `json:"id" db:"id"`
	BusinessName        string `json:"business_name" db:"business_name"`
	BusinessDescription string `json:"business_description" db:"business_description"`
	WebsiteURL          string `json:"website_url,omitempty" db:"website_url"`
	OwnerName           string `json:"owner_name,omitempty" db:"owner_name"`
	OwnerEmail          string `json:"owner_email" db:"owner_email"`
	OwnerPhone          string `json:"owner_phone,omitempty" db:"owner_phone"`
	CustomInstructions  string `json:"custom_instructions,omitempty" db:"custom_instructions"`

	Tone     Tone     `json:"tone" db:"tone"`
	Language Language `json:"language" db:"language"`

	// CollectFields names the data points the AI gathers before a quote can
	// be made. Known keys map onto contact columns; anything else is stored
	// as a custom field.
	CollectFields []string `json:"collect_fields" db:"collect_fields"`

	ResponseMode    ResponseMode `json:"response_mode" db:"response_mode"`
	GreetingMessage string       `json:"greeting_message,omitempty" db:"greeting_message"`
	ClosingMessage  string       `json:"closing_message,omitempty" db:"closing_message"`

	// ScrapedContent is the structured website snapshot used as prompt
	// context. Stored as-is (JSONB).
	ScrapedContent json.RawMessage `json:"scraped_content,omitempty" db:"scraped_content"`
	ScrapedAt      *time.Time      `json:"scraped_at,omitempty" db:"scraped_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultCollectFields is the out-of-the-box intake list.
var DefaultCollectFields = []string{"name", "email", "phone", "gardenSize", "photos"}

// Update is a partial profile change; nil fields are left untouched.
type Update struct {
	BusinessName        *string       `json:"business_name,omitempty"`
	BusinessDescription *string       `json:"business_description,omitempty"`
	WebsiteURL          *string       `json:"website_url,omitempty"`
	OwnerName           *string       `json:"owner_name,omitempty"`
	OwnerEmail          *string       `json:"owner_email,omitempty"`
	OwnerPhone          *string       `json:"owner_phone,omitempty"`
	CustomInstructions  *string       `json:"custom_instructions,omitempty"`
	Tone                *Tone         `json:"tone,omitempty"`
	Language            *Language     `json:"language,omitempty"`
	CollectFields       []string      `json:"collect_fields,omitempty"`
	ResponseMode        *ResponseMode `json:"response_mode,omitempty"`
	GreetingMessage     *string       `json:"greeting_message,omitempty"`
	ClosingMessage      *string       `json:"closing_message,omitempty"`
}

// ScrapedPage is one crawled page of the business website.
type ScrapedPage struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// ScrapedContact holds contact details found in page text.
type ScrapedContact struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// ScrapedSite is the full crawl result stored on the profile row.
type ScrapedSite struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Services    []string        `json:"services"`
	About       string          `json:"about"`
	Contact     ScrapedContact  `json:"contact"`
	Pages       []ScrapedPage   `json:"pages"`
	Categorized json.RawMessage `json:"categorized,omitempty"`
	ScrapedAt   time.Time       `json:"scraped_at"`
}
