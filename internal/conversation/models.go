package conversation

import "time"

// Channel identifies the medium a conversation runs over.
type Channel string

const (
	ChannelChat  Channel = "chat"
	ChannelEmail Channel = "email"
)

// Status is the conversation lifecycle state.
//
// Invariant: at most one active conversation per (contact, channel).
// Enforced by a partial unique index; completed conversations are never
// reopened, a later inbound message starts a fresh one.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Contact is a customer reached over WhatsApp or email.
// Phone is the identity key for the chat channel, Email for the mail channel.
type Contact struct {
	ID         string `json:"id" db:"id"`
	Phone      string `json:"phone,omitempty" db:"phone"`
	Email      string `json:"email,omitempty" db:"email"`
	Name       string `json:"name,omitempty" db:"name"`
	GardenSize string `json:"garden_size,omitempty" db:"garden_size"`

	// GardenPhotos holds media URLs received from the contact (JSONB array).
	GardenPhotos []string `json:"garden_photos" db:"garden_photos"`

	// CustomFields carries collected values outside the fixed set (JSONB object).
	CustomFields map[string]string `json:"custom_fields" db:"custom_fields"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Conversation struct {
	ID        string  `json:"id" db:"id"`
	ContactID string  `json:"contact_id" db:"contact_id"`
	Channel   Channel `json:"channel" db:"channel"`
	Status    Status  `json:"status" db:"status"`

	FollowUpCount  int        `json:"follow_up_count" db:"follow_up_count"`
	NeedsFollowUp  bool       `json:"needs_follow_up" db:"needs_follow_up"`
	LastFollowUpAt *time.Time `json:"last_follow_up_at,omitempty" db:"last_follow_up_at"`
	NextFollowUpAt *time.Time `json:"next_follow_up_at,omitempty" db:"next_follow_up_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Message is an immutable transcript entry. Rows are never updated.
type Message struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	ContactID      string    `json:"contact_id" db:"contact_id"`
	Direction      Direction `json:"direction" db:"direction"`
	Content        string    `json:"content" db:"content"`

	// ProviderMessageID is the upstream id (Twilio SID, Unipile message id,
	// Gmail message id). Empty for locally originated messages.
	ProviderMessageID string `json:"provider_message_id,omitempty" db:"provider_message_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CollectedInfo is the structured output of the AI collecting customer data.
// The fixed fields map onto contact columns; Extra catches anything the
// operator configured beyond that set and lands in custom_fields.
type CollectedInfo struct {
	Name       string            `json:"name,omitempty"`
	Email      string            `json:"email,omitempty"`
	Phone      string            `json:"phone,omitempty"`
	GardenSize string            `json:"gardenSize,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Empty reports whether there is nothing to apply.
func (c CollectedInfo) Empty() bool {
	return c.Name == "" && c.Email == "" && c.Phone == "" && c.GardenSize == "" && len(c.Extra) == 0
}

// ContactOverview is the admin list row: a contact with usage counters.
type ContactOverview struct {
	Contact
	ConversationCount int `json:"conversation_count"`
	MessageCount      int `json:"message_count"`
}

// Stats feeds the operator dashboard.
type Stats struct {
	TotalContacts      int `json:"total_contacts"`
	TotalConversations int `json:"total_conversations"`
	TodayMessages      int `json:"today_messages"`
}
