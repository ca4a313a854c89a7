package approval

import (
	"time"

	"chattie/internal/conversation"
)

// Status of a pending response. The row is created as pending and moves to
// exactly one terminal state; terminal rows are never reused.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	// StatusModified means the owner replaced the suggested text with their own.
	StatusModified Status = "modified"
	StatusRejected Status = "rejected"
)

// PendingResponse is an AI draft awaiting the owner's verdict.
type PendingResponse struct {
	ID                string `json:"id" db:"id"`
	ConversationID    string `json:"conversation_id" db:"conversation_id"`
	OriginalMessage   string `json:"original_message" db:"original_message"`
	SuggestedResponse string `json:"suggested_response" db:"suggested_response"`
	Status            Status `json:"status" db:"status"`

	// ApprovalEmailID is the mailbox id of the notification sent to the
	// owner; replies are matched back through the Ref line, not this id.
	ApprovalEmailID string     `json:"approval_email_id,omitempty" db:"approval_email_id"`
	RespondedAt     *time.Time `json:"responded_at,omitempty" db:"responded_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Detail is a pending response joined with its conversation and contact,
// as shown in the operator dashboard.
type Detail struct {
	PendingResponse
	Channel      conversation.Channel `json:"channel"`
	ContactID    string               `json:"contact_id"`
	ContactName  string               `json:"contact_name,omitempty"`
	ContactPhone string               `json:"contact_phone,omitempty"`
	ContactEmail string               `json:"contact_email,omitempty"`
}
