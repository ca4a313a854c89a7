// Package channel holds the provider adapters for WhatsApp (Twilio, Unipile)
// and email (Gmail). Adapters translate between provider payloads and the
// rest of the system; no business decisions are made here.
package channel

import (
	"context"
	"time"
)

// ChatSender delivers a WhatsApp message. threadID is the provider chat
// handle from an earlier webhook; when empty the send falls back to the
// phone identity and the provider may open a new thread.
type ChatSender interface {
	Send(ctx context.Context, phone, threadID, message string) (providerMessageID string, err error)
}

// Email is a provider-neutral view of a mailbox message.
type Email struct {
	ID       string    `json:"id"`
	ThreadID string    `json:"thread_id"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Subject  string    `json:"subject"`
	Body     string    `json:"body"`
	Date     time.Time `json:"date"`
}

// Mailbox is the email transport: reading, labeling and writing messages
// in the business inbox.
type Mailbox interface {
	// ListUnread returns unread inbox messages, newest first.
	ListUnread(ctx context.Context, max int) ([]Email, error)
	// ListUnprocessed returns inbox messages not yet labeled with label.
	ListUnprocessed(ctx context.Context, label string, max int) ([]Email, error)
	MarkRead(ctx context.Context, id string) error
	// AddLabel attaches a label by name, creating it on first use.
	AddLabel(ctx context.Context, id, label string) error
	// CreateDraft writes a draft, threaded when threadID is set.
	CreateDraft(ctx context.Context, to, subject, body, threadID string) (string, error)
	// Send sends a message and returns the provider message id.
	Send(ctx context.Context, to, subject, body, threadID string) (string, error)
}
