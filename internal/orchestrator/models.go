package orchestrator

import "chattie/internal/conversation"

// InboundEvent is a normalized inbound customer message, regardless of which
// provider webhook delivered it.
type InboundEvent struct {
	Channel conversation.Channel

	// Phone identifies the contact on the chat channel, Email on the email
	// channel. Exactly one is required depending on Channel.
	Phone string
	Email string

	// Name is the profile name the provider exposed, if any.
	Name string

	Content   string
	MediaURLs []string

	// ProviderMessageID backs webhook dedup.
	ProviderMessageID string

	// ThreadID is the provider chat handle, used for threaded replies.
	ThreadID string
}
