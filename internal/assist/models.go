package assist

import "chattie/internal/conversation"

// Role of a transcript turn as presented to the model.
type Role string

const (
	RoleCustomer  Role = "customer"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role    Role
	Content string
}

// PromptContext is everything already known about the customer when a reply
// is generated.
type PromptContext struct {
	ContactName  string
	ContactEmail string
	ContactPhone string
	GardenSize   string
	HasPhotos    bool
	History      []Turn
}

// Reply is the structured model output for a customer message.
// When the model's JSON cannot be parsed the raw text becomes Message and
// the rest stays zero; a broken reply format must never lose the answer.
type Reply struct {
	Message              string                      `json:"message"`
	CollectedInfo        *conversation.CollectedInfo `json:"collectedInfo,omitempty"`
	ConversationComplete bool                        `json:"conversationComplete"`
}

// EmailClass is the triage bucket for an inbound email.
type EmailClass string

const (
	ClassCustomer EmailClass = "CUSTOMER"
	ClassSupplier EmailClass = "SUPPLIER"
	ClassSpam     EmailClass = "SPAM"
	ClassOther    EmailClass = "OTHER"
)

// Classification is the triage verdict for an inbound email.
type Classification struct {
	Class      EmailClass `json:"classification"`
	Confidence string     `json:"confidence"`
	Reason     string     `json:"reason"`
}

// InboundEmail is the source material for classification and drafting.
type InboundEmail struct {
	From    string
	Subject string
	Body    string
}
