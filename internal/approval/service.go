package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chattie/internal/channel"
	"chattie/internal/conversation"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNoAddress means the contact has no identity on the conversation's
	// channel, so an approved reply cannot be delivered.
	ErrNoAddress = errors.New("contact has no address for channel")
)

// MessageRecorder persists delivered replies on the conversation transcript.
type MessageRecorder interface {
	SaveMessage(ctx context.Context, conversationID, contactID string, dir conversation.Direction, content, providerMessageID string) (conversation.Message, error)
}

// store isolates pending-row persistence from the approval flow.
type store interface {
	insert(ctx context.Context, p PendingResponse) (PendingResponse, error)
	setEmailID(ctx context.Context, id, emailID string, now time.Time) error
	transition(ctx context.Context, id string, to Status, now time.Time) (PendingResponse, error)
	get(ctx context.Context, id string) (PendingResponse, error)
	detail(ctx context.Context, id string) (Detail, error)
	listOpen(ctx context.Context) ([]Detail, error)
	listByConversation(ctx context.Context, conversationID string) ([]PendingResponse, error)
	countOpen(ctx context.Context) (int, error)
}

// Service owns the human approval loop: pending rows, the notification email
// to the owner, verdict handling and final delivery to the customer.
//
// Pending invariant: pending rows move to exactly one terminal status. The
// conditional update in the repo makes duplicate verdicts (dashboard racing
// the email poller) a safe no-op.
type Service struct {
	store  store
	convs  MessageRecorder
	chat   channel.ChatSender
	mail   channel.Mailbox
	logger *slog.Logger

	ownerEmail string
	clock      func() time.Time
}

func NewService(db *sql.DB, convs MessageRecorder, chat channel.ChatSender, mail channel.Mailbox, ownerEmail string, logger *slog.Logger) *Service {
	return &Service{
		store:      dbStore{db: db},
		convs:      convs,
		chat:       chat,
		mail:       mail,
		logger:     logger,
		ownerEmail: ownerEmail,
		clock:      time.Now,
	}
}

const refPrefix = "Ref: "

// Create stores a pending response and emails the owner for a verdict.
// The notification failing is logged, not fatal: the draft stays visible in
// the dashboard either way.
func (s *Service) Create(ctx context.Context, conversationID, contactLabel, originalMessage, suggested string, ch conversation.Channel) (PendingResponse, error) {
	if conversationID == "" || originalMessage == "" || suggested == "" {
		return PendingResponse{}, ErrInvalidArgument
	}

	now := s.clock().UTC()
	pending, err := s.store.insert(ctx, PendingResponse{
		ID:                uuid.NewString(),
		ConversationID:    conversationID,
		OriginalMessage:   originalMessage,
		SuggestedResponse: suggested,
		CreatedAt:         now,
	})
	if err != nil {
		return PendingResponse{}, err
	}

	subject, body := approvalEmail(contactLabel, originalMessage, suggested, ch, pending.ID)
	emailID, err := s.mail.Send(ctx, s.ownerEmail, subject, body, "")
	if err != nil {
		s.logger.Error("approval notification failed", "pending_id", pending.ID, "error", err)
		return pending, nil
	}
	if err := s.store.setEmailID(ctx, pending.ID, emailID, s.clock().UTC()); err != nil {
		s.logger.Error("recording approval email id failed", "pending_id", pending.ID, "error", err)
	}
	pending.ApprovalEmailID = emailID
	return pending, nil
}

func approvalEmail(contactLabel, originalMessage, suggested string, ch conversation.Channel, pendingID string) (subject, body string) {
	kind := "WhatsApp"
	if ch == conversation.ChannelEmail {
		kind = "e-mail"
	}
	subject = fmt.Sprintf("[Chattie] Nieuw %s bericht - Goedkeuring gevraagd", kind)

	var b strings.Builder
	fmt.Fprintf(&b, "Je hebt een nieuw %s bericht ontvangen.\n\n", kind)
	b.WriteString("═══════════════════════════════════════\n")
	b.WriteString("BERICHT VAN KLANT\n")
	b.WriteString("═══════════════════════════════════════\n")
	fmt.Fprintf(&b, "Van: %s\n\n%s\n\n", contactLabel, originalMessage)
	b.WriteString("═══════════════════════════════════════\n")
	b.WriteString("VOORGESTELD ANTWOORD\n")
	b.WriteString("═══════════════════════════════════════\n")
	fmt.Fprintf(&b, "%s\n\n", suggested)
	b.WriteString("═══════════════════════════════════════\n")
	b.WriteString("WAT WIL JE DOEN?\n")
	b.WriteString("═══════════════════════════════════════\n")
	b.WriteString("• Goedkeuren: Antwoord op deze e-mail met alleen \"OK\" of \"Verstuur\"\n")
	b.WriteString("• Aanpassen: Antwoord met je aangepaste tekst\n")
	b.WriteString("• Negeren: Doe niets, bericht wordt niet verstuurd\n\n")
	b.WriteString("─────────────────────────────────────\n")
	b.WriteString(refPrefix + pendingID + "\n")
	return subject, b.String()
}

// Approve resolves a pending draft and delivers it. An empty modifiedText
// sends the suggestion as-is (APPROVED); otherwise the owner's text goes out
// instead (MODIFIED).
func (s *Service) Approve(ctx context.Context, id, modifiedText string) (PendingResponse, error) {
	if id == "" {
		return PendingResponse{}, ErrInvalidArgument
	}

	to := StatusApproved
	if strings.TrimSpace(modifiedText) != "" {
		to = StatusModified
	}
	pending, err := s.store.transition(ctx, id, to, s.clock().UTC())
	if err != nil {
		return PendingResponse{}, err
	}

	text := pending.SuggestedResponse
	if to == StatusModified {
		text = strings.TrimSpace(modifiedText)
	}
	if err := s.deliver(ctx, pending, text); err != nil {
		// The verdict stands; delivery problems surface to the caller.
		return pending, err
	}
	return pending, nil
}

// Reject resolves the draft without sending anything.
func (s *Service) Reject(ctx context.Context, id string) (PendingResponse, error) {
	if id == "" {
		return PendingResponse{}, ErrInvalidArgument
	}
	return s.store.transition(ctx, id, StatusRejected, s.clock().UTC())
}

func (s *Service) deliver(ctx context.Context, pending PendingResponse, text string) error {
	detail, err := s.store.detail(ctx, pending.ID)
	if err != nil {
		return err
	}

	var providerID string
	switch detail.Channel {
	case conversation.ChannelChat:
		if detail.ContactPhone == "" {
			return ErrNoAddress
		}
		providerID, err = s.chat.Send(ctx, detail.ContactPhone, "", text)
	case conversation.ChannelEmail:
		if detail.ContactEmail == "" {
			return ErrNoAddress
		}
		providerID, err = s.mail.Send(ctx, detail.ContactEmail, "Re: uw aanvraag", text, "")
	default:
		return fmt.Errorf("unknown channel %q", detail.Channel)
	}
	if err != nil {
		return fmt.Errorf("deliver approved response: %w", err)
	}

	if _, err := s.convs.SaveMessage(ctx, pending.ConversationID, detail.ContactID, conversation.DirectionOutbound, text, providerID); err != nil {
		s.logger.Error("persisting approved response failed", "pending_id", pending.ID, "error", err)
	}
	s.logger.Info("approved response delivered", "pending_id", pending.ID, "channel", string(detail.Channel))
	return nil
}

// ProcessOwnerReplies scans unread owner email for verdicts on open drafts.
// Matching is done on the Ref line, so it works regardless of how the mail
// client threads the reply. Every recognized verdict marks the source email
// read, even when delivery fails: the verdict is already recorded, so
// re-scanning the same email could never do more than log the same error.
func (s *Service) ProcessOwnerReplies(ctx context.Context) error {
	open, err := s.store.listOpen(ctx)
	if err != nil {
		return err
	}
	notified := make(map[string]Detail, len(open))
	for _, d := range open {
		if d.ApprovalEmailID != "" {
			notified[d.ID] = d
		}
	}
	if len(notified) == 0 {
		return nil
	}

	emails, err := s.mail.ListUnread(ctx, 20)
	if err != nil {
		return err
	}

	for _, email := range emails {
		if !strings.Contains(email.From, s.ownerEmail) {
			continue
		}
		pendingID, ok := findRef(email.Body, notified)
		if !ok {
			continue
		}

		reply := ExtractReplyContent(email.Body)
		var verdictErr error
		switch {
		case IsAffirmative(reply):
			_, verdictErr = s.Approve(ctx, pendingID, "")
		case reply != "":
			_, verdictErr = s.Approve(ctx, pendingID, reply)
		default:
			// Empty reply carries no verdict; leave the draft pending and
			// the email unread.
			continue
		}

		switch {
		case verdictErr == nil:
		case errors.Is(verdictErr, ErrNotFound):
			s.logger.Info("verdict already resolved", "pending_id", pendingID)
		default:
			s.logger.Error("delivering verdict failed", "pending_id", pendingID, "error", verdictErr)
		}

		if err := s.mail.MarkRead(ctx, email.ID); err != nil {
			s.logger.Warn("marking verdict email read failed", "email_id", email.ID, "error", err)
		}
	}
	return nil
}

// findRef locates the Ref line and returns the open pending id it names.
func findRef(body string, open map[string]Detail) (string, bool) {
	for id := range open {
		if strings.Contains(body, refPrefix+id) {
			return id, true
		}
	}
	return "", false
}

// ListOpen returns pending drafts for the dashboard.
func (s *Service) ListOpen(ctx context.Context) ([]Detail, error) {
	return s.store.listOpen(ctx)
}

// ListByConversation returns all drafts for one conversation.
func (s *Service) ListByConversation(ctx context.Context, conversationID string) ([]PendingResponse, error) {
	if conversationID == "" {
		return nil, ErrInvalidArgument
	}
	return s.store.listByConversation(ctx, conversationID)
}

// Get returns one pending response.
func (s *Service) Get(ctx context.Context, id string) (PendingResponse, error) {
	if id == "" {
		return PendingResponse{}, ErrInvalidArgument
	}
	return s.store.get(ctx, id)
}

// CountOpen feeds the dashboard stats.
func (s *Service) CountOpen(ctx context.Context) (int, error) {
	return s.store.countOpen(ctx)
}
