// Package inboxpoll watches the business Gmail inbox, triages new email and
// drafts replies for customer messages. Drafts only: the owner reviews and
// sends from the mailbox.
package inboxpoll

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"chattie/internal/assist"
	"chattie/internal/business"
	"chattie/internal/channel"
	"chattie/internal/conversation"
)

const (
	// labelProcessed marks email the poller already handled, read or not.
	labelProcessed = "Chattie/Verwerkt"
	labelInternal  = "Chattie/INTERN"
	labelPrefix    = "Chattie/"

	batchSize = 20
)

// Assistant is the AI surface the poller needs.
type Assistant interface {
	ClassifyEmail(ctx context.Context, email assist.InboundEmail) (assist.Classification, error)
	DraftEmailReply(ctx context.Context, cfg business.Config, email assist.InboundEmail, history []assist.Turn) (string, error)
}

type Poller struct {
	mail       channel.Mailbox
	ai         Assistant
	convs      *conversation.Service
	biz        *business.Service
	logger     *slog.Logger
	ownerEmail string
}

func NewPoller(mail channel.Mailbox, ai Assistant, convs *conversation.Service, biz *business.Service, ownerEmail string, logger *slog.Logger) *Poller {
	return &Poller{
		mail:       mail,
		ai:         ai,
		convs:      convs,
		biz:        biz,
		logger:     logger,
		ownerEmail: ownerEmail,
	}
}

// CheckNewEmails processes inbox messages that have no processed label yet.
// One failing email does not stop the rest; a failed email keeps its unread
// state and missing label, so the next tick retries it.
func (p *Poller) CheckNewEmails(ctx context.Context) error {
	emails, err := p.mail.ListUnprocessed(ctx, labelProcessed, batchSize)
	if err != nil {
		return fmt.Errorf("list unprocessed email: %w", err)
	}
	if len(emails) == 0 {
		return nil
	}

	cfg, err := p.biz.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("load business config: %w", err)
	}

	for _, email := range emails {
		if err := p.handle(ctx, cfg, email); err != nil {
			p.logger.Error("email handling failed", "email_id", email.ID, "error", err)
		}
	}
	return nil
}

func (p *Poller) handle(ctx context.Context, cfg business.Config, email channel.Email) error {
	if p.isInternal(email) {
		if err := p.mail.AddLabel(ctx, email.ID, labelInternal); err != nil {
			return err
		}
		return p.mail.AddLabel(ctx, email.ID, labelProcessed)
	}

	verdict, err := p.ai.ClassifyEmail(ctx, assist.InboundEmail{
		From:    email.From,
		Subject: email.Subject,
		Body:    email.Body,
	})
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	if err := p.mail.AddLabel(ctx, email.ID, labelPrefix+string(verdict.Class)); err != nil {
		p.logger.Warn("labeling email failed", "email_id", email.ID, "error", err)
	}
	p.logger.Info("email classified",
		"email_id", email.ID, "class", string(verdict.Class), "confidence", verdict.Confidence)

	// Non-customer mail keeps its unread state so the owner still sees it.
	if verdict.Class != assist.ClassCustomer {
		return p.mail.AddLabel(ctx, email.ID, labelProcessed)
	}

	if err := p.draftCustomerReply(ctx, cfg, email); err != nil {
		return err
	}
	if err := p.mail.MarkRead(ctx, email.ID); err != nil {
		p.logger.Warn("marking customer email read failed", "email_id", email.ID, "error", err)
	}
	return p.mail.AddLabel(ctx, email.ID, labelProcessed)
}

func (p *Poller) draftCustomerReply(ctx context.Context, cfg business.Config, email channel.Email) error {
	addr, name := parseFrom(email.From)
	if addr == "" {
		return fmt.Errorf("no sender address in %q", email.From)
	}

	contact, err := p.convs.FindOrCreateContactByEmail(ctx, addr, name)
	if err != nil {
		return fmt.Errorf("resolve contact: %w", err)
	}
	conv, history, err := p.convs.GetOrCreateConversation(ctx, contact.ID, conversation.ChannelEmail)
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}
	if _, err := p.convs.SaveMessage(ctx, conv.ID, contact.ID, conversation.DirectionInbound, email.Body, email.ID); err != nil {
		return fmt.Errorf("persist inbound email: %w", err)
	}

	draft, err := p.ai.DraftEmailReply(ctx, cfg, assist.InboundEmail{
		From:    email.From,
		Subject: email.Subject,
		Body:    email.Body,
	}, historyTurns(history))
	if err != nil {
		return fmt.Errorf("draft reply: %w", err)
	}

	draftID, err := p.mail.CreateDraft(ctx, addr, replySubject(email.Subject), draft, email.ThreadID)
	if err != nil {
		return fmt.Errorf("create draft: %w", err)
	}
	if _, err := p.convs.SaveMessage(ctx, conv.ID, contact.ID, conversation.DirectionOutbound, draft, draftID); err != nil {
		p.logger.Error("persisting email draft failed", "conversation_id", conv.ID, "error", err)
	}
	p.logger.Info("customer reply drafted", "email_id", email.ID, "conversation_id", conv.ID)
	return nil
}

// isInternal filters mail the assistant itself produced and mail from the
// owner, so the pipeline never replies to its own traffic.
func (p *Poller) isInternal(email channel.Email) bool {
	if p.ownerEmail != "" && strings.Contains(strings.ToLower(email.From), strings.ToLower(p.ownerEmail)) {
		return true
	}
	return strings.Contains(email.Subject, "[Chattie]")
}

func parseFrom(from string) (addr, name string) {
	a, err := mail.ParseAddress(from)
	if err != nil {
		return strings.TrimSpace(from), ""
	}
	return a.Address, a.Name
}

func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		return subject
	}
	return "Re: " + subject
}

func historyTurns(msgs []conversation.Message) []assist.Turn {
	out := make([]assist.Turn, 0, len(msgs))
	for _, m := range msgs {
		role := assist.RoleAssistant
		if m.Direction == conversation.DirectionInbound {
			role = assist.RoleCustomer
		}
		out = append(out, assist.Turn{Role: role, Content: m.Content})
	}
	return out
}
