// Package orchestrator runs the inbound pipeline: dedup, contact and
// conversation resolution, transcript persistence, AI reply generation and
// routing the reply into auto-send or the approval loop.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chattie/internal/approval"
	"chattie/internal/assist"
	"chattie/internal/business"
	"chattie/internal/channel"
	"chattie/internal/conversation"
	"chattie/pkg/utils"

	"github.com/redis/go-redis/v9"
)

var ErrInvalidArgument = errors.New("invalid argument")

// Responder produces the AI reply for a customer message.
type Responder interface {
	SuggestReply(ctx context.Context, cfg business.Config, pc assist.PromptContext, customerMessage string) (assist.Reply, error)
}

// ConversationStore is the slice of the conversation service the pipeline
// touches. Implemented by *conversation.Service.
type ConversationStore interface {
	FindOrCreateContactByPhone(ctx context.Context, phone, name string) (conversation.Contact, error)
	FindOrCreateContactByEmail(ctx context.Context, email, name string) (conversation.Contact, error)
	FindConversationForInbound(ctx context.Context, contactID string, ch conversation.Channel) (conversation.Conversation, []conversation.Message, bool, error)
	GetOrCreateConversation(ctx context.Context, contactID string, ch conversation.Channel) (conversation.Conversation, []conversation.Message, error)
	AppendPhoto(ctx context.Context, contactID, url string) error
	SaveMessage(ctx context.Context, conversationID, contactID string, dir conversation.Direction, content, providerMessageID string) (conversation.Message, error)
	ApplyCollectedInfo(ctx context.Context, contactID string, info conversation.CollectedInfo) error
	Complete(ctx context.Context, id string) (conversation.Conversation, error)
}

// ConfigSource yields the business profile steering tone and routing.
// Implemented by *business.Service.
type ConfigSource interface {
	GetConfig(ctx context.Context) (business.Config, error)
}

// ApprovalQueue receives drafts that need the owner's verdict.
// Implemented by *approval.Service.
type ApprovalQueue interface {
	Create(ctx context.Context, conversationID, contactLabel, originalMessage, suggested string, ch conversation.Channel) (approval.PendingResponse, error)
}

const (
	// mediaPlaceholder stands in for a message that carried only media.
	mediaPlaceholder = "[Foto ontvangen]"

	// fallbackReply goes out when the model fails, so the customer is never
	// left without an answer.
	fallbackReply = "Excuses, er ging iets mis aan onze kant. We nemen zo snel mogelijk contact met u op."

	// dedupTTL bounds the redelivery window providers retry within.
	dedupTTL = 24 * time.Hour
)

type Service struct {
	rdb       *redis.Client
	convs     ConversationStore
	biz       ConfigSource
	approvals ApprovalQueue
	responder Responder
	chat      channel.ChatSender
	mail      channel.Mailbox
	logger    *slog.Logger
}

func NewService(
	rdb *redis.Client,
	convs ConversationStore,
	biz ConfigSource,
	approvals ApprovalQueue,
	responder Responder,
	chat channel.ChatSender,
	mail channel.Mailbox,
	logger *slog.Logger,
) *Service {
	return &Service{
		rdb:       rdb,
		convs:     convs,
		biz:       biz,
		approvals: approvals,
		responder: responder,
		chat:      chat,
		mail:      mail,
		logger:    logger,
	}
}

// HandleInbound runs one inbound message through the full pipeline. The
// inbound message is persisted before any automation decides anything; a
// paused conversation still records the message but gets no AI reply.
func (s *Service) HandleInbound(ctx context.Context, ev InboundEvent) error {
	identity, err := eventIdentity(ev)
	if err != nil {
		return err
	}
	content := messageContent(ev.Content, len(ev.MediaURLs))
	if content == "" {
		return nil
	}

	if ev.ProviderMessageID != "" {
		first, err := utils.MarkOnce(ctx, s.rdb, dedupKey(ev.Channel, ev.ProviderMessageID), dedupTTL)
		if err != nil {
			s.logger.Warn("webhook dedup unavailable, processing anyway",
				"provider_message_id", ev.ProviderMessageID, "error", err)
		} else if !first {
			s.logger.Info("duplicate webhook delivery skipped",
				"provider_message_id", ev.ProviderMessageID)
			return nil
		}
	}

	contact, err := s.resolveContact(ctx, ev)
	if err != nil {
		return fmt.Errorf("resolve contact: %w", err)
	}

	conv, history, found, err := s.convs.FindConversationForInbound(ctx, contact.ID, ev.Channel)
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}
	if !found {
		conv, history, err = s.convs.GetOrCreateConversation(ctx, contact.ID, ev.Channel)
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
	}

	for _, url := range ev.MediaURLs {
		if err := s.convs.AppendPhoto(ctx, contact.ID, url); err != nil {
			s.logger.Error("recording media failed", "contact_id", contact.ID, "error", err)
		}
	}

	if _, err := s.convs.SaveMessage(ctx, conv.ID, contact.ID, conversation.DirectionInbound, content, ev.ProviderMessageID); err != nil {
		return fmt.Errorf("persist inbound message: %w", err)
	}

	if conv.Status == conversation.StatusPaused {
		s.logger.Info("conversation paused, message recorded without reply",
			"conversation_id", conv.ID, "contact", identity)
		return nil
	}

	cfg, err := s.biz.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("load business config: %w", err)
	}

	pc := buildPromptContext(contact, history)
	reply, err := s.responder.SuggestReply(ctx, cfg, pc, content)
	if err != nil {
		s.logger.Error("reply generation failed, using fallback",
			"conversation_id", conv.ID, "error", err)
		reply = assist.Reply{Message: fallbackReply}
	}
	if reply.Message == "" {
		reply.Message = fallbackReply
	}

	if reply.CollectedInfo != nil {
		if err := s.convs.ApplyCollectedInfo(ctx, contact.ID, *reply.CollectedInfo); err != nil {
			s.logger.Error("applying collected info failed", "contact_id", contact.ID, "error", err)
		}
	}

	if cfg.ResponseMode == business.ModeAuto {
		if err := s.sendDirect(ctx, ev, conv, contact, reply.Message); err != nil {
			return err
		}
	} else {
		if _, err := s.approvals.Create(ctx, conv.ID, identity, content, reply.Message, ev.Channel); err != nil {
			return fmt.Errorf("queue pending response: %w", err)
		}
		s.logger.Info("reply queued for approval", "conversation_id", conv.ID)
	}

	if reply.ConversationComplete {
		if _, err := s.convs.Complete(ctx, conv.ID); err != nil {
			s.logger.Error("completing conversation failed", "conversation_id", conv.ID, "error", err)
		} else {
			s.logger.Info("conversation completed", "conversation_id", conv.ID)
		}
	}
	return nil
}

func (s *Service) resolveContact(ctx context.Context, ev InboundEvent) (conversation.Contact, error) {
	if ev.Channel == conversation.ChannelEmail {
		return s.convs.FindOrCreateContactByEmail(ctx, ev.Email, ev.Name)
	}
	return s.convs.FindOrCreateContactByPhone(ctx, ev.Phone, ev.Name)
}

func (s *Service) sendDirect(ctx context.Context, ev InboundEvent, conv conversation.Conversation, contact conversation.Contact, text string) error {
	var providerID string
	var err error
	switch ev.Channel {
	case conversation.ChannelChat:
		providerID, err = s.chat.Send(ctx, contact.Phone, ev.ThreadID, text)
	case conversation.ChannelEmail:
		providerID, err = s.mail.Send(ctx, contact.Email, "Re: uw aanvraag", text, ev.ThreadID)
	}
	if err != nil {
		return fmt.Errorf("auto-send reply: %w", err)
	}
	if _, err := s.convs.SaveMessage(ctx, conv.ID, contact.ID, conversation.DirectionOutbound, text, providerID); err != nil {
		s.logger.Error("persisting auto-sent reply failed", "conversation_id", conv.ID, "error", err)
	}
	s.logger.Info("reply auto-sent", "conversation_id", conv.ID, "channel", string(ev.Channel))
	return nil
}

// eventIdentity validates the event and returns the contact identity used in
// logs and approval emails.
func eventIdentity(ev InboundEvent) (string, error) {
	switch ev.Channel {
	case conversation.ChannelChat:
		if ev.Phone == "" {
			return "", ErrInvalidArgument
		}
		return ev.Phone, nil
	case conversation.ChannelEmail:
		if ev.Email == "" {
			return "", ErrInvalidArgument
		}
		return ev.Email, nil
	default:
		return "", ErrInvalidArgument
	}
}

// messageContent substitutes the media placeholder for media-only messages.
// A message with neither text nor media yields an empty string and is dropped.
func messageContent(content string, mediaCount int) string {
	if content == "" && mediaCount > 0 {
		return mediaPlaceholder
	}
	return content
}

func dedupKey(ch conversation.Channel, providerMessageID string) string {
	return fmt.Sprintf("inbound:%s:%s", ch, providerMessageID)
}

// buildPromptContext projects the contact and recent transcript into what the
// model needs to know.
func buildPromptContext(contact conversation.Contact, history []conversation.Message) assist.PromptContext {
	pc := assist.PromptContext{
		ContactName:  contact.Name,
		ContactEmail: contact.Email,
		ContactPhone: contact.Phone,
		GardenSize:   contact.GardenSize,
		HasPhotos:    len(contact.GardenPhotos) > 0,
	}
	for _, m := range history {
		role := assist.RoleAssistant
		if m.Direction == conversation.DirectionInbound {
			role = assist.RoleCustomer
		}
		pc.History = append(pc.History, assist.Turn{Role: role, Content: m.Content})
	}
	return pc
}
