// Package webhook receives provider callbacks. Handlers acknowledge fast and
// hand the real work to the orchestrator in the background; providers retry
// on slow responses, and the AI round trip is far slower than their timeouts.
package webhook

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"chattie/internal/channel"
	"chattie/internal/conversation"
	"chattie/internal/orchestrator"

	"github.com/gin-gonic/gin"
)

// Inbound is the orchestration entry point handlers feed.
type Inbound interface {
	HandleInbound(ctx context.Context, ev orchestrator.InboundEvent) error
}

// EmailChecker triggers one inbox poll pass.
type EmailChecker interface {
	CheckNewEmails(ctx context.Context) error
}

// handleTimeout bounds the background pipeline per webhook, AI call included.
const handleTimeout = 2 * time.Minute

type Handler struct {
	inbound Inbound
	emails  EmailChecker
	logger  *slog.Logger

	// twilioAuthToken signs webhook requests; empty disables validation
	// (Unipile deployments have no Twilio credentials).
	twilioAuthToken string
}

func NewHandler(inbound Inbound, emails EmailChecker, twilioAuthToken string, logger *slog.Logger) *Handler {
	return &Handler{
		inbound:         inbound,
		emails:          emails,
		logger:          logger,
		twilioAuthToken: twilioAuthToken,
	}
}

func (h *Handler) Register(r gin.IRouter) {
	r.POST("/webhook/whatsapp", h.TwilioWebhook)
	r.POST("/webhook/whatsapp/status", h.TwilioStatus)
	r.POST("/webhook/unipile", h.UnipileWebhook)
	r.POST("/gmail/check", h.GmailCheck)
}

// TwilioWebhook handles inbound WhatsApp messages from Twilio. The response
// is an empty TwiML document; the actual reply goes out through the REST API
// after the pipeline finishes.
func (h *Handler) TwilioWebhook(c *gin.Context) {
	msg, err := channel.ParseTwilioInbound(c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid form payload"})
		return
	}

	if h.twilioAuthToken != "" {
		sig := c.GetHeader("X-Twilio-Signature")
		if !channel.ValidateTwilioSignature(h.twilioAuthToken, sig, requestURL(c.Request), c.Request.PostForm) {
			h.logger.Warn("twilio signature rejected", "remote", c.ClientIP())
			c.JSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
	}

	ev := orchestrator.InboundEvent{
		Channel:           conversation.ChannelChat,
		Phone:             channel.PhoneFromTwilio(msg.From),
		Name:              msg.ProfileName,
		Content:           msg.Body,
		ProviderMessageID: msg.MessageSID,
	}
	if msg.NumMedia > 0 && msg.MediaURL != "" {
		ev.MediaURLs = []string{msg.MediaURL}
	}
	h.dispatch(ev)

	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, "<Response></Response>")
}

// TwilioStatus receives delivery status callbacks. Logged only.
func (h *Handler) TwilioStatus(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid form payload"})
		return
	}
	h.logger.Info("twilio status callback",
		"message_sid", c.Request.PostFormValue("MessageSid"),
		"status", c.Request.PostFormValue("MessageStatus"))
	c.Status(http.StatusOK)
}

// UnipileWebhook handles inbound WhatsApp messages from Unipile.
func (h *Handler) UnipileWebhook(c *gin.Context) {
	var payload channel.UnipileWebhook
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json payload"})
		return
	}

	// Acknowledge everything; filtered events are simply not dispatched.
	c.JSON(http.StatusOK, gin.H{"status": "received"})

	if payload.Event != channel.UnipileEventMessageReceived {
		return
	}
	if payload.IsOwnMessage() {
		h.logger.Debug("unipile own message skipped", "chat_id", payload.ChatID)
		return
	}

	ev := orchestrator.InboundEvent{
		Channel:           conversation.ChannelChat,
		Phone:             channel.PhoneFromProviderID(payload.Sender.AttendeeProviderID),
		Name:              payload.Sender.AttendeeName,
		Content:           payload.Message,
		ProviderMessageID: payload.MessageID,
		ThreadID:          payload.ChatID,
	}
	for _, a := range payload.Attachments {
		if a.URL != "" {
			ev.MediaURLs = append(ev.MediaURLs, a.URL)
		}
	}
	h.dispatch(ev)
}

// GmailCheck triggers an inbox poll outside the schedule, synchronously.
func (h *Handler) GmailCheck(c *gin.Context) {
	if err := h.emails.CheckNewEmails(c.Request.Context()); err != nil {
		h.logger.Error("manual email check failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "email check failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "checked"})
}

func (h *Handler) dispatch(ev orchestrator.InboundEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		defer cancel()
		if err := h.inbound.HandleInbound(ctx, ev); err != nil {
			h.logger.Error("inbound pipeline failed",
				"provider_message_id", ev.ProviderMessageID, "error", err)
		}
	}()
}

// requestURL reconstructs the public URL the provider signed. Behind a proxy
// the scheme comes from X-Forwarded-Proto.
func requestURL(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}
	return scheme + "://" + r.Host + r.RequestURI
}
