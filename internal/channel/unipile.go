package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// UnipileSender sends WhatsApp messages through the hosted Unipile API.
// Replies prefer the chat thread from the triggering webhook; identity sends
// open (or reuse) a chat keyed on the phone number.
type UnipileSender struct {
	baseURL   string
	apiKey    string
	accountID string

	httpClient *http.Client
	logger     *slog.Logger
}

func NewUnipileSender(baseURL, apiKey, accountID string, logger *slog.Logger) *UnipileSender {
	return &UnipileSender{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		accountID:  accountID,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

type unipileSendResponse struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
}

func (u *UnipileSender) Send(ctx context.Context, phone, threadID, message string) (string, error) {
	if message == "" {
		return "", fmt.Errorf("unipile: message is required")
	}
	if threadID != "" {
		return u.sendToChat(ctx, threadID, message)
	}
	if phone == "" {
		return "", fmt.Errorf("unipile: phone is required without a chat id")
	}
	return u.startChat(ctx, phone, message)
}

func (u *UnipileSender) startChat(ctx context.Context, phone, message string) (string, error) {
	payload := map[string]any{
		"account_id":    u.accountID,
		"text":          message,
		"attendees_ids": []string{WhatsAppID(phone)},
	}
	var out unipileSendResponse
	if err := u.post(ctx, "/api/v1/chats", payload, &out); err != nil {
		return "", err
	}
	u.logger.Debug("unipile chat started", "phone", phone, "chat_id", out.ChatID)
	if out.MessageID != "" {
		return out.MessageID, nil
	}
	return out.ChatID, nil
}

func (u *UnipileSender) sendToChat(ctx context.Context, chatID, message string) (string, error) {
	payload := map[string]any{"text": message}
	var out unipileSendResponse
	if err := u.post(ctx, "/api/v1/chats/"+chatID+"/messages", payload, &out); err != nil {
		return "", err
	}
	if out.MessageID != "" {
		return out.MessageID, nil
	}
	return chatID, nil
}

func (u *UnipileSender) post(ctx context.Context, path string, payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("X-API-KEY", u.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("unipile %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unipile %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("unipile %s: decode response: %w", path, err)
		}
	}
	return nil
}

// WhatsAppID turns a +31612345678 phone into the 31612345678@s.whatsapp.net
// form the API expects.
func WhatsAppID(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	return digits + "@s.whatsapp.net"
}

// UnipileAttendee identifies one participant in a chat.
type UnipileAttendee struct {
	AttendeeID         string `json:"attendee_id"`
	AttendeeName       string `json:"attendee_name"`
	AttendeeProviderID string `json:"attendee_provider_id"`
}

// UnipileWebhook is the JSON payload for message events.
type UnipileWebhook struct {
	AccountID   string            `json:"account_id"`
	AccountType string            `json:"account_type"`
	Event       string            `json:"event"`
	ChatID      string            `json:"chat_id"`
	MessageID   string            `json:"message_id"`
	Message     string            `json:"message"`
	Sender      UnipileAttendee   `json:"sender"`
	Attendees   []UnipileAttendee `json:"attendees"`
	Attachments []struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"attachments,omitempty"`
	AccountInfo *struct {
		UserID string `json:"user_id"`
	} `json:"account_info,omitempty"`
}

const UnipileEventMessageReceived = "message_received"

// IsOwnMessage reports whether the event was caused by the connected account
// itself; those must not be answered.
func (p UnipileWebhook) IsOwnMessage() bool {
	return p.AccountInfo != nil && p.AccountInfo.UserID == p.Sender.AttendeeProviderID
}

var providerIDRe = regexp.MustCompile(`^(\d+)@`)

// PhoneFromProviderID extracts +31612345678 from 31612345678@s.whatsapp.net.
// Unrecognized ids pass through unchanged.
func PhoneFromProviderID(providerID string) string {
	if m := providerIDRe.FindStringSubmatch(providerID); m != nil {
		return "+" + m[1]
	}
	return providerID
}
