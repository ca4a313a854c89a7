package channel

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"net/mail"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const gmailUser = "me"

// Gmail implements Mailbox on the Gmail API, authenticated as the business
// inbox via an OAuth refresh token.
type Gmail struct {
	svc    *gmail.Service
	logger *slog.Logger

	mu       sync.Mutex
	labelIDs map[string]string
}

func NewGmail(ctx context.Context, clientID, clientSecret, refreshToken string, logger *slog.Logger) (*Gmail, error) {
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, fmt.Errorf("gmail: client id, secret and refresh token are required")
	}
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailModifyScope, gmail.GmailComposeScope},
	}
	ts := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("gmail service: %w", err)
	}
	return &Gmail{svc: svc, logger: logger, labelIDs: map[string]string{}}, nil
}

func (g *Gmail) ListUnread(ctx context.Context, max int) ([]Email, error) {
	return g.list(ctx, "is:unread in:inbox", max)
}

func (g *Gmail) ListUnprocessed(ctx context.Context, label string, max int) ([]Email, error) {
	return g.list(ctx, fmt.Sprintf("in:inbox -label:%s", label), max)
}

func (g *Gmail) list(ctx context.Context, query string, max int) ([]Email, error) {
	if max <= 0 {
		max = 10
	}
	res, err := g.svc.Users.Messages.List(gmailUser).Q(query).MaxResults(int64(max)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gmail list %q: %w", query, err)
	}

	var out []Email
	for _, m := range res.Messages {
		email, err := g.Get(ctx, m.Id)
		if err != nil {
			g.logger.Warn("gmail message fetch failed", "id", m.Id, "error", err)
			continue
		}
		out = append(out, email)
	}
	return out, nil
}

func (g *Gmail) Get(ctx context.Context, id string) (Email, error) {
	msg, err := g.svc.Users.Messages.Get(gmailUser, id).Format("full").Context(ctx).Do()
	if err != nil {
		return Email{}, fmt.Errorf("gmail get %s: %w", id, err)
	}

	header := func(name string) string {
		if msg.Payload == nil {
			return ""
		}
		for _, h := range msg.Payload.Headers {
			if strings.EqualFold(h.Name, name) {
				return h.Value
			}
		}
		return ""
	}

	var date time.Time
	if d := header("Date"); d != "" {
		if parsed, err := mail.ParseDate(d); err == nil {
			date = parsed
		}
	}

	return Email{
		ID:       id,
		ThreadID: msg.ThreadId,
		From:     header("From"),
		To:       header("To"),
		Subject:  header("Subject"),
		Body:     extractBody(msg.Payload),
		Date:     date,
	}, nil
}

// extractBody returns the text/plain content of a possibly multipart payload.
func extractBody(p *gmail.MessagePart) string {
	if p == nil {
		return ""
	}
	if p.Body != nil && p.Body.Data != "" {
		if decoded, err := decodeWebSafe(p.Body.Data); err == nil {
			return decoded
		}
	}
	for _, part := range p.Parts {
		if part.MimeType == "text/plain" && part.Body != nil && part.Body.Data != "" {
			if decoded, err := decodeWebSafe(part.Body.Data); err == nil {
				return decoded
			}
		}
	}
	// Nested multipart (e.g. multipart/alternative inside multipart/mixed).
	for _, part := range p.Parts {
		if strings.HasPrefix(part.MimeType, "multipart/") {
			if body := extractBody(part); body != "" {
				return body
			}
		}
	}
	return ""
}

func decodeWebSafe(data string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (g *Gmail) MarkRead(ctx context.Context, id string) error {
	_, err := g.svc.Users.Messages.Modify(gmailUser, id, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gmail mark read %s: %w", id, err)
	}
	return nil
}

func (g *Gmail) AddLabel(ctx context.Context, id, label string) error {
	labelID, err := g.labelID(ctx, label)
	if err != nil {
		return err
	}
	_, err = g.svc.Users.Messages.Modify(gmailUser, id, &gmail.ModifyMessageRequest{
		AddLabelIds: []string{labelID},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gmail label %s: %w", id, err)
	}
	return nil
}

// labelID resolves a label name, creating the label on first use.
func (g *Gmail) labelID(ctx context.Context, name string) (string, error) {
	g.mu.Lock()
	cached, ok := g.labelIDs[name]
	g.mu.Unlock()
	if ok {
		return cached, nil
	}

	list, err := g.svc.Users.Labels.List(gmailUser).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gmail labels: %w", err)
	}
	for _, l := range list.Labels {
		if strings.EqualFold(l.Name, name) {
			g.cacheLabel(name, l.Id)
			return l.Id, nil
		}
	}

	created, err := g.svc.Users.Labels.Create(gmailUser, &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gmail create label %q: %w", name, err)
	}
	g.cacheLabel(name, created.Id)
	return created.Id, nil
}

func (g *Gmail) cacheLabel(name, id string) {
	g.mu.Lock()
	g.labelIDs[name] = id
	g.mu.Unlock()
}

func (g *Gmail) CreateDraft(ctx context.Context, to, subject, body, threadID string) (string, error) {
	draft, err := g.svc.Users.Drafts.Create(gmailUser, &gmail.Draft{
		Message: &gmail.Message{
			Raw:      encodeRFC2822(to, subject, body),
			ThreadId: threadID,
		},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gmail create draft: %w", err)
	}
	return draft.Id, nil
}

func (g *Gmail) Send(ctx context.Context, to, subject, body, threadID string) (string, error) {
	msg, err := g.svc.Users.Messages.Send(gmailUser, &gmail.Message{
		Raw:      encodeRFC2822(to, subject, body),
		ThreadId: threadID,
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gmail send: %w", err)
	}
	return msg.Id, nil
}

// encodeRFC2822 builds the web-safe base64 raw message Gmail expects.
func encodeRFC2822(to, subject, body string) string {
	headers := []string{
		"To: " + to,
		"Subject: " + mime.QEncoding.Encode("utf-8", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}
	return base64.RawURLEncoding.EncodeToString([]byte(strings.Join(headers, "\r\n")))
}
