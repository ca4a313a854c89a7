package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"chattie/internal/conversation"
	"chattie/internal/orchestrator"

	"github.com/gin-gonic/gin"
)

type fakeInbound struct {
	events chan orchestrator.InboundEvent
}

func newFakeInbound() *fakeInbound {
	return &fakeInbound{events: make(chan orchestrator.InboundEvent, 4)}
}

func (f *fakeInbound) HandleInbound(ctx context.Context, ev orchestrator.InboundEvent) error {
	f.events <- ev
	return nil
}

func (f *fakeInbound) wait(t *testing.T) orchestrator.InboundEvent {
	t.Helper()
	select {
	case ev := <-f.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("no event dispatched")
		return orchestrator.InboundEvent{}
	}
}

type fakeEmailChecker struct {
	calls int
	err   error
}

func (f *fakeEmailChecker) CheckNewEmails(ctx context.Context) error {
	f.calls++
	return f.err
}

func newTestRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.Register(r)
	return r
}

func signTwilio(token, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestTwilioWebhook_DispatchesEvent(t *testing.T) {
	inbound := newFakeInbound()
	h := NewHandler(inbound, nil, "tok", slog.Default())
	r := newTestRouter(h)

	form := url.Values{}
	form.Set("MessageSid", "SM123")
	form.Set("From", "whatsapp:+31612345678")
	form.Set("Body", "Hallo")
	form.Set("NumMedia", "1")
	form.Set("MediaUrl0", "https://api.twilio.com/media/1")
	form.Set("ProfileName", "Jan")

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", signTwilio("tok", "http://"+req.Host+"/webhook/whatsapp", form))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if got := w.Body.String(); got != "<Response></Response>" {
		t.Fatalf("body %q", got)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/xml") {
		t.Fatalf("content type %q", ct)
	}

	ev := inbound.wait(t)
	if ev.Channel != conversation.ChannelChat {
		t.Fatalf("channel %q", ev.Channel)
	}
	if ev.Phone != "+31612345678" {
		t.Fatalf("phone %q", ev.Phone)
	}
	if ev.ProviderMessageID != "SM123" || ev.Name != "Jan" {
		t.Fatalf("event %+v", ev)
	}
	if len(ev.MediaURLs) != 1 {
		t.Fatalf("media %v", ev.MediaURLs)
	}
}

func TestTwilioWebhook_RejectsBadSignature(t *testing.T) {
	inbound := newFakeInbound()
	h := NewHandler(inbound, nil, "tok", slog.Default())
	r := newTestRouter(h)

	form := url.Values{}
	form.Set("MessageSid", "SM123")
	form.Set("From", "whatsapp:+316")
	form.Set("Body", "Hallo")

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", "nonsense")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status %d", w.Code)
	}
	select {
	case ev := <-inbound.events:
		t.Fatalf("unexpected dispatch: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTwilioStatus_Acknowledges(t *testing.T) {
	h := NewHandler(newFakeInbound(), nil, "", slog.Default())
	r := newTestRouter(h)

	form := url.Values{}
	form.Set("MessageSid", "SM123")
	form.Set("MessageStatus", "delivered")

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
}

func TestUnipileWebhook_DispatchesEvent(t *testing.T) {
	inbound := newFakeInbound()
	h := NewHandler(inbound, nil, "", slog.Default())
	r := newTestRouter(h)

	body := `{
		"event": "message_received",
		"chat_id": "chat-1",
		"message_id": "msg-1",
		"message": "Hallo",
		"sender": {"attendee_provider_id": "31612345678@s.whatsapp.net", "attendee_name": "Jan"},
		"attachments": [{"type": "img", "url": "https://cdn/x.jpg"}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/unipile", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}

	ev := inbound.wait(t)
	if ev.Phone != "+31612345678" || ev.ThreadID != "chat-1" || ev.ProviderMessageID != "msg-1" {
		t.Fatalf("event %+v", ev)
	}
	if len(ev.MediaURLs) != 1 {
		t.Fatalf("media %v", ev.MediaURLs)
	}
}

func TestUnipileWebhook_FiltersOwnAndOtherEvents(t *testing.T) {
	inbound := newFakeInbound()
	h := NewHandler(inbound, nil, "", slog.Default())
	r := newTestRouter(h)

	for _, body := range []string{
		`{"event": "message_read", "message": "x"}`,
		`{
			"event": "message_received",
			"message": "sent by us",
			"sender": {"attendee_provider_id": "31699@s.whatsapp.net"},
			"account_info": {"user_id": "31699@s.whatsapp.net"}
		}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/webhook/unipile", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("status %d", w.Code)
		}
	}

	select {
	case ev := <-inbound.events:
		t.Fatalf("unexpected dispatch: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGmailCheck(t *testing.T) {
	checker := &fakeEmailChecker{}
	h := NewHandler(newFakeInbound(), checker, "", slog.Default())
	r := newTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/gmail/check", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if checker.calls != 1 {
		t.Fatalf("calls %d", checker.calls)
	}
}
