package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// TwilioSender sends WhatsApp messages through the Twilio Messages API.
// Twilio has no separate thread handle; the phone number is the thread.
type TwilioSender struct {
	accountSID string
	authToken  string
	fromNumber string

	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

func NewTwilioSender(accountSID, authToken, fromNumber string, logger *slog.Logger) *TwilioSender {
	return &TwilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    twilioAPIBase,
		logger:     logger,
	}
}

type twilioMessageResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Send ignores threadID; Twilio threads by phone number.
func (t *TwilioSender) Send(ctx context.Context, phone, threadID, message string) (string, error) {
	_ = threadID
	if phone == "" || message == "" {
		return "", fmt.Errorf("twilio: phone and message are required")
	}

	form := url.Values{}
	form.Set("From", ensureWhatsAppPrefix(t.fromNumber))
	form.Set("To", ensureWhatsAppPrefix(phone))
	form.Set("Body", message)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", t.baseURL, t.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("twilio send: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("twilio send: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out twilioMessageResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("twilio send: decode response: %w", err)
	}
	t.logger.Debug("twilio message sent", "to", phone, "sid", out.SID)
	return out.SID, nil
}

func ensureWhatsAppPrefix(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}

// TwilioInboundMessage captures the WhatsApp webhook form fields we use.
// Twilio sends application/x-www-form-urlencoded.
type TwilioInboundMessage struct {
	MessageSID  string
	AccountSID  string
	From        string
	To          string
	Body        string
	NumMedia    int
	MediaURL    string
	ProfileName string
}

func ParseTwilioInbound(r *http.Request) (TwilioInboundMessage, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioInboundMessage{}, err
	}
	numMedia, _ := strconv.Atoi(r.PostFormValue("NumMedia"))
	return TwilioInboundMessage{
		MessageSID:  r.PostFormValue("MessageSid"),
		AccountSID:  r.PostFormValue("AccountSid"),
		From:        r.PostFormValue("From"),
		To:          r.PostFormValue("To"),
		Body:        r.PostFormValue("Body"),
		NumMedia:    numMedia,
		MediaURL:    r.PostFormValue("MediaUrl0"),
		ProfileName: r.PostFormValue("ProfileName"),
	}, nil
}

// PhoneFromTwilio strips the whatsapp: prefix from a webhook address.
func PhoneFromTwilio(from string) string {
	return strings.TrimPrefix(from, "whatsapp:")
}

// ValidateTwilioSignature checks X-Twilio-Signature: HMAC-SHA1 over the full
// webhook URL with the sorted form parameters appended, keyed by the auth
// token. Ref: https://www.twilio.com/docs/usage/security#validating-requests
func ValidateTwilioSignature(authToken, signature, fullURL string, params url.Values) bool {
	if authToken == "" || signature == "" {
		return false
	}

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

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
