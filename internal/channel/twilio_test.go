package channel

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
)

func twilioSign(authToken, fullURL string, params url.Values) string {
	// Reference implementation: URL + params concatenated in key order.
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
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidateTwilioSignature(t *testing.T) {
	const token = "test-auth-token"
	const fullURL = "https://example.com/webhooks/whatsapp"
	params := url.Values{}
	params.Set("MessageSid", "SM123")
	params.Set("From", "whatsapp:+31612345678")
	params.Set("Body", "Hallo")

	sig := twilioSign(token, fullURL, params)

	if !ValidateTwilioSignature(token, sig, fullURL, params) {
		t.Fatalf("expected valid signature")
	}
	if ValidateTwilioSignature(token, sig, fullURL+"?x=1", params) {
		t.Fatalf("expected invalid signature for different URL")
	}
	if ValidateTwilioSignature("other-token", sig, fullURL, params) {
		t.Fatalf("expected invalid signature for different token")
	}
	if ValidateTwilioSignature(token, "", fullURL, params) {
		t.Fatalf("expected invalid for empty signature")
	}
}

func TestParseTwilioInbound(t *testing.T) {
	form := url.Values{}
	form.Set("MessageSid", "SM123")
	form.Set("From", "whatsapp:+31612345678")
	form.Set("Body", "Mijn tuin is 50m2")
	form.Set("NumMedia", "1")
	form.Set("MediaUrl0", "https://media.example/photo.jpg")
	form.Set("ProfileName", "Jan")

	req := httptest.NewRequest("POST", "/webhooks/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	msg, err := ParseTwilioInbound(req)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.MessageSID != "SM123" {
		t.Fatalf("got sid %q", msg.MessageSID)
	}
	if msg.NumMedia != 1 || msg.MediaURL == "" {
		t.Fatalf("media not parsed: %+v", msg)
	}
	if PhoneFromTwilio(msg.From) != "+31612345678" {
		t.Fatalf("got phone %q", PhoneFromTwilio(msg.From))
	}
}

func TestEnsureWhatsAppPrefix(t *testing.T) {
	if got := ensureWhatsAppPrefix("+31612345678"); got != "whatsapp:+31612345678" {
		t.Fatalf("got %q", got)
	}
	if got := ensureWhatsAppPrefix("whatsapp:+31612345678"); got != "whatsapp:+31612345678" {
		t.Fatalf("got %q", got)
	}
}
