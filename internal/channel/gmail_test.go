package channel

import (
	"encoding/base64"
	"strings"
	"testing"

	gmail "google.golang.org/api/gmail/v1"
)

func TestEncodeRFC2822_RoundTrips(t *testing.T) {
	raw := encodeRFC2822("klant@example.com", "Re: Offerte", "Beste Jan,\n\nBedankt voor uw bericht.")
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		t.Fatalf("raw is not web-safe base64: %v", err)
	}
	text := string(decoded)
	if !strings.Contains(text, "To: klant@example.com\r\n") {
		t.Fatalf("missing To header:\n%s", text)
	}
	if !strings.Contains(text, "Subject: Re: Offerte\r\n") {
		t.Fatalf("missing Subject header:\n%s", text)
	}
	if !strings.HasSuffix(text, "Beste Jan,\n\nBedankt voor uw bericht.") {
		t.Fatalf("body mangled:\n%s", text)
	}
}

func b64(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

func TestExtractBody_SinglePart(t *testing.T) {
	p := &gmail.MessagePart{
		MimeType: "text/plain",
		Body:     &gmail.MessagePartBody{Data: b64("hallo")},
	}
	if got := extractBody(p); got != "hallo" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractBody_Multipart(t *testing.T) {
	p := &gmail.MessagePart{
		MimeType: "multipart/alternative",
		Parts: []*gmail.MessagePart{
			{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64("<p>hallo</p>")}},
			{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("hallo")}},
		},
	}
	if got := extractBody(p); got != "hallo" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractBody_NestedMultipart(t *testing.T) {
	p := &gmail.MessagePart{
		MimeType: "multipart/mixed",
		Parts: []*gmail.MessagePart{
			{
				MimeType: "multipart/alternative",
				Parts: []*gmail.MessagePart{
					{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("geneste tekst")}},
				},
			},
		},
	}
	if got := extractBody(p); got != "geneste tekst" {
		t.Fatalf("got %q", got)
	}
	if got := extractBody(nil); got != "" {
		t.Fatalf("nil payload should be empty, got %q", got)
	}
}
