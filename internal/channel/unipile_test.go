package channel

import (
	"encoding/json"
	"testing"
)

func TestPhoneFromProviderID(t *testing.T) {
	if got := PhoneFromProviderID("31612345678@s.whatsapp.net"); got != "+31612345678" {
		t.Fatalf("got %q", got)
	}
	// Unrecognized ids pass through.
	if got := PhoneFromProviderID("group-abc@g.us.weird"); got != "group-abc@g.us.weird" {
		t.Fatalf("got %q", got)
	}
}

func TestWhatsAppID(t *testing.T) {
	if got := WhatsAppID("+31 6 1234-5678"); got != "31612345678@s.whatsapp.net" {
		t.Fatalf("got %q", got)
	}
}

func TestUnipileWebhook_IsOwnMessage(t *testing.T) {
	raw := `{
		"event": "message_received",
		"chat_id": "chat1",
		"message_id": "m1",
		"message": "hoi",
		"sender": {"attendee_provider_id": "31612345678@s.whatsapp.net", "attendee_name": "Jan"},
		"account_info": {"user_id": "31699999999@s.whatsapp.net"}
	}`
	var p UnipileWebhook
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.IsOwnMessage() {
		t.Fatalf("customer message misdetected as own")
	}

	p.AccountInfo.UserID = p.Sender.AttendeeProviderID
	if !p.IsOwnMessage() {
		t.Fatalf("own message not detected")
	}

	p.AccountInfo = nil
	if p.IsOwnMessage() {
		t.Fatalf("missing account info must not count as own")
	}
}
