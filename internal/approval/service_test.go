package approval

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"chattie/internal/channel"
	"chattie/internal/conversation"
)

func testService() *Service {
	return NewService((*sql.DB)(nil), nil, nil, nil, "owner@bedrijf.nl", slog.Default())
}

// memStore keeps pending responses in memory. Transitions honor the same
// pending-only guard as the database store.
type memStore struct {
	pendings map[string]*PendingResponse
	details  map[string]Detail
}

func (m *memStore) insert(ctx context.Context, p PendingResponse) (PendingResponse, error) {
	p.Status = StatusPending
	m.pendings[p.ID] = &p
	return p, nil
}

func (m *memStore) setEmailID(ctx context.Context, id, emailID string, now time.Time) error {
	p, ok := m.pendings[id]
	if !ok {
		return ErrNotFound
	}
	p.ApprovalEmailID = emailID
	return nil
}

func (m *memStore) transition(ctx context.Context, id string, to Status, now time.Time) (PendingResponse, error) {
	p, ok := m.pendings[id]
	if !ok || p.Status != StatusPending {
		return PendingResponse{}, ErrNotFound
	}
	p.Status = to
	p.RespondedAt = &now
	return *p, nil
}

func (m *memStore) get(ctx context.Context, id string) (PendingResponse, error) {
	p, ok := m.pendings[id]
	if !ok {
		return PendingResponse{}, ErrNotFound
	}
	return *p, nil
}

func (m *memStore) detail(ctx context.Context, id string) (Detail, error) {
	d, ok := m.details[id]
	if !ok {
		return Detail{}, ErrNotFound
	}
	d.PendingResponse = *m.pendings[id]
	return d, nil
}

func (m *memStore) listOpen(ctx context.Context) ([]Detail, error) {
	var out []Detail
	for id, p := range m.pendings {
		if p.Status != StatusPending {
			continue
		}
		d := m.details[id]
		d.PendingResponse = *p
		out = append(out, d)
	}
	return out, nil
}

func (m *memStore) listByConversation(ctx context.Context, conversationID string) ([]PendingResponse, error) {
	var out []PendingResponse
	for _, p := range m.pendings {
		if p.ConversationID == conversationID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memStore) countOpen(ctx context.Context) (int, error) {
	n := 0
	for _, p := range m.pendings {
		if p.Status == StatusPending {
			n++
		}
	}
	return n, nil
}

type fakeChat struct {
	sends []string
	err   error
}

func (f *fakeChat) Send(ctx context.Context, phone, threadID, message string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sends = append(f.sends, message)
	return "wa-1", nil
}

type fakeMailbox struct {
	sent   []channel.Email
	unread []channel.Email
	read   []string
}

func (f *fakeMailbox) ListUnread(ctx context.Context, max int) ([]channel.Email, error) {
	return f.unread, nil
}

func (f *fakeMailbox) ListUnprocessed(ctx context.Context, label string, max int) ([]channel.Email, error) {
	return nil, nil
}

func (f *fakeMailbox) MarkRead(ctx context.Context, id string) error {
	f.read = append(f.read, id)
	return nil
}

func (f *fakeMailbox) AddLabel(ctx context.Context, id, label string) error { return nil }

func (f *fakeMailbox) CreateDraft(ctx context.Context, to, subject, body, threadID string) (string, error) {
	return "draft-1", nil
}

func (f *fakeMailbox) Send(ctx context.Context, to, subject, body, threadID string) (string, error) {
	f.sent = append(f.sent, channel.Email{To: to, Subject: subject, Body: body})
	return "mail-1", nil
}

type fakeRecorder struct {
	saved []conversation.Message
}

func (f *fakeRecorder) SaveMessage(ctx context.Context, conversationID, contactID string, dir conversation.Direction, content, providerMessageID string) (conversation.Message, error) {
	msg := conversation.Message{
		ConversationID:    conversationID,
		ContactID:         contactID,
		Direction:         dir,
		Content:           content,
		ProviderMessageID: providerMessageID,
	}
	f.saved = append(f.saved, msg)
	return msg, nil
}

// pendingFixture seeds one open chat draft and wires a service around fakes.
func pendingFixture() (*Service, *memStore, *fakeChat, *fakeMailbox, *fakeRecorder) {
	store := &memStore{
		pendings: map[string]*PendingResponse{
			"p1": {
				ID:                "p1",
				ConversationID:    "c1",
				OriginalMessage:   "Wat kost tuinonderhoud?",
				SuggestedResponse: "Dat hangt af van de grootte.",
				Status:            StatusPending,
				ApprovalEmailID:   "note-1",
			},
		},
		details: map[string]Detail{
			"p1": {
				Channel:      conversation.ChannelChat,
				ContactID:    "ct1",
				ContactName:  "Jan",
				ContactPhone: "+31612345678",
			},
		},
	}
	chat := &fakeChat{}
	mail := &fakeMailbox{}
	rec := &fakeRecorder{}
	svc := &Service{
		store:      store,
		convs:      rec,
		chat:       chat,
		mail:       mail,
		logger:     slog.Default(),
		ownerEmail: "owner@bedrijf.nl",
		clock:      time.Now,
	}
	return svc, store, chat, mail, rec
}

func TestService_Create_RejectsInvalidArgs(t *testing.T) {
	svc := testService()

	if _, err := svc.Create(context.Background(), "", "+316", "vraag", "antwoord", conversation.ChannelChat); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.Create(context.Background(), "cv", "+316", "", "antwoord", conversation.ChannelChat); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.Create(context.Background(), "cv", "+316", "vraag", "", conversation.ChannelChat); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestService_Approve_RejectsEmptyID(t *testing.T) {
	svc := testService()
	if _, err := svc.Approve(context.Background(), "", ""); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.Reject(context.Background(), ""); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestService_Approve_DeliversAndRecords(t *testing.T) {
	svc, store, chat, _, rec := pendingFixture()

	p, err := svc.Approve(context.Background(), "p1", "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if p.Status != StatusApproved {
		t.Fatalf("status = %s, want approved", p.Status)
	}
	if len(chat.sends) != 1 || chat.sends[0] != "Dat hangt af van de grootte." {
		t.Fatalf("chat sends = %v", chat.sends)
	}
	if len(rec.saved) != 1 || rec.saved[0].Direction != conversation.DirectionOutbound {
		t.Fatalf("saved messages = %v", rec.saved)
	}
	if store.pendings["p1"].Status != StatusApproved {
		t.Fatalf("stored status = %s", store.pendings["p1"].Status)
	}
}

func TestService_Approve_ModifiedTextGoesOut(t *testing.T) {
	svc, _, chat, _, _ := pendingFixture()

	p, err := svc.Approve(context.Background(), "p1", "Mijn eigen antwoord.")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if p.Status != StatusModified {
		t.Fatalf("status = %s, want modified", p.Status)
	}
	if len(chat.sends) != 1 || chat.sends[0] != "Mijn eigen antwoord." {
		t.Fatalf("chat sends = %v", chat.sends)
	}
}

func TestService_Approve_TerminalStateIsFinal(t *testing.T) {
	svc, _, chat, _, _ := pendingFixture()
	ctx := context.Background()

	if _, err := svc.Approve(ctx, "p1", ""); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	if _, err := svc.Approve(ctx, "p1", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second approve: %v, want ErrNotFound", err)
	}
	if len(chat.sends) != 1 {
		t.Fatalf("sends = %d, want exactly 1", len(chat.sends))
	}
}

func TestService_Reject_BlocksLaterApprove(t *testing.T) {
	svc, store, chat, _, _ := pendingFixture()
	ctx := context.Background()

	p, err := svc.Reject(ctx, "p1")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if p.Status != StatusRejected {
		t.Fatalf("status = %s, want rejected", p.Status)
	}
	if _, err := svc.Approve(ctx, "p1", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("approve after reject: %v, want ErrNotFound", err)
	}
	if len(chat.sends) != 0 {
		t.Fatalf("rejected draft must never be sent, got %v", chat.sends)
	}
	if store.pendings["p1"].Status != StatusRejected {
		t.Fatalf("stored status = %s", store.pendings["p1"].Status)
	}
}

// ownerVerdictEmail builds a realistic owner reply: the verdict typed above
// the client's attribution line and the quoted notification, which carries
// the Ref line.
func ownerVerdictEmail(id, verdict, pendingID string) channel.Email {
	_, quoted := approvalEmail("+31612345678", "Wat kost tuinonderhoud?", "Dat hangt af van de grootte.", conversation.ChannelChat, pendingID)
	return channel.Email{
		ID:   id,
		From: "Eigenaar <owner@bedrijf.nl>",
		Body: verdict + "\n\nOp vr 28 aug 2026 om 09:00 schreef Chattie <assistent@bedrijf.nl>:\n\n" + quoted,
	}
}

func TestService_ProcessOwnerReplies_ApprovesAndMarksRead(t *testing.T) {
	svc, store, chat, mail, _ := pendingFixture()
	mail.unread = []channel.Email{ownerVerdictEmail("m1", "OK", "p1")}

	if err := svc.ProcessOwnerReplies(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if store.pendings["p1"].Status != StatusApproved {
		t.Fatalf("status = %s, want approved", store.pendings["p1"].Status)
	}
	if len(chat.sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(chat.sends))
	}
	if len(mail.read) != 1 || mail.read[0] != "m1" {
		t.Fatalf("read = %v, want [m1]", mail.read)
	}
}

func TestService_ProcessOwnerReplies_DeliveryFailureStillMarksRead(t *testing.T) {
	svc, store, chat, mail, _ := pendingFixture()
	chat.err = errors.New("whatsapp down")
	mail.unread = []channel.Email{ownerVerdictEmail("m1", "OK", "p1")}

	if err := svc.ProcessOwnerReplies(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	// The verdict is recorded even though delivery failed.
	if store.pendings["p1"].Status != StatusApproved {
		t.Fatalf("status = %s, want approved", store.pendings["p1"].Status)
	}
	// The source email is consumed so the next scan does not replay it.
	if len(mail.read) != 1 || mail.read[0] != "m1" {
		t.Fatalf("read = %v, want [m1]", mail.read)
	}
}

func TestService_ProcessOwnerReplies_IgnoresOtherSenders(t *testing.T) {
	svc, store, chat, mail, _ := pendingFixture()
	email := ownerVerdictEmail("m1", "OK", "p1")
	email.From = "Klant <klant@example.nl>"
	mail.unread = []channel.Email{email}

	if err := svc.ProcessOwnerReplies(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if store.pendings["p1"].Status != StatusPending {
		t.Fatalf("status = %s, want pending", store.pendings["p1"].Status)
	}
	if len(chat.sends) != 0 || len(mail.read) != 0 {
		t.Fatalf("non-owner email acted on: sends=%v read=%v", chat.sends, mail.read)
	}
}

func TestApprovalEmail_Format(t *testing.T) {
	subject, body := approvalEmail("+31612345678", "Wat kost tuinonderhoud?", "Dat hangt af van de grootte.", conversation.ChannelChat, "pend-1")

	if subject != "[Chattie] Nieuw WhatsApp bericht - Goedkeuring gevraagd" {
		t.Fatalf("got subject %q", subject)
	}
	for _, want := range []string{
		"Van: +31612345678",
		"Wat kost tuinonderhoud?",
		"VOORGESTELD ANTWOORD",
		"Dat hangt af van de grootte.",
		"Ref: pend-1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}

	subject, _ = approvalEmail("klant@x.nl", "vraag", "antwoord", conversation.ChannelEmail, "pend-2")
	if !strings.Contains(subject, "e-mail") {
		t.Fatalf("email channel subject wrong: %q", subject)
	}
}

func TestApprovalEmail_ReplySurvivesExtraction(t *testing.T) {
	// A verdict typed above a quoted approval email must come back clean.
	_, body := approvalEmail("+316", "vraag", "antwoord", conversation.ChannelChat, "pend-3")
	reply := "OK\n\nOp 1 maart 2026 schreef Chattie <assistent@bedrijf.nl>:\n\n" + body

	if got := ExtractReplyContent(reply); got != "OK" {
		t.Fatalf("got %q", got)
	}

	// Some clients keep only the separator line; the verdict still survives.
	if got := ExtractReplyContent("OK\n\n═══════\nBERICHT VAN KLANT"); got != "OK" {
		t.Fatalf("got %q", got)
	}
}

func TestFindRef(t *testing.T) {
	open := map[string]Detail{
		"pend-1": {},
		"pend-2": {},
	}
	id, ok := findRef("Verstuur\n\nRef: pend-2\n", open)
	if !ok || id != "pend-2" {
		t.Fatalf("got %q %v", id, ok)
	}
	if _, ok := findRef("geen referentie hier", open); ok {
		t.Fatalf("expected no match")
	}
	// A closed id is not matched even if referenced.
	if _, ok := findRef("Ref: pend-9", open); ok {
		t.Fatalf("expected no match for unknown id")
	}
}
