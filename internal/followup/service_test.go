package followup

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

func TestTemplate_AttemptSelection(t *testing.T) {
	s1, b1 := template(1, "Jan")
	if s1 != "Opvolging - Uw aanvraag" {
		t.Fatalf("attempt 1 subject %q", s1)
	}
	if !strings.Contains(b1, "Beste Jan,") {
		t.Fatalf("attempt 1 body missing name:\n%s", b1)
	}

	s2, _ := template(2, "Jan")
	if s2 != "Nogmaals: Uw aanvraag" {
		t.Fatalf("attempt 2 subject %q", s2)
	}

	s3, b3 := template(3, "Jan")
	if s3 != "Laatste bericht: Uw aanvraag" {
		t.Fatalf("attempt 3 subject %q", s3)
	}
	if !strings.Contains(b3, "sluit uw aanvraag voor nu af") {
		t.Fatalf("final body missing close-out:\n%s", b3)
	}

	// Beyond the range keeps using the final template.
	s4, _ := template(7, "Jan")
	if s4 != s3 {
		t.Fatalf("attempt 4 subject %q, want final", s4)
	}
}

func TestTemplate_FallbackName(t *testing.T) {
	_, body := template(1, "")
	if !strings.Contains(body, "Beste klant,") {
		t.Fatalf("expected fallback salutation:\n%s", body)
	}
}

func TestAdvanceFollowUp_SchedulesNextAttempt(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	st := advanceFollowUp(0, now)
	if st.Count != 1 || !st.Needs || st.Completed {
		t.Fatalf("first attempt: %+v", st)
	}
	if st.Next == nil || !st.Next.Equal(now.Add(48*time.Hour)) {
		t.Fatalf("first attempt next = %v, want now+48h", st.Next)
	}

	st = advanceFollowUp(st.Count, now)
	if st.Count != 2 || !st.Needs || st.Completed {
		t.Fatalf("second attempt: %+v", st)
	}
	if st.Next == nil || !st.Next.Equal(now.Add(48*time.Hour)) {
		t.Fatalf("second attempt next = %v, want now+48h", st.Next)
	}
}

func TestAdvanceFollowUp_FinalAttemptCompletes(t *testing.T) {
	now := time.Now().UTC()

	count := 0
	var st followUpState
	for i := 0; i < 3; i++ {
		st = advanceFollowUp(count, now)
		count = st.Count
	}
	if st.Count != 3 {
		t.Fatalf("count after three attempts = %d, want 3", st.Count)
	}
	if st.Needs {
		t.Fatal("needs_follow_up still set after final attempt")
	}
	if st.Next != nil {
		t.Fatalf("next_follow_up_at still scheduled: %v", st.Next)
	}
	if !st.Completed {
		t.Fatal("final attempt must complete the conversation")
	}
}

// fakeStore keeps conversations in memory and applies the same attempt
// bookkeeping as the database store, including the eligibility guard.
type fakeStore struct {
	convs map[string]*conversation.Conversation
	due   []dueConversation
	marks []string
}

func (f *fakeStore) mark(ctx context.Context, id string, now time.Time) (conversation.Conversation, error) {
	f.marks = append(f.marks, id)
	v, ok := f.convs[id]
	if !ok || (v.Status != conversation.StatusActive && v.Status != conversation.StatusPaused) {
		return conversation.Conversation{}, ErrNotFound
	}
	st := advanceFollowUp(v.FollowUpCount, now)
	v.FollowUpCount = st.Count
	v.NeedsFollowUp = st.Needs
	v.NextFollowUpAt = st.Next
	v.LastFollowUpAt = &now
	if st.Completed {
		v.Status = conversation.StatusCompleted
	}
	return *v, nil
}

func (f *fakeStore) unmark(ctx context.Context, id string, now time.Time) error {
	v, ok := f.convs[id]
	if !ok {
		return ErrNotFound
	}
	v.NeedsFollowUp = false
	v.NextFollowUpAt = nil
	return nil
}

func (f *fakeStore) listDue(ctx context.Context, now time.Time) ([]dueConversation, error) {
	return f.due, nil
}

type fakeMailbox struct {
	drafts []channel.Email
	err    error
}

func (f *fakeMailbox) ListUnread(ctx context.Context, max int) ([]channel.Email, error) {
	return nil, nil
}

func (f *fakeMailbox) ListUnprocessed(ctx context.Context, label string, max int) ([]channel.Email, error) {
	return nil, nil
}

func (f *fakeMailbox) MarkRead(ctx context.Context, id string) error { return nil }

func (f *fakeMailbox) AddLabel(ctx context.Context, id, label string) error { return nil }

func (f *fakeMailbox) CreateDraft(ctx context.Context, to, subject, body, threadID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.drafts = append(f.drafts, channel.Email{To: to, Subject: subject, Body: body})
	return "draft-1", nil
}

func (f *fakeMailbox) Send(ctx context.Context, to, subject, body, threadID string) (string, error) {
	return "", errors.New("unexpected send")
}

func testService(store *fakeStore, mail *fakeMailbox) *Service {
	return &Service{store: store, mail: mail, logger: slog.Default(), clock: time.Now}
}

func TestService_Mark_ThirdCallCompletes(t *testing.T) {
	store := &fakeStore{convs: map[string]*conversation.Conversation{
		"c1": {ID: "c1", Status: conversation.StatusActive},
	}}
	svc := testService(store, &fakeMailbox{})
	ctx := context.Background()

	v, err := svc.Mark(ctx, "c1")
	if err != nil {
		t.Fatalf("first mark: %v", err)
	}
	if v.FollowUpCount != 1 || !v.NeedsFollowUp || v.NextFollowUpAt == nil {
		t.Fatalf("after first mark: %+v", v)
	}

	if v, err = svc.Mark(ctx, "c1"); err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if v.FollowUpCount != 2 || !v.NeedsFollowUp {
		t.Fatalf("after second mark: %+v", v)
	}

	if v, err = svc.Mark(ctx, "c1"); err != nil {
		t.Fatalf("third mark: %v", err)
	}
	if v.FollowUpCount != 3 {
		t.Fatalf("count = %d, want 3", v.FollowUpCount)
	}
	if v.NeedsFollowUp || v.NextFollowUpAt != nil {
		t.Fatalf("still armed after final attempt: %+v", v)
	}
	if v.Status != conversation.StatusCompleted {
		t.Fatalf("status = %s, want completed", v.Status)
	}

	// Completed conversations take no further attempts.
	if _, err := svc.Mark(ctx, "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("mark after completion: %v, want ErrNotFound", err)
	}
}

func TestService_Run_DraftsAndRecordsAttempt(t *testing.T) {
	next := time.Now().UTC().Add(-time.Minute)
	store := &fakeStore{
		convs: map[string]*conversation.Conversation{
			"c1": {ID: "c1", Status: conversation.StatusActive, FollowUpCount: 1, NeedsFollowUp: true, NextFollowUpAt: &next},
		},
	}
	store.due = []dueConversation{{
		Conversation: *store.convs["c1"],
		ContactName:  "Jan",
		ContactEmail: "jan@example.nl",
	}}
	mail := &fakeMailbox{}
	svc := testService(store, mail)

	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(mail.drafts) != 1 {
		t.Fatalf("drafts = %d, want 1", len(mail.drafts))
	}
	if mail.drafts[0].Subject != "Nogmaals: Uw aanvraag" {
		t.Fatalf("draft subject %q, want second template", mail.drafts[0].Subject)
	}
	if got := store.convs["c1"].FollowUpCount; got != 2 {
		t.Fatalf("count after run = %d, want 2", got)
	}
	if !store.convs["c1"].NeedsFollowUp {
		t.Fatal("conversation should stay armed after a non-final attempt")
	}
}

func TestService_Run_FinalAttemptDraftsCloseOut(t *testing.T) {
	next := time.Now().UTC().Add(-time.Minute)
	store := &fakeStore{
		convs: map[string]*conversation.Conversation{
			"c1": {ID: "c1", Status: conversation.StatusActive, FollowUpCount: 2, NeedsFollowUp: true, NextFollowUpAt: &next},
		},
	}
	store.due = []dueConversation{{
		Conversation: *store.convs["c1"],
		ContactName:  "Jan",
		ContactEmail: "jan@example.nl",
	}}
	mail := &fakeMailbox{}
	svc := testService(store, mail)

	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(mail.drafts) != 1 {
		t.Fatalf("drafts = %d, want 1", len(mail.drafts))
	}
	if mail.drafts[0].Subject != "Laatste bericht: Uw aanvraag" {
		t.Fatalf("draft subject %q, want final template", mail.drafts[0].Subject)
	}
	if store.convs["c1"].Status != conversation.StatusCompleted {
		t.Fatalf("status = %s, want completed", store.convs["c1"].Status)
	}
}

func TestService_Run_SkipsContactsWithoutEmail(t *testing.T) {
	store := &fakeStore{
		convs: map[string]*conversation.Conversation{
			"c1": {ID: "c1", Status: conversation.StatusActive, NeedsFollowUp: true},
		},
		due: []dueConversation{{
			Conversation: conversation.Conversation{ID: "c1", Status: conversation.StatusActive},
			ContactName:  "Jan",
		}},
	}
	mail := &fakeMailbox{}
	svc := testService(store, mail)

	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(mail.drafts) != 0 {
		t.Fatalf("drafts = %d, want 0", len(mail.drafts))
	}
	if len(store.marks) != 0 {
		t.Fatal("skipping must not consume an attempt")
	}
}

func TestService_Mark_RejectsEmptyID(t *testing.T) {
	svc := NewService((*sql.DB)(nil), nil, slog.Default())
	if _, err := svc.Mark(context.Background(), ""); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if err := svc.Unmark(context.Background(), ""); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestDueConversation_ContactLabel(t *testing.T) {
	d := dueConversation{ContactName: "Jan", ContactPhone: "+316"}
	if d.contactLabel() != "Jan" {
		t.Fatalf("got %q", d.contactLabel())
	}
	d.ContactName = ""
	if d.contactLabel() != "+316" {
		t.Fatalf("got %q", d.contactLabel())
	}
}
