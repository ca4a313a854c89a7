// Package followup schedules and drafts reminder emails for conversations
// that went quiet before all information was collected. Drafts only: the
// owner reviews and sends them from the mailbox.
package followup

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"chattie/internal/channel"
	"chattie/internal/conversation"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

// retryInterval is the gap between reminder attempts.
const retryInterval = 48 * time.Hour

// store isolates persistence from the reminder flow.
type store interface {
	mark(ctx context.Context, id string, now time.Time) (conversation.Conversation, error)
	unmark(ctx context.Context, id string, now time.Time) error
	listDue(ctx context.Context, now time.Time) ([]dueConversation, error)
}

type Service struct {
	store  store
	mail   channel.Mailbox
	logger *slog.Logger
	clock  func() time.Time
}

func NewService(db *sql.DB, mail channel.Mailbox, logger *slog.Logger) *Service {
	return &Service{store: dbStore{db: db}, mail: mail, logger: logger, clock: time.Now}
}

// followUpState is the bookkeeping outcome of recording one attempt.
type followUpState struct {
	Count     int
	Needs     bool
	Next      *time.Time
	Completed bool
}

// advanceFollowUp records one follow-up attempt. The counter goes up; below
// the cap the next reminder lands after retryInterval, and the final attempt
// clears the flag and completes the conversation.
func advanceFollowUp(count int, now time.Time) followUpState {
	st := followUpState{Count: count + 1}
	if st.Count < maxFollowUps {
		st.Needs = true
		next := now.Add(retryInterval)
		st.Next = &next
	} else {
		st.Completed = true
	}
	return st
}

// Mark records a follow-up attempt on the conversation: the counter is
// incremented and the next reminder is scheduled retryInterval out. The call
// that reaches maxFollowUps completes the conversation instead.
func (s *Service) Mark(ctx context.Context, conversationID string) (conversation.Conversation, error) {
	if conversationID == "" {
		return conversation.Conversation{}, ErrInvalidArgument
	}
	return s.store.mark(ctx, conversationID, s.clock().UTC())
}

// Unmark disarms follow-up without touching the counter.
func (s *Service) Unmark(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return ErrInvalidArgument
	}
	return s.store.unmark(ctx, conversationID, s.clock().UTC())
}

// Run drafts reminders for all due conversations and records each attempt.
// Contacts without an email address are skipped with a log line; one failing
// conversation does not stop the rest.
func (s *Service) Run(ctx context.Context) error {
	now := s.clock().UTC()
	due, err := s.store.listDue(ctx, now)
	if err != nil {
		return err
	}

	for _, d := range due {
		if d.ContactEmail == "" {
			s.logger.Info("follow-up skipped, contact has no email",
				"conversation_id", d.Conversation.ID, "contact", d.contactLabel())
			continue
		}

		attempt := d.Conversation.FollowUpCount + 1
		subject, body := template(attempt, d.ContactName)
		if _, err := s.mail.CreateDraft(ctx, d.ContactEmail, subject, body, ""); err != nil {
			s.logger.Error("follow-up draft failed",
				"conversation_id", d.Conversation.ID, "error", err)
			continue
		}
		s.logger.Info("follow-up draft created",
			"conversation_id", d.Conversation.ID,
			"attempt", attempt,
			"of", maxFollowUps)

		if _, err := s.store.mark(ctx, d.Conversation.ID, now); err != nil {
			if errors.Is(err, ErrNotFound) {
				// Closed between listing and marking; the draft is harmless.
				continue
			}
			s.logger.Error("recording follow-up attempt failed",
				"conversation_id", d.Conversation.ID, "error", err)
		}
	}
	return nil
}
