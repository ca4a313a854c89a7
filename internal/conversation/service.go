package conversation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"chattie/pkg/utils"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Service owns contacts, conversations and the message transcript.
//
// Transcript invariants:
// - Every inbound message is persisted before any automation decides anything
// - Messages are append-only
// - One active conversation per (contact, channel); the DB index backs this up
type Service struct {
	db *sql.DB
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, clock: time.Now}
}

// contextWindow is how much transcript the AI sees.
const contextWindow = 20

// FindOrCreateContactByPhone upserts on the unique phone key. A non-empty
// name refreshes the stored one; an empty name never erases it.
func (s *Service) FindOrCreateContactByPhone(ctx context.Context, phone, name string) (Contact, error) {
	if phone == "" {
		return Contact{}, ErrInvalidArgument
	}
	return upsertContactByPhone(ctx, s.db, uuid.NewString(), phone, name, s.clock().UTC())
}

// FindOrCreateContactByEmail resolves a contact for the email channel.
func (s *Service) FindOrCreateContactByEmail(ctx context.Context, email, name string) (Contact, error) {
	if email == "" {
		return Contact{}, ErrInvalidArgument
	}
	now := s.clock().UTC()
	id := uuid.NewString()

	var out Contact
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		existing, ok, err := findContactByEmail(ctx, tx, email)
		if err != nil {
			return err
		}
		if ok {
			out = existing
			return nil
		}
		created, err := insertEmailContact(ctx, tx, id, email, name, now)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	return out, err
}

func (s *Service) GetContact(ctx context.Context, id string) (Contact, error) {
	if id == "" {
		return Contact{}, ErrInvalidArgument
	}
	return getContact(ctx, s.db, id)
}

func (s *Service) ListContacts(ctx context.Context) ([]ContactOverview, error) {
	return listContacts(ctx, s.db)
}

// GetOrCreateConversation returns the active conversation for the contact on
// the channel, creating one when none exists, together with the recent
// transcript window. Paused conversations stay out of reach here on purpose:
// the caller sees them through the returned status after an explicit lookup.
func (s *Service) GetOrCreateConversation(ctx context.Context, contactID string, ch Channel) (Conversation, []Message, error) {
	if contactID == "" || !validChannel(ch) {
		return Conversation{}, nil, ErrInvalidArgument
	}
	now := s.clock().UTC()
	id := uuid.NewString()

	var outConv Conversation
	var outMsgs []Message

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		existing, ok, err := findActiveConversation(ctx, tx, contactID, ch)
		if err != nil {
			return err
		}
		if ok {
			msgs, err := recentMessages(ctx, tx, existing.ID, contextWindow)
			if err != nil {
				return err
			}
			outConv = existing
			outMsgs = msgs
			return nil
		}
		created, err := insertConversation(ctx, tx, id, contactID, ch, now)
		if err != nil {
			return err
		}
		outConv = created
		return nil
	})
	return outConv, outMsgs, err
}

// FindConversationForInbound is GetOrCreateConversation minus the creation:
// it also surfaces paused conversations so automation can honor a human
// takeover instead of opening a parallel active thread.
func (s *Service) FindConversationForInbound(ctx context.Context, contactID string, ch Channel) (Conversation, []Message, bool, error) {
	if contactID == "" || !validChannel(ch) {
		return Conversation{}, nil, false, ErrInvalidArgument
	}

	var outConv Conversation
	var outMsgs []Message
	found := false

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{ReadOnly: true}, func(ctx context.Context, tx *sql.Tx) error {
		q := `
SELECT ` + conversationCols + `
FROM conversations
WHERE contact_id = $1 AND channel = $2 AND status IN ('active', 'paused')
ORDER BY created_at DESC
LIMIT 1
`
		v, err := scanConversation(tx.QueryRowContext(ctx, q, contactID, ch))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		msgs, err := recentMessages(ctx, tx, v.ID, contextWindow)
		if err != nil {
			return err
		}
		outConv = v
		outMsgs = msgs
		found = true
		return nil
	})
	return outConv, outMsgs, found, err
}

func (s *Service) GetConversation(ctx context.Context, id string) (Conversation, error) {
	if id == "" {
		return Conversation{}, ErrInvalidArgument
	}
	return getConversation(ctx, s.db, id)
}

// SaveMessage appends to the transcript.
func (s *Service) SaveMessage(ctx context.Context, conversationID, contactID string, dir Direction, content, providerMessageID string) (Message, error) {
	if conversationID == "" || contactID == "" || content == "" {
		return Message{}, ErrInvalidArgument
	}
	if dir != DirectionInbound && dir != DirectionOutbound {
		return Message{}, ErrInvalidArgument
	}
	m := Message{
		ID:                uuid.NewString(),
		ConversationID:    conversationID,
		ContactID:         contactID,
		Direction:         dir,
		Content:           content,
		ProviderMessageID: providerMessageID,
		CreatedAt:         s.clock().UTC(),
	}
	return insertMessage(ctx, s.db, m)
}

// History returns the full transcript in chronological order.
func (s *Service) History(ctx context.Context, conversationID string) ([]Message, error) {
	if conversationID == "" {
		return nil, ErrInvalidArgument
	}
	return listMessages(ctx, s.db, conversationID)
}

// ApplyCollectedInfo merges AI-collected fields into the contact. Known
// values are never overwritten with blanks; Extra keys land in custom_fields.
func (s *Service) ApplyCollectedInfo(ctx context.Context, contactID string, info CollectedInfo) error {
	if contactID == "" {
		return ErrInvalidArgument
	}
	if info.Empty() {
		return nil
	}
	return applyContactInfo(ctx, s.db, contactID, info, s.clock().UTC())
}

// AppendPhoto records a received media URL on the contact.
func (s *Service) AppendPhoto(ctx context.Context, contactID, url string) error {
	if contactID == "" || url == "" {
		return ErrInvalidArgument
	}
	return appendContactPhoto(ctx, s.db, contactID, url, s.clock().UTC())
}

// Pause hands the conversation to a human; automation skips paused threads.
func (s *Service) Pause(ctx context.Context, id string) (Conversation, error) {
	if id == "" {
		return Conversation{}, ErrInvalidArgument
	}
	return transitionConversation(ctx, s.db, id, StatusActive, StatusPaused, s.clock().UTC())
}

// Resume returns a paused conversation to automation.
func (s *Service) Resume(ctx context.Context, id string) (Conversation, error) {
	if id == "" {
		return Conversation{}, ErrInvalidArgument
	}
	return transitionConversation(ctx, s.db, id, StatusPaused, StatusActive, s.clock().UTC())
}

// Complete closes an active conversation. Completed conversations are never
// reopened; the next inbound message starts a fresh one.
func (s *Service) Complete(ctx context.Context, id string) (Conversation, error) {
	if id == "" {
		return Conversation{}, ErrInvalidArgument
	}
	return transitionConversation(ctx, s.db, id, StatusActive, StatusCompleted, s.clock().UTC())
}

// ResetContact removes the contact and, via FK cascade, every conversation,
// message and pending response attached to it.
func (s *Service) ResetContact(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidArgument
	}
	return deleteContact(ctx, s.db, id)
}

// Stats returns dashboard counters. TodayMessages counts from local midnight.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	now := s.clock()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return countStats(ctx, s.db, dayStart)
}

func validChannel(ch Channel) bool {
	return ch == ChannelChat || ch == ChannelEmail
}
