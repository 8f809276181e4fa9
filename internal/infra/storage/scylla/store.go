package scylla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"rentchat/internal/app/messaging"
	"rentchat/internal/domain/chat"
)

const conversationColumns = `id, participants, service_id, hidden_for, created_at, updated_at, last_message_id, last_message_sender_id, last_message_text, last_message_at, last_message_read_at`

var errNoSession = errors.New("scylla session not initialized")

// Store implements messaging.Repository on Scylla.
type Store struct {
	session *gocql.Session
	logger  *slog.Logger
}

// NewStore builds a Store.
func NewStore(session *gocql.Session, logger *slog.Logger) *Store {
	return &Store{session: session, logger: logger}
}

// Ping runs a trivial query against the cluster.
func (s *Store) Ping(ctx context.Context) error {
	if s.session == nil {
		return errNoSession
	}
	var version string
	return s.session.Query(`SELECT release_version FROM system.local`).WithContext(ctx).Consistency(gocql.One).Scan(&version)
}

func (s *Store) UpsertParticipant(ctx context.Context, p chat.Participant) error {
	if s.session == nil {
		return errNoSession
	}
	return s.session.
		Query(`INSERT INTO participants (id, display_name, avatar_url, last_seen_at) VALUES (?, ?, ?, ?)`,
			p.ID, p.DisplayName, p.AvatarURL, nullTimePtr(p.LastSeenAt)).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec()
}

func (s *Store) TouchParticipant(ctx context.Context, participantID string, at time.Time) error {
	if _, err := s.Participant(ctx, participantID); err != nil {
		return err
	}
	return s.session.
		Query(`UPDATE participants SET last_seen_at = ? WHERE id = ?`, at.UTC(), participantID).
		WithContext(ctx).
		Consistency(gocql.One).
		Exec()
}

func (s *Store) Participant(ctx context.Context, participantID string) (chat.Participant, error) {
	if s.session == nil {
		return chat.Participant{}, errNoSession
	}
	var (
		p    chat.Participant
		seen time.Time
	)
	if err := s.session.
		Query(`SELECT id, display_name, avatar_url, last_seen_at FROM participants WHERE id = ? LIMIT 1`, participantID).
		WithContext(ctx).
		Consistency(gocql.One).
		Scan(&p.ID, &p.DisplayName, &p.AvatarURL, &seen); err != nil {
		return chat.Participant{}, notFound(err)
	}
	p.LastSeenAt = timePtr(seen)
	return p, nil
}

func (s *Store) UpsertService(ctx context.Context, svc chat.ServiceRef) error {
	if s.session == nil {
		return errNoSession
	}
	return s.session.
		Query(`INSERT INTO services (id, name) VALUES (?, ?)`, svc.ID, svc.Name).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec()
}

func (s *Store) Service(ctx context.Context, serviceID string) (chat.ServiceRef, error) {
	if s.session == nil {
		return chat.ServiceRef{}, errNoSession
	}
	var svc chat.ServiceRef
	if err := s.session.
		Query(`SELECT id, name FROM services WHERE id = ? LIMIT 1`, serviceID).
		WithContext(ctx).
		Consistency(gocql.One).
		Scan(&svc.ID, &svc.Name); err != nil {
		return chat.ServiceRef{}, notFound(err)
	}
	return svc, nil
}

// CreateConversation claims the participant pair with a lightweight
// transaction before writing the conversation row.
func (s *Store) CreateConversation(ctx context.Context, rec messaging.ConversationRecord) error {
	if s.session == nil {
		return errNoSession
	}
	participants := messaging.NormalizeParticipants(rec.ParticipantIDs)
	key := pairKey(participants)
	existing := map[string]interface{}{}
	applied, err := s.session.
		Query(`INSERT INTO conversations_by_pair (pair_key, service_id, conversation_id) VALUES (?, ?, ?) IF NOT EXISTS`,
			key, rec.ServiceID, rec.ID).
		WithContext(ctx).
		MapScanCAS(existing)
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("scylla: conversation for %v already exists", participants)
	}
	return s.session.
		Query(`INSERT INTO conversations (id, pair_key, service_id, participants, hidden_for, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, key, rec.ServiceID, participants, rec.HiddenFor, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC()).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec()
}

func (s *Store) Conversation(ctx context.Context, conversationID string) (messaging.ConversationRecord, error) {
	if s.session == nil {
		return messaging.ConversationRecord{}, errNoSession
	}
	var row conversationRow
	if err := s.session.
		Query(`SELECT `+conversationColumns+` FROM conversations WHERE id = ? LIMIT 1`, conversationID).
		WithContext(ctx).
		Consistency(gocql.One).
		Scan(row.dest()...); err != nil {
		return messaging.ConversationRecord{}, notFound(err)
	}
	return row.toRecord(), nil
}

func (s *Store) FindConversation(ctx context.Context, participantIDs []string, serviceID string) (messaging.ConversationRecord, error) {
	if s.session == nil {
		return messaging.ConversationRecord{}, errNoSession
	}
	var id string
	if err := s.session.
		Query(`SELECT conversation_id FROM conversations_by_pair WHERE pair_key = ? AND service_id = ? LIMIT 1`,
			pairKey(participantIDs), serviceID).
		WithContext(ctx).
		Consistency(gocql.One).
		Scan(&id); err != nil {
		return messaging.ConversationRecord{}, notFound(err)
	}
	return s.Conversation(ctx, id)
}

func (s *Store) ConversationsFor(ctx context.Context, participantID string) ([]messaging.ConversationRecord, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	iter := s.session.
		Query(`SELECT `+conversationColumns+` FROM conversations WHERE participants CONTAINS ? ALLOW FILTERING`, participantID).
		WithContext(ctx).
		Consistency(gocql.One).
		Iter()

	out := make([]messaging.ConversationRecord, 0)
	var row conversationRow
	for iter.Scan(row.dest()...) {
		rec := row.toRecord()
		if !rec.HiddenBy(participantID) {
			out = append(out, rec)
		}
		row = conversationRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Hide(ctx context.Context, conversationID, participantID string) error {
	if _, err := s.Conversation(ctx, conversationID); err != nil {
		return err
	}
	return s.session.
		Query(`UPDATE conversations SET hidden_for = hidden_for + ? WHERE id = ?`, []string{participantID}, conversationID).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec()
}

func (s *Store) AppendMessage(ctx context.Context, msg chat.Message) error {
	rec, err := s.Conversation(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	at := msg.CreatedAt.UTC()
	if err := s.session.
		Query(`INSERT INTO messages (conversation_id, created_at, message_id, sender_id, text, read_at) VALUES (?, ?, ?, ?, ?, ?)`,
			msg.ConversationID, at, msg.ID, msg.SenderID, msg.Content, nullTimePtr(msg.ReadAt)).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec(); err != nil {
		return err
	}

	updatedAt := rec.UpdatedAt
	if at.After(updatedAt) {
		updatedAt = at
	}
	if rec.LastMessage != nil && at.Before(rec.LastMessage.CreatedAt) {
		return s.session.
			Query(`UPDATE conversations SET hidden_for = {}, updated_at = ? WHERE id = ?`, updatedAt, msg.ConversationID).
			WithContext(ctx).
			Consistency(gocql.One).
			Exec()
	}
	if err := s.session.
		Query(`UPDATE conversations SET hidden_for = {}, updated_at = ?, last_message_id = ?, last_message_sender_id = ?, last_message_text = ?, last_message_at = ?, last_message_read_at = ? WHERE id = ?`,
			updatedAt, msg.ID, msg.SenderID, trimSnippet(msg.Content, 500), at, nullTimePtr(msg.ReadAt), msg.ConversationID).
		WithContext(ctx).
		Consistency(gocql.One).
		Exec(); err != nil {
		if s.logger != nil {
			s.logger.Warn("failed to update last message meta", "error", err, "conversation_id", msg.ConversationID)
		}
		return err
	}
	return nil
}

func (s *Store) Messages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	iter := s.session.
		Query(`SELECT conversation_id, created_at, message_id, sender_id, text, read_at FROM messages WHERE conversation_id = ?`, conversationID).
		WithContext(ctx).
		Consistency(gocql.One).
		Iter()

	out := make([]chat.Message, 0)
	var (
		convID    string
		createdAt time.Time
		messageID string
		sender    string
		text      string
		readAt    time.Time
	)
	for iter.Scan(&convID, &createdAt, &messageID, &sender, &text, &readAt) {
		msg := chat.Message{
			ID:             messageID,
			ConversationID: convID,
			SenderID:       sender,
			Content:        text,
			CreatedAt:      createdAt.UTC(),
			ReadAt:         timePtr(readAt),
		}
		out = append(out, msg)
		readAt = time.Time{}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) (int, error) {
	msgs, err := s.Messages(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	at = at.UTC()
	changed := 0
	for _, msg := range msgs {
		if msg.SenderID == readerID || msg.IsRead() {
			continue
		}
		if err := s.session.
			Query(`UPDATE messages SET read_at = ? WHERE conversation_id = ? AND created_at = ? AND message_id = ?`,
				at, conversationID, msg.CreatedAt, msg.ID).
			WithContext(ctx).
			Consistency(gocql.Quorum).
			Exec(); err != nil {
			return changed, err
		}
		changed++
	}
	if changed == 0 {
		return 0, nil
	}
	rec, err := s.Conversation(ctx, conversationID)
	if err != nil {
		return changed, err
	}
	if lm := rec.LastMessage; lm != nil && lm.SenderID != readerID && lm.ReadAt == nil && !lm.CreatedAt.After(at) {
		if err := s.session.
			Query(`UPDATE conversations SET last_message_read_at = ? WHERE id = ?`, at, conversationID).
			WithContext(ctx).
			Consistency(gocql.One).
			Exec(); err != nil {
			return changed, err
		}
	}
	return changed, nil
}

func (s *Store) CountUnread(ctx context.Context, conversationID, readerID string) (int, error) {
	msgs, err := s.Messages(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, msg := range msgs {
		if msg.SenderID != readerID && !msg.IsRead() {
			n++
		}
	}
	return n, nil
}

type conversationRow struct {
	ID           string
	Participants []string
	ServiceID    string
	HiddenFor    []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastID       string
	LastSender   string
	LastText     string
	LastAt       time.Time
	LastReadAt   time.Time
}

func (r *conversationRow) dest() []interface{} {
	return []interface{}{
		&r.ID, &r.Participants, &r.ServiceID, &r.HiddenFor, &r.CreatedAt, &r.UpdatedAt,
		&r.LastID, &r.LastSender, &r.LastText, &r.LastAt, &r.LastReadAt,
	}
}

func (r conversationRow) toRecord() messaging.ConversationRecord {
	rec := messaging.ConversationRecord{
		ID:             r.ID,
		ParticipantIDs: messaging.NormalizeParticipants(r.Participants),
		ServiceID:      r.ServiceID,
		HiddenFor:      append([]string(nil), r.HiddenFor...),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if r.LastID != "" {
		rec.LastMessage = &chat.LastMessage{
			ID:        r.LastID,
			Content:   r.LastText,
			SenderID:  r.LastSender,
			CreatedAt: r.LastAt.UTC(),
			ReadAt:    timePtr(r.LastReadAt),
		}
	}
	return rec
}

func pairKey(participantIDs []string) string {
	return strings.Join(messaging.NormalizeParticipants(participantIDs), "|")
}

func trimSnippet(text string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max])
}

func notFound(err error) error {
	if errors.Is(err, gocql.ErrNotFound) {
		return chat.ErrNotFound
	}
	return err
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return nullTime(*t)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}

var _ messaging.Repository = (*Store)(nil)
