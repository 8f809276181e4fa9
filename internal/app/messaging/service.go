package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"rentchat/internal/domain/chat"
)

// DefaultOnlineWindow is how recently a participant must have been seen to
// be reported online.
const DefaultOnlineWindow = 2 * time.Minute

// Publisher fans realtime events out to subscribers.
type Publisher interface {
	Publish(ctx context.Context, event chat.Event) error
}

// Service implements the message store semantics on top of a Repository.
// Every operation is scoped to a viewer, the authenticated participant.
type Service struct {
	Repo         Repository
	Publisher    Publisher
	Logger       *slog.Logger
	Now          func() time.Time
	NewID        func() string
	OnlineWindow time.Duration
}

// NewService builds a Service with default clock and id generator.
func NewService(repo Repository, publisher Publisher, logger *slog.Logger) *Service {
	return &Service{Repo: repo, Publisher: publisher, Logger: logger}
}

// EnsureParticipant registers or refreshes a participant profile.
func (s *Service) EnsureParticipant(ctx context.Context, p chat.Participant) error {
	id, err := chat.NormalizeID("participant", p.ID)
	if err != nil {
		return err
	}
	p.ID = id
	if p.DisplayName == "" {
		if existing, err := s.Repo.Participant(ctx, id); err == nil {
			p.DisplayName = existing.DisplayName
			if p.AvatarURL == "" {
				p.AvatarURL = existing.AvatarURL
			}
		} else {
			p.DisplayName = id
		}
	}
	seen := s.now()
	p.LastSeenAt = &seen
	return chat.WrapStore("upsert participant", s.Repo.UpsertParticipant(ctx, p))
}

// RegisterService records a marketplace service conversations may reference.
func (s *Service) RegisterService(ctx context.Context, svc chat.ServiceRef) error {
	id, err := chat.NormalizeID("service", svc.ID)
	if err != nil {
		return err
	}
	svc.ID = id
	svc.Name = strings.TrimSpace(svc.Name)
	if svc.Name == "" {
		return fmt.Errorf("%w: service name is required", chat.ErrValidation)
	}
	return chat.WrapStore("upsert service", s.Repo.UpsertService(ctx, svc))
}

// ListConversations returns the viewer's visible conversations, newest first.
func (s *Service) ListConversations(ctx context.Context, viewer string) ([]chat.Conversation, error) {
	viewer, err := chat.NormalizeID("participant", viewer)
	if err != nil {
		return nil, err
	}
	s.touch(ctx, viewer)
	records, err := s.Repo.ConversationsFor(ctx, viewer)
	if err != nil {
		return nil, chat.WrapStore("list conversations", err)
	}
	out := make([]chat.Conversation, 0, len(records))
	for _, rec := range records {
		conv, err := s.view(ctx, viewer, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := out[i].LastActivity(), out[j].LastActivity()
		if ai.Equal(aj) {
			return out[i].ID < out[j].ID
		}
		return ai.After(aj)
	})
	return out, nil
}

// Conversation returns a single conversation as the viewer sees it.
func (s *Service) Conversation(ctx context.Context, viewer, conversationID string) (chat.Conversation, error) {
	rec, err := s.member(ctx, viewer, conversationID)
	if err != nil {
		return chat.Conversation{}, err
	}
	return s.view(ctx, viewer, rec)
}

// ListMessages returns the thread in creation order.
func (s *Service) ListMessages(ctx context.Context, viewer, conversationID string) ([]chat.Message, error) {
	rec, err := s.member(ctx, viewer, conversationID)
	if err != nil {
		return nil, err
	}
	s.touch(ctx, viewer)
	msgs, err := s.Repo.Messages(ctx, rec.ID)
	if err != nil {
		return nil, chat.WrapStore("list messages", err)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

// SendMessage appends a message authored by viewer.
func (s *Service) SendMessage(ctx context.Context, viewer, conversationID, content string) (chat.Message, error) {
	text, err := chat.NormalizeContent(content)
	if err != nil {
		return chat.Message{}, err
	}
	rec, err := s.member(ctx, viewer, conversationID)
	if err != nil {
		return chat.Message{}, err
	}
	msg, err := s.appendMessage(ctx, rec, viewer, text)
	if err != nil {
		return chat.Message{}, err
	}
	s.touch(ctx, viewer)
	return msg, nil
}

// MarkRead stamps the viewer's unread messages and returns the read time.
// The time is zero when nothing was unread.
func (s *Service) MarkRead(ctx context.Context, viewer, conversationID string) (time.Time, error) {
	rec, err := s.member(ctx, viewer, conversationID)
	if err != nil {
		return time.Time{}, err
	}
	at := s.now()
	n, err := s.Repo.MarkRead(ctx, rec.ID, viewer, at)
	if err != nil {
		return time.Time{}, chat.WrapStore("mark read", err)
	}
	if n == 0 {
		return time.Time{}, nil
	}
	s.publish(ctx, chat.Event{
		Kind:           chat.EventMessagesRead,
		ConversationID: rec.ID,
		ReaderID:       viewer,
		ReadAt:         at,
	})
	return at, nil
}

// DeleteConversation hides the conversation for viewer. Repeated deletes succeed.
func (s *Service) DeleteConversation(ctx context.Context, viewer, conversationID string) error {
	rec, err := s.member(ctx, viewer, conversationID)
	if err != nil {
		return err
	}
	if rec.HiddenBy(viewer) {
		return nil
	}
	return chat.WrapStore("delete conversation", s.Repo.Hide(ctx, rec.ID, viewer))
}

// CreateConversation starts a conversation between viewer and participantID,
// reusing an existing one for the same pair and service, and posts the
// initial message.
func (s *Service) CreateConversation(ctx context.Context, viewer, participantID, initialMessage, serviceID string) (chat.Conversation, error) {
	viewer, err := chat.NormalizeID("participant", viewer)
	if err != nil {
		return chat.Conversation{}, err
	}
	peer, err := chat.NormalizeID("participant", participantID)
	if err != nil {
		return chat.Conversation{}, err
	}
	if peer == viewer {
		return chat.Conversation{}, fmt.Errorf("%w: cannot start a conversation with yourself", chat.ErrValidation)
	}
	text, err := chat.NormalizeContent(initialMessage)
	if err != nil {
		return chat.Conversation{}, err
	}
	if serviceID != "" {
		if serviceID, err = chat.NormalizeID("service", serviceID); err != nil {
			return chat.Conversation{}, err
		}
		if _, err := s.Repo.Service(ctx, serviceID); err != nil {
			return chat.Conversation{}, chat.WrapStore("load service", err)
		}
	}
	if _, err := s.Repo.Participant(ctx, peer); err != nil {
		return chat.Conversation{}, chat.WrapStore("load participant", err)
	}

	participants := NormalizeParticipants([]string{viewer, peer})
	rec, err := s.Repo.FindConversation(ctx, participants, serviceID)
	switch {
	case errors.Is(err, chat.ErrNotFound):
		now := s.now()
		rec = ConversationRecord{
			ID:             s.newID(),
			ParticipantIDs: participants,
			ServiceID:      serviceID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.Repo.CreateConversation(ctx, rec); err != nil {
			return chat.Conversation{}, chat.WrapStore("create conversation", err)
		}
		if s.Logger != nil {
			s.Logger.Info("conversation created", "conversation_id", rec.ID, "participants", participants, "service_id", serviceID)
		}
	case err != nil:
		return chat.Conversation{}, chat.WrapStore("find conversation", err)
	}

	if _, err := s.appendMessage(ctx, rec, viewer, text); err != nil {
		return chat.Conversation{}, err
	}
	rec, err = s.Repo.Conversation(ctx, rec.ID)
	if err != nil {
		return chat.Conversation{}, chat.WrapStore("load conversation", err)
	}
	s.touch(ctx, viewer)
	return s.view(ctx, viewer, rec)
}

// For binds the service to one participant, yielding the chat.Store contract.
func (s *Service) For(participantID string) chat.Store {
	return boundStore{svc: s, viewer: participantID}
}

func (s *Service) appendMessage(ctx context.Context, rec ConversationRecord, sender, text string) (chat.Message, error) {
	createdAt := s.now()
	// keep per-conversation time monotonic even if the clock steps back
	if rec.LastMessage != nil && !createdAt.After(rec.LastMessage.CreatedAt) {
		createdAt = rec.LastMessage.CreatedAt.Add(time.Millisecond)
	}
	msg := chat.Message{
		ID:             s.newID(),
		ConversationID: rec.ID,
		SenderID:       sender,
		Content:        text,
		CreatedAt:      createdAt,
	}
	if err := s.Repo.AppendMessage(ctx, msg); err != nil {
		return chat.Message{}, chat.WrapStore("append message", err)
	}
	stored := msg
	s.publish(ctx, chat.Event{
		Kind:           chat.EventMessageCreated,
		ConversationID: rec.ID,
		Message:        &stored,
	})
	return msg, nil
}

func (s *Service) member(ctx context.Context, viewer, conversationID string) (ConversationRecord, error) {
	viewer, err := chat.NormalizeID("participant", viewer)
	if err != nil {
		return ConversationRecord{}, err
	}
	conversationID, err = chat.NormalizeID("conversation", conversationID)
	if err != nil {
		return ConversationRecord{}, err
	}
	rec, err := s.Repo.Conversation(ctx, conversationID)
	if err != nil {
		return ConversationRecord{}, chat.WrapStore("load conversation", err)
	}
	if !rec.HasMember(viewer) {
		return ConversationRecord{}, chat.ErrNotFound
	}
	return rec, nil
}

func (s *Service) view(ctx context.Context, viewer string, rec ConversationRecord) (chat.Conversation, error) {
	conv := chat.Conversation{
		ID:           rec.ID,
		Participants: make([]chat.Participant, 0, len(rec.ParticipantIDs)),
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
	now := s.now()
	for _, id := range rec.ParticipantIDs {
		p, err := s.Repo.Participant(ctx, id)
		if err != nil {
			if !errors.Is(err, chat.ErrNotFound) {
				return chat.Conversation{}, chat.WrapStore("load participant", err)
			}
			p = chat.Participant{ID: id, DisplayName: id}
		}
		p.Online = p.LastSeenAt != nil && now.Sub(*p.LastSeenAt) <= s.onlineWindow()
		conv.Participants = append(conv.Participants, p)
	}
	if rec.ServiceID != "" {
		svc, err := s.Repo.Service(ctx, rec.ServiceID)
		if err != nil && !errors.Is(err, chat.ErrNotFound) {
			return chat.Conversation{}, chat.WrapStore("load service", err)
		}
		if err != nil {
			svc = chat.ServiceRef{ID: rec.ServiceID}
		}
		conv.Service = &svc
	}
	if rec.LastMessage != nil {
		lm := *rec.LastMessage
		conv.LastMessage = &lm
	}
	unread, err := s.Repo.CountUnread(ctx, rec.ID, viewer)
	if err != nil {
		return chat.Conversation{}, chat.WrapStore("count unread", err)
	}
	conv.UnreadCount = unread
	return conv, nil
}

func (s *Service) touch(ctx context.Context, participantID string) {
	if err := s.Repo.TouchParticipant(ctx, participantID, s.now()); err != nil && !errors.Is(err, chat.ErrNotFound) && s.Logger != nil {
		s.Logger.Warn("participant touch failed", "participant_id", participantID, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, event chat.Event) {
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.Publish(ctx, event); err != nil && s.Logger != nil {
		s.Logger.Warn("event publish failed", "kind", event.Kind, "conversation_id", event.ConversationID, "error", err)
	}
}

// now is truncated to the millisecond precision the stores persist, so a
// returned time always equals what a later read yields.
func (s *Service) now() time.Time {
	clock := time.Now
	if s.Now != nil {
		clock = s.Now
	}
	return clock().UTC().Truncate(time.Millisecond)
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) onlineWindow() time.Duration {
	if s.OnlineWindow > 0 {
		return s.OnlineWindow
	}
	return DefaultOnlineWindow
}

type boundStore struct {
	svc    *Service
	viewer string
}

func (b boundStore) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	return b.svc.ListConversations(ctx, b.viewer)
}

func (b boundStore) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	return b.svc.ListMessages(ctx, b.viewer, conversationID)
}

func (b boundStore) SendMessage(ctx context.Context, conversationID, content string) (chat.Message, error) {
	return b.svc.SendMessage(ctx, b.viewer, conversationID, content)
}

func (b boundStore) MarkRead(ctx context.Context, conversationID string) (time.Time, error) {
	return b.svc.MarkRead(ctx, b.viewer, conversationID)
}

func (b boundStore) DeleteConversation(ctx context.Context, conversationID string) error {
	return b.svc.DeleteConversation(ctx, b.viewer, conversationID)
}

func (b boundStore) CreateConversation(ctx context.Context, participantID, initialMessage, serviceID string) (chat.Conversation, error) {
	return b.svc.CreateConversation(ctx, b.viewer, participantID, initialMessage, serviceID)
}

var _ chat.Store = boundStore{}
