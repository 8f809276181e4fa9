package chat

import (
	"strings"
	"time"
)

// Participant is a marketplace member taking part in a conversation.
type Participant struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	Online      bool       `json:"online"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
}

// ServiceRef links a conversation to the marketplace service it is about.
type ServiceRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LastMessage is the denormalized summary of the newest message in a thread.
type LastMessage struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	SenderID  string     `json:"sender_id"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

// Conversation is a two-participant thread plus summary metadata.
type Conversation struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
	Service      *ServiceRef   `json:"service,omitempty"`
	LastMessage  *LastMessage  `json:"last_message,omitempty"`
	UnreadCount  int           `json:"unread_count"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Peer returns the participant that is not self. In a two-party
// conversation there is exactly one.
func (c Conversation) Peer(self string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.ID != self {
			return p, true
		}
	}
	return Participant{}, false
}

// LastActivity is the recency key used to order inboxes.
func (c Conversation) LastActivity() time.Time {
	if c.LastMessage != nil && !c.LastMessage.CreatedAt.IsZero() {
		return c.LastMessage.CreatedAt
	}
	if !c.UpdatedAt.IsZero() {
		return c.UpdatedAt
	}
	return c.CreatedAt
}

// Clone returns a deep copy so callers never alias index-owned state.
func (c Conversation) Clone() Conversation {
	out := c
	out.Participants = append([]Participant(nil), c.Participants...)
	for i := range out.Participants {
		if seen := out.Participants[i].LastSeenAt; seen != nil {
			at := *seen
			out.Participants[i].LastSeenAt = &at
		}
	}
	if c.Service != nil {
		svc := *c.Service
		out.Service = &svc
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		if lm.ReadAt != nil {
			at := *lm.ReadAt
			lm.ReadAt = &at
		}
		out.LastMessage = &lm
	}
	return out
}

// Message is a single entry in a conversation thread.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"created_at"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

// IsRead reports whether the recipient has read the message.
func (m Message) IsRead() bool {
	return m.ReadAt != nil && !m.ReadAt.IsZero()
}

// Summary converts m into the denormalized conversation summary.
func (m Message) Summary() *LastMessage {
	lm := &LastMessage{
		ID:        m.ID,
		Content:   m.Content,
		SenderID:  m.SenderID,
		CreatedAt: m.CreatedAt,
	}
	if m.ReadAt != nil {
		at := *m.ReadAt
		lm.ReadAt = &at
	}
	return lm
}

// Matches reports whether the conversation contains query (case-insensitive)
// in the peer's display name, the linked service name or the last message.
func (c Conversation) Matches(self, query string) bool {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return true
	}
	for _, p := range c.Participants {
		if p.ID == self {
			continue
		}
		if strings.Contains(strings.ToLower(p.DisplayName), query) {
			return true
		}
	}
	if c.Service != nil && strings.Contains(strings.ToLower(c.Service.Name), query) {
		return true
	}
	if c.LastMessage != nil && strings.Contains(strings.ToLower(c.LastMessage.Content), query) {
		return true
	}
	return false
}
