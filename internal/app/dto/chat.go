package dto

import (
	"time"

	"rentchat/internal/domain/chat"
)

// ConversationList is the inbox payload.
type ConversationList struct {
	Items []chat.Conversation `json:"items"`
}

// MessageList is a full thread payload.
type MessageList struct {
	Items []chat.Message `json:"items"`
}

// SendMessageRequest posts a message to a conversation.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// CreateConversationRequest starts a conversation with another participant.
type CreateConversationRequest struct {
	ParticipantID  string `json:"participant_id"`
	InitialMessage string `json:"initial_message"`
	ServiceID      string `json:"service_id,omitempty"`
}

// ReadReceipt reports the read time applied by a mark-read call. ReadAt is
// omitted when nothing was unread.
type ReadReceipt struct {
	ReadAt *time.Time `json:"read_at,omitempty"`
}

// TokenRequest asks for a development bearer token.
type TokenRequest struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	AvatarURL     string `json:"avatar_url,omitempty"`
}

// TokenResponse carries a signed bearer token.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ServiceRequest registers a marketplace service that conversations can reference.
type ServiceRequest struct {
	Name string `json:"name"`
}

// Attachment describes an uploaded file.
type Attachment struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
