package ginserver

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"rentchat/internal/app/dto"
	"rentchat/internal/app/messaging"
	"rentchat/internal/domain/chat"
	"rentchat/internal/infra/obs"
	"rentchat/internal/infra/storage/s3"
)

// MaxAttachmentBytes caps a single upload.
const MaxAttachmentBytes = 10 << 20

// ChatHandler exposes the message store over HTTP for the authenticated participant.
type ChatHandler struct {
	Messaging *messaging.Service
	Uploader  s3.Uploader
	Metrics   *obs.Metrics
	Logger    *slog.Logger
}

// ListConversations returns the caller's inbox, newest first.
func (h ChatHandler) ListConversations(c *gin.Context) {
	p, ok := h.begin(c)
	if !ok {
		return
	}
	conversations, err := h.Messaging.For(p.ID).ListConversations(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "list conversations", "participant_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, dto.ConversationList{Items: conversations})
}

func (h ChatHandler) GetConversation(c *gin.Context) {
	p, ok := h.begin(c)
	if !ok {
		return
	}
	conversationID := c.Param("id")
	conversation, err := h.Messaging.Conversation(c.Request.Context(), p.ID, conversationID)
	if err != nil {
		h.respondError(c, err, "load conversation", "conversation_id", conversationID, "participant_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, conversation)
}

// CreateConversation gets or creates the caller's conversation with a peer and
// posts the initial message.
func (h ChatHandler) CreateConversation(c *gin.Context) {
	p, ok := h.begin(c)
	if !ok {
		return
	}
	var req dto.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	conversation, err := h.Messaging.For(p.ID).CreateConversation(c.Request.Context(), req.ParticipantID, req.InitialMessage, req.ServiceID)
	if err != nil {
		h.respondError(c, err, "create conversation", "participant_id", p.ID, "peer_id", req.ParticipantID, "service_id", req.ServiceID)
		return
	}
	h.Metrics.ConversationStarted()
	h.Metrics.MessageSent()
	c.JSON(http.StatusOK, conversation)
}

func (h ChatHandler) DeleteConversation(c *gin.Context) {
	p, ok := h.begin(c)
	if !ok {
		return
	}
	conversationID := c.Param("id")
	if err := h.Messaging.For(p.ID).DeleteConversation(c.Request.Context(), conversationID); err != nil {
		h.respondError(c, err, "delete conversation", "conversation_id", conversationID, "participant_id", p.ID)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h ChatHandler) ListMessages(c *gin.Context) {
	p, ok := h.begin(c)
	if !ok {
		return
	}
	conversationID := c.Param("id")
	messages, err := h.Messaging.For(p.ID).ListMessages(c.Request.Context(), conversationID)
	if err != nil {
		h.respondError(c, err, "list messages", "conversation_id", conversationID, "participant_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, dto.MessageList{Items: messages})
}

func (h ChatHandler) SendMessage(c *gin.Context) {
	p, ok := h.begin(c)
	if !ok {
		return
	}
	conversationID := c.Param("id")
	var req dto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	message, err := h.Messaging.For(p.ID).SendMessage(c.Request.Context(), conversationID, req.Content)
	if err != nil {
		h.respondError(c, err, "send message", "conversation_id", conversationID, "participant_id", p.ID)
		return
	}
	h.Metrics.MessageSent()
	c.JSON(http.StatusCreated, message)
}

// MarkRead stamps every unread peer message of the conversation.
func (h ChatHandler) MarkRead(c *gin.Context) {
	p, ok := h.begin(c)
	if !ok {
		return
	}
	conversationID := c.Param("id")
	readAt, err := h.Messaging.For(p.ID).MarkRead(c.Request.Context(), conversationID)
	if err != nil {
		h.respondError(c, err, "mark read", "conversation_id", conversationID, "participant_id", p.ID)
		return
	}
	var receipt dto.ReadReceipt
	if !readAt.IsZero() {
		receipt.ReadAt = &readAt
	}
	c.JSON(http.StatusOK, receipt)
}

// UploadAttachment stores a multipart "file" for a conversation the caller
// belongs to and returns its public URL.
func (h ChatHandler) UploadAttachment(c *gin.Context) {
	p, ok := h.begin(c)
	if !ok {
		return
	}
	if h.Uploader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attachments unavailable"})
		return
	}
	conversationID := c.Param("id")
	if _, err := h.Messaging.Conversation(c.Request.Context(), p.ID, conversationID); err != nil {
		h.respondError(c, err, "load conversation", "conversation_id", conversationID, "participant_id", p.ID)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxAttachmentBytes+1<<20)
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if header.Size > MaxAttachmentBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := s3.AttachmentKey(conversationID, header.Filename)
	url, err := h.Uploader.Upload(c.Request.Context(), key, io.LimitReader(file, MaxAttachmentBytes), header.Size, contentType)
	if err != nil {
		if errors.Is(err, s3.ErrNotConfigured) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attachments unavailable"})
			return
		}
		h.logError("attachment upload failed", err, "conversation_id", conversationID, "key", key)
		c.JSON(http.StatusBadGateway, gin.H{"error": "upload failed"})
		return
	}
	c.JSON(http.StatusCreated, dto.Attachment{Key: key, URL: url})
}

func (h ChatHandler) begin(c *gin.Context) (principal, bool) {
	p, ok := requireParticipant(c)
	if !ok {
		return principal{}, false
	}
	if h.Messaging == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
		return principal{}, false
	}
	return p, true
}

func (h ChatHandler) respondError(c *gin.Context, err error, action string, attrs ...any) {
	respondError(c, h.Logger, err, action, attrs...)
}

func (h ChatHandler) logError(msg string, err error, attrs ...any) {
	if h.Logger != nil {
		h.Logger.Error(msg, append([]any{"error", err}, attrs...)...)
	}
}

func respondError(c *gin.Context, logger *slog.Logger, err error, action string, attrs ...any) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": strings.TrimPrefix(err.Error(), "chat: ")})
		return
	case errors.Is(err, chat.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if logger != nil {
		logger.Error("messaging call failed", append([]any{"action", action, "error", err}, attrs...)...)
	}
	if errors.Is(err, chat.ErrStore) {
		c.JSON(http.StatusBadGateway, gin.H{"error": "messaging unavailable"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

var _ ChatHTTP = (*ChatHandler)(nil)
