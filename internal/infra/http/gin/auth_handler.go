package ginserver

import (
	"log/slog"
	"net/http"
	"time"

	gin "github.com/gin-gonic/gin"

	"rentchat/internal/app/dto"
	"rentchat/internal/app/messaging"
	"rentchat/internal/domain/chat"
	"rentchat/internal/infra/security"
)

// AuthHandler issues development tokens and registers services. Identity
// proper belongs to the marketplace; this only exists so local clients can
// act as a participant.
type AuthHandler struct {
	Tokens    security.TokenIssuer
	Messaging *messaging.Service
	// AllowIssue enables POST /auth/token.
	AllowIssue bool
	Logger     *slog.Logger
}

func (h AuthHandler) IssueToken(c *gin.Context) {
	if !h.AllowIssue {
		c.JSON(http.StatusForbidden, gin.H{"error": "token issuing disabled"})
		return
	}
	var req dto.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	participant := chat.Participant{ID: req.ParticipantID, DisplayName: req.DisplayName, AvatarURL: req.AvatarURL}
	if h.Messaging != nil {
		if err := h.Messaging.EnsureParticipant(c.Request.Context(), participant); err != nil {
			respondError(c, h.Logger, err, "ensure participant", "participant_id", req.ParticipantID)
			return
		}
	}
	token, err := h.Tokens.Issue(req.ParticipantID, req.DisplayName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ttl := h.Tokens.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	c.JSON(http.StatusOK, dto.TokenResponse{Token: token, ExpiresAt: time.Now().UTC().Add(ttl)})
}

// RegisterService upserts the service named by :id.
func (h AuthHandler) RegisterService(c *gin.Context) {
	p, ok := requireParticipant(c)
	if !ok {
		return
	}
	if h.Messaging == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
		return
	}
	var req dto.ServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	svc := chat.ServiceRef{ID: c.Param("id"), Name: req.Name}
	if err := h.Messaging.RegisterService(c.Request.Context(), svc); err != nil {
		respondError(c, h.Logger, err, "register service", "service_id", svc.ID, "participant_id", p.ID)
		return
	}
	c.Status(http.StatusNoContent)
}

var _ AuthHTTP = AuthHandler{}
