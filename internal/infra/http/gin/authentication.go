package ginserver

import (
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"rentchat/internal/infra/security"
)

const principalContextKey = "rentchat.principal"

type principal struct {
	ID    string
	Name  string
	Token string
}

// TokenVerifier turns a bearer token into participant claims.
type TokenVerifier interface {
	Verify(raw string) (security.Claims, error)
}

type AuthMiddleware struct {
	Tokens TokenVerifier
	Logger *slog.Logger
}

// Handle resolves the bearer token when present. Browsers cannot set
// headers on websocket upgrades, so access_token is accepted as a query
// parameter as well.
func (m AuthMiddleware) Handle(c *gin.Context) {
	token := extractBearerToken(c.GetHeader("Authorization"))
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" || m.Tokens == nil {
		c.Next()
		return
	}
	claims, err := m.Tokens.Verify(token)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Debug("token validation failed", "error", err)
		}
		c.Next()
		return
	}
	setPrincipal(c, principal{
		ID:    claims.ParticipantID,
		Name:  claims.DisplayName,
		Token: token,
	})
	c.Next()
}

func setPrincipal(c *gin.Context, p principal) {
	c.Set(principalContextKey, p)
	c.Set("participant_id", p.ID)
}

func currentPrincipal(c *gin.Context) (principal, bool) {
	val, exists := c.Get(principalContextKey)
	if !exists {
		return principal{}, false
	}
	p, ok := val.(principal)
	return p, ok
}

func requireParticipant(c *gin.Context) (principal, bool) {
	p, ok := currentPrincipal(c)
	if !ok || p.ID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return principal{}, false
	}
	return p, true
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	token := strings.TrimSpace(header[7:])
	return token
}
