package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// ErrInvalidToken is returned for malformed, expired or wrongly signed tokens.
var ErrInvalidToken = errors.New("security: invalid token")

const issuer = "rentchat"

// Claims carries the participant a bearer token speaks for.
type Claims struct {
	ParticipantID string `json:"pid"`
	DisplayName   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 participant tokens.
type TokenIssuer struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) TokenIssuer {
	return TokenIssuer{Secret: []byte(secret), TTL: ttl}
}

// Issue mints a token for participantID.
func (t TokenIssuer) Issue(participantID, displayName string) (string, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return "", fmt.Errorf("token: participant id is required")
	}
	if len(t.Secret) == 0 {
		return "", fmt.Errorf("token: signing secret is empty")
	}
	now := t.now()
	ttl := t.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	claims := Claims{
		ParticipantID: participantID,
		DisplayName:   displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   participantID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.Secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Verify parses raw and returns its claims.
func (t TokenIssuer) Verify(raw string) (Claims, error) {
	var claims Claims
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}}
	token, err := parser.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.Secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.ParticipantID == "" {
		return Claims{}, ErrInvalidToken
	}
	if claims.ExpiresAt != nil && !t.now().Before(claims.ExpiresAt.Time) {
		return Claims{}, fmt.Errorf("%w: expired", ErrInvalidToken)
	}
	return claims, nil
}

func (t TokenIssuer) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// Inspect reads the claims of raw without checking its signature. Clients
// use it to learn which participant a token they hold speaks for.
func Inspect(raw string) (Claims, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ParticipantID == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
