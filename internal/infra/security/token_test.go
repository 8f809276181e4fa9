package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	issuer := NewTokenIssuer("s3cret", time.Hour)

	raw, err := issuer.Issue("p-ana", "Ana")
	require.NoError(t, err)

	claims, err := issuer.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "p-ana", claims.ParticipantID)
	assert.Equal(t, "Ana", claims.DisplayName)
	assert.Equal(t, "p-ana", claims.Subject)
}

func TestVerifyRejects(t *testing.T) {
	issuer := NewTokenIssuer("s3cret", time.Hour)
	raw, err := issuer.Issue("p-ana", "")
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := NewTokenIssuer("other", time.Hour).Verify(raw)
		require.ErrorIs(t, err, ErrInvalidToken)
	})
	t.Run("garbage", func(t *testing.T) {
		_, err := issuer.Verify("not-a-token")
		require.ErrorIs(t, err, ErrInvalidToken)
	})
	t.Run("expired", func(t *testing.T) {
		past := TokenIssuer{Secret: []byte("s3cret"), TTL: time.Minute, Now: func() time.Time {
			return time.Now().Add(-2 * time.Hour)
		}}
		old, err := past.Issue("p-ana", "")
		require.NoError(t, err)
		_, err = issuer.Verify(old)
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestIssueRequiresParticipant(t *testing.T) {
	_, err := NewTokenIssuer("s3cret", time.Hour).Issue("  ", "")
	require.Error(t, err)
}

func TestInspect(t *testing.T) {
	issuer := NewTokenIssuer("s3cret", time.Hour)
	raw, err := issuer.Issue("bob", "Bob")
	require.NoError(t, err)

	claims, err := Inspect(raw)
	require.NoError(t, err)
	assert.Equal(t, "bob", claims.ParticipantID)
	assert.Equal(t, "Bob", claims.DisplayName)

	_, err = Inspect("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
