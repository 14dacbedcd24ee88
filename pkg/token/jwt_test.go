package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatTokenRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", 60)
	tok, exp, err := m.GenerateChatToken("project-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := m.VerifyToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "project-1", claims.ProjectID)
}

func TestVerifyTokenRejects(t *testing.T) {
	tok, _, err := NewJWTManager("secret", 60).GenerateChatToken("p")
	require.NoError(t, err)

	_, err = NewJWTManager("other-secret", 60).VerifyToken(tok)
	assert.Error(t, err, "wrong secret")

	expired, _, err := NewJWTManager("secret", -1).GenerateChatToken("p")
	require.NoError(t, err)
	_, err = NewJWTManager("secret", 60).VerifyToken(expired)
	assert.Error(t, err, "expired")

	_, err = NewJWTManager("secret", 60).VerifyToken("not-a-token")
	assert.Error(t, err)
}
