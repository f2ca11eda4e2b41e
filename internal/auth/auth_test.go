package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewService("test-secret")
	svc.RegisterBroker(Credential{Broker: "alice", APIKey: "alice-key", APISecret: "alice-secret"})

	token, err := svc.GenerateToken(TokenRequest{APIKey: "alice-key", APISecret: "alice-secret"})
	require.NoError(t, err)
	require.NotEmpty(t, token.Token)
	assert.Equal(t, "alice", token.Broker)

	claims, err := svc.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Broker)
	assert.Contains(t, claims.Permissions, "trade")
}

func TestInvalidCredentialsRejected(t *testing.T) {
	svc := NewService("test-secret")
	svc.RegisterBroker(Credential{Broker: "alice", APIKey: "alice-key", APISecret: "alice-secret"})

	_, err := svc.GenerateToken(TokenRequest{APIKey: "alice-key", APISecret: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.GenerateToken(TokenRequest{APIKey: "unknown", APISecret: "alice-secret"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestTokenFromDifferentSecretRejected(t *testing.T) {
	issuer := NewService("secret-a")
	issuer.RegisterBroker(Credential{Broker: "alice", APIKey: "alice-key", APISecret: "alice-secret"})
	token, err := issuer.GenerateToken(TokenRequest{APIKey: "alice-key", APISecret: "alice-secret"})
	require.NoError(t, err)

	verifier := NewService("secret-b")
	_, err = verifier.ValidateToken(token.Token)
	assert.Error(t, err)
}
