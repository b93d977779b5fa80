package token

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "attest/pkg/domain"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewService("test-signing-key", "attest")
	userID := id.UserID(uuid.New())

	signed, err := svc.Generate(userID, time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(signed)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
}

func TestValidateToken_Expired(t *testing.T) {
	svc := NewService("test-signing-key", "attest")

	signed, err := svc.Generate(id.UserID(uuid.New()), -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(signed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestValidateToken_WrongKey(t *testing.T) {
	signer := NewService("key-one", "attest")
	verifier := NewService("key-two", "attest")

	signed, err := signer.Generate(id.UserID(uuid.New()), time.Hour)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(signed)
	assert.Error(t, err)
}

func TestValidateToken_Garbage(t *testing.T) {
	svc := NewService("test-signing-key", "attest")
	_, err := svc.ValidateToken("not-a-jwt")
	assert.Error(t, err)
}
