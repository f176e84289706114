package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqipulse/aqipulse/internal/auth"
)

func newTestService() *auth.Service {
	return auth.NewService(auth.ServiceConfig{
		SigningKey: "test-signing-key-for-unit-tests",
		Issuer:     "https://api.aqipulse.io",
		Audience:   "aqipulse-api",
	})
}

func TestGenerateAndValidateToken(t *testing.T) {
	svc := newTestService()

	token, expiresAt, err := svc.GenerateToken("ops@example.com", []string{auth.ScopeAdmin})
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(auth.DefaultTokenExpiry), expiresAt, time.Minute)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Subject)
	assert.True(t, claims.HasScope(auth.ScopeAdmin))
	assert.False(t, claims.HasScope("metrics"))
}

func TestValidateRejectsGarbage(t *testing.T) {
	svc := newTestService()

	_, err := svc.ValidateAccessToken("not-a-jwt")
	assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
}

func TestValidateRejectsWrongKey(t *testing.T) {
	svc := newTestService()
	other := auth.NewService(auth.ServiceConfig{
		SigningKey: "a-different-key-entirely",
		Issuer:     "https://api.aqipulse.io",
		Audience:   "aqipulse-api",
	})

	token, _, err := other.GenerateToken("ops@example.com", []string{auth.ScopeAdmin})
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(token)
	assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	svc := auth.NewService(auth.ServiceConfig{
		SigningKey:  "test-signing-key-for-unit-tests",
		Issuer:      "https://api.aqipulse.io",
		Audience:    "aqipulse-api",
		TokenExpiry: time.Nanosecond,
	})

	token, _, err := svc.GenerateToken("ops@example.com", nil)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	_, err = svc.ValidateAccessToken(token)
	assert.ErrorIs(t, err, auth.ErrAccessTokenExpired)
}

func TestValidateRejectsWrongAudience(t *testing.T) {
	svc := newTestService()
	other := auth.NewService(auth.ServiceConfig{
		SigningKey: "test-signing-key-for-unit-tests",
		Issuer:     "https://api.aqipulse.io",
		Audience:   "some-other-service",
	})

	token, _, err := other.GenerateToken("ops@example.com", []string{auth.ScopeAdmin})
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(token)
	assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
}
