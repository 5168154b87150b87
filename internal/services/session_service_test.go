package services

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRoundTrip(t *testing.T) {
	svc := NewSessionService("test-secret", time.Hour, 10*time.Minute)

	token, expiresAt, err := svc.IssueClientToken("buyer@example.com")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := svc.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, RoleClient, claims.Role)
	assert.Equal(t, "buyer@example.com", claims.Email)

	admin, _, err := svc.IssueAdminToken()
	require.NoError(t, err)
	claims, err = svc.Parse(admin)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.Empty(t, claims.Email)
}

func TestSessionRejectsExpiredAndForeignTokens(t *testing.T) {
	svc := NewSessionService("test-secret", time.Hour, time.Hour)
	issued := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = fixedClock(issued)

	token, _, err := svc.IssueClientToken("buyer@example.com")
	require.NoError(t, err)

	svc.now = fixedClock(issued.Add(2 * time.Hour))
	_, err = svc.Parse(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	other := NewSessionService("other-secret", time.Hour, time.Hour)
	foreign, _, err := other.IssueClientToken("buyer@example.com")
	require.NoError(t, err)
	svc.now = time.Now
	_, err = svc.Parse(foreign)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"role": RoleAdmin, "iss": "keyshop"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.Parse(none)
	assert.Error(t, err)
}

func TestSessionEphemeralSecret(t *testing.T) {
	a := NewSessionService("", time.Hour, time.Hour)
	b := NewSessionService("", time.Hour, time.Hour)

	token, _, err := a.IssueAdminToken()
	require.NoError(t, err)
	_, err = a.Parse(token)
	assert.NoError(t, err)
	_, err = b.Parse(token)
	assert.Error(t, err)
}
