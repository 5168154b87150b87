package services

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"keyshop-api/pkg/logging"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleClient = "client"
	RoleAdmin  = "admin"

	sessionIssuer = "keyshop"
)

// SessionClaims are carried by client and admin session tokens.
type SessionClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// SessionService issues and checks signed, expiring HS256 session tokens.
type SessionService struct {
	secret    []byte
	clientTTL time.Duration
	adminTTL  time.Duration
	now       func() time.Time
}

// NewSessionService creates a session issuer. With an empty secret a random one
// is generated, so sessions do not survive a restart.
func NewSessionService(secret string, clientTTL, adminTTL time.Duration) *SessionService {
	key := []byte(secret)
	if len(key) == 0 {
		logging.Warnf("SESSION_SECRET not set, using an ephemeral signing key")
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic(fmt.Sprintf("generate session key: %v", err))
		}
	}

	return &SessionService{
		secret:    key,
		clientTTL: clientTTL,
		adminTTL:  adminTTL,
		now:       time.Now,
	}
}

// IssueClientToken signs a session for a customer who proved control of email.
func (s *SessionService) IssueClientToken(email string) (string, time.Time, error) {
	return s.issue(RoleClient, email, s.clientTTL)
}

// IssueAdminToken signs an admin session.
func (s *SessionService) IssueAdminToken() (string, time.Time, error) {
	return s.issue(RoleAdmin, "", s.adminTTL)
}

func (s *SessionService) issue(role, email string, ttl time.Duration) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(ttl)
	claims := SessionClaims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse validates signature, issuer and expiry and returns the claims.
func (s *SessionService) Parse(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid session token")
	}
	return claims, nil
}
