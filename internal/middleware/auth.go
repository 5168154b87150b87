package middleware

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"keyshop-api/internal/apperrors"
	"keyshop-api/internal/response"
	"keyshop-api/internal/services"
	"keyshop-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

const (
	ClientEmailKey = "client_email"
	AdminKey       = "is_admin"
)

// Auth authenticates admins and logged in customers.
type Auth struct {
	adminPassword string
	sessions      *services.SessionService
}

func NewAuth(adminPassword string, sessions *services.SessionService) *Auth {
	if adminPassword == "" {
		logging.Warnf("ADMIN_PASSWORD not set, admin login is disabled")
	}
	return &Auth{adminPassword: adminPassword, sessions: sessions}
}

// CheckAdminPassword compares in constant time. An unset password never matches.
func (a *Auth) CheckAdminPassword(password string) bool {
	if a.adminPassword == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(a.adminPassword)) == 1
}

// IsAdmin accepts either a signed admin session or the legacy
// "Bearer base64(password)" header.
func (a *Auth) IsAdmin(c *gin.Context) bool {
	if v, ok := c.Get(AdminKey); ok {
		return v.(bool)
	}

	token := bearerToken(c)
	isAdmin := false
	switch {
	case token == "":
	case a.isAdminSession(token):
		isAdmin = true
	case a.isLegacyAdminToken(token):
		logging.Warnf("Legacy admin token used - ip: %s, path: %s", c.ClientIP(), c.Request.URL.Path)
		isAdmin = true
	}

	c.Set(AdminKey, isAdmin)
	return isAdmin
}

func (a *Auth) isAdminSession(token string) bool {
	claims, err := a.sessions.Parse(token)
	return err == nil && claims.Role == services.RoleAdmin
}

func (a *Auth) isLegacyAdminToken(token string) bool {
	if a.adminPassword == "" {
		return false
	}
	expected := base64.StdEncoding.EncodeToString([]byte(a.adminPassword))
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

// AdminRequired rejects requests without admin credentials.
func (a *Auth) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.IsAdmin(c) {
			response.AppError(c, apperrors.Unauthorized("Admin authentication required"))
			return
		}
		c.Next()
	}
}

// ClientRequired requires a customer session and stores its email in the context.
func (a *Auth) ClientRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			response.AppError(c, apperrors.Unauthorized("Missing session token"))
			return
		}

		claims, err := a.sessions.Parse(token)
		if err != nil || claims.Role != services.RoleClient || claims.Email == "" {
			response.AppError(c, apperrors.Unauthorized("Invalid or expired session"))
			return
		}

		c.Set(ClientEmailKey, claims.Email)
		c.Next()
	}
}

// SessionEmail returns the email of a valid customer session on the request,
// or "" when there is none. Unlike ClientRequired it never aborts.
func (a *Auth) SessionEmail(c *gin.Context) string {
	token := bearerToken(c)
	if token == "" {
		return ""
	}
	claims, err := a.sessions.Parse(token)
	if err != nil || claims.Role != services.RoleClient {
		return ""
	}
	return claims.Email
}

// ClientEmail returns the email of the authenticated customer.
func ClientEmail(c *gin.Context) string {
	return c.GetString(ClientEmailKey)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
