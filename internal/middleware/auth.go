package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v3"
)

// TokenAuth guards API routes with a shared bearer token.
type TokenAuth struct {
	token string
}

// NewTokenAuth creates a token guard. An empty token disables the check.
func NewTokenAuth(token string) *TokenAuth {
	return &TokenAuth{token: token}
}

// RequireToken rejects requests without the configured token.
func (m *TokenAuth) RequireToken(c fiber.Ctx) error {
	if m.token == "" {
		return c.Next()
	}

	got := bearerToken(c.Get(fiber.HeaderAuthorization))
	if got == "" {
		got = c.Get("X-API-Token")
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(m.token)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"status": "error",
			"error":  "unauthorized",
		})
	}
	return c.Next()
}

// bearerToken extracts the token from an "Authorization: Bearer <token>" header.
func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
