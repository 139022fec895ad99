package middleware

import (
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v3"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected string
	}{
		{"standard", "Bearer abc123", "abc123"},
		{"lower case scheme", "bearer abc123", "abc123"},
		{"extra spaces", "Bearer   abc123 ", "abc123"},
		{"basic auth", "Basic dXNlcjpwYXNz", ""},
		{"scheme only", "Bearer ", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bearerToken(tt.header); got != tt.expected {
				t.Errorf("bearerToken(%q) = %q, want %q", tt.header, got, tt.expected)
			}
		})
	}
}

func TestRequireToken(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		header map[string]string
		want   int
	}{
		{"disabled", "", nil, fiber.StatusOK},
		{"missing", "secret", nil, fiber.StatusUnauthorized},
		{"wrong", "secret", map[string]string{"Authorization": "Bearer nope"}, fiber.StatusUnauthorized},
		{"bearer", "secret", map[string]string{"Authorization": "Bearer secret"}, fiber.StatusOK},
		{"api token header", "secret", map[string]string{"X-API-Token": "secret"}, fiber.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Post("/", NewTokenAuth(tt.token).RequireToken, func(c fiber.Ctx) error {
				return c.SendString("ok")
			})

			req, _ := http.NewRequest(http.MethodPost, "/", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}
