package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
)

type APIKeyMiddleware struct {
	apiKey string
}

func NewAPIKeyMiddleware(apiKey string) *APIKeyMiddleware {
	return &APIKeyMiddleware{apiKey: apiKey}
}

// APIKey accepts the key as a bearer token or as the api_key query parameter.
// With no key configured every request is let through.
func (m *APIKeyMiddleware) APIKey() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m.apiKey == "" {
			return c.Next()
		}

		key := strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		if key == "" {
			key = c.Query("api_key")
		}

		if key == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing API key",
			})
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(m.apiKey)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid API key",
			})
		}
		return c.Next()
	}
}
