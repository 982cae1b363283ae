// middleware/gateway.go
package middleware

import (
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// GatewayAuthMiddleware validates the shared service token set by the
// gateway. The ops API is operator tooling only; nothing here is exposed
// to end users directly.
func GatewayAuthMiddleware() fiber.Handler {
	expectedToken := os.Getenv("AI_SERVICE_TOKEN")
	if expectedToken == "" {
		log.Fatal().Msg("AI_SERVICE_TOKEN is not set, service cannot authenticate the gateway")
	}

	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			log.Warn().Str("path", c.Path()).Msg("missing gateway auth header")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "gateway authentication token missing",
			})
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token != expectedToken {
			log.Warn().Str("path", c.Path()).Msg("invalid gateway auth token")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid gateway authentication token",
			})
		}
		return c.Next()
	}
}
