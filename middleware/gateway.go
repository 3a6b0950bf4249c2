// middleware/gateway.go
package middleware

import (
	"crypto/subtle"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// GatewayAuthMiddleware admits requests carrying the gateway's service
// token, either as "Bearer <token>" or bare. With an empty expected token
// every request is refused.
func GatewayAuthMiddleware(expectedToken string) fiber.Handler {
	if expectedToken == "" {
		log.Println("❌ [GATEWAY_AUTH] GAME_SERVICE_TOKEN is not set, all requests will be rejected")
	}
	expected := []byte(expectedToken)

	return func(c *fiber.Ctx) error {
		presented := gatewayToken(c.Get(fiber.HeaderAuthorization))
		if presented == "" {
			log.Printf("🚫 [GATEWAY_AUTH] Missing Authorization header for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "gateway authentication token missing",
			})
		}

		if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
			log.Printf("❌ [GATEWAY_AUTH] Invalid token for %s (got prefix: %.10s...)", c.Path(), presented)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid gateway authentication token",
			})
		}
		return c.Next()
	}
}

func gatewayToken(header string) string {
	header = strings.TrimSpace(header)
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return header
}
