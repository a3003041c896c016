// middleware/auth.go
package middleware

import (
	"log"
	"strings"

	"quest-reward-system/services"

	"github.com/gofiber/fiber/v2"
)

// UserContextMiddleware resolves the identity the gateway forwards in
// X-User-ID to a local user, creating it on first sight, and attaches
// user_id (local id), external_user_id and user_roles to the context.
func UserContextMiddleware(users *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		externalID := strings.TrimSpace(c.Get("X-User-ID"))
		if externalID == "" {
			log.Printf("❌ [USER_CTX] X-User-ID required but missing on secured route: %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID — request must come through gateway with auth context",
			})
		}

		user, err := users.EnsureUser(c.UserContext(), externalID)
		if err != nil {
			log.Printf("❌ [USER_CTX] Cannot resolve user %s: %v", externalID, err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":  "INTERNAL",
				"reason": "user lookup failed, retry later",
			})
		}
		if user.IsBanned {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "account suspended"})
		}

		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals("user_id", user.ID)
		c.Locals("external_user_id", externalID)
		c.Locals("user_roles", roles)
		return c.Next()
	}
}
