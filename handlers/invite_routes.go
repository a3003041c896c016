// handlers/invite_routes.go
package handlers

import (
	"strings"

	"quest-reward-system/services"

	"github.com/gofiber/fiber/v2"
)

func setupInviteRoutes(r fiber.Router, invites *services.InviteService) {
	r.Get("/invites", func(c *fiber.Ctx) error {
		stats, err := invites.Stats(c.UserContext(), currentUserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(stats)
	})

	r.Post("/invites/accept", func(c *fiber.Ctx) error {
		var req struct {
			Code string `json:"code"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid JSON")
		}
		if strings.TrimSpace(req.Code) == "" {
			return badRequest(c, "code is required")
		}
		result, err := invites.ProcessInvite(c.UserContext(), currentUserID(c), req.Code)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(result)
	})
}
