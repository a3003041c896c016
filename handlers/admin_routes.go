// handlers/admin_routes.go
package handlers

import (
	"encoding/json"
	"strings"

	"quest-reward-system/models"
	"quest-reward-system/services"

	"github.com/gofiber/fiber/v2"
)

func reviewer(c *fiber.Ctx) string {
	id, _ := c.Locals("external_user_id").(string)
	return id
}

func setupAdminRoutes(r fiber.Router, d Deps) {
	// 🎯 Quest catalogue
	r.Post("/quests", func(c *fiber.Ctx) error {
		var in services.QuestInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid JSON")
		}
		quest, err := d.Quests.CreateQuest(c.UserContext(), in)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(quest)
	})

	r.Get("/quests", func(c *fiber.Ctx) error {
		quests, err := d.Quests.ListQuests(c.UserContext(), c.QueryBool("all", true))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(quests)
	})

	r.Patch("/quests/:id/status", func(c *fiber.Ctx) error {
		var req struct {
			Status models.QuestStatus `json:"status"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid JSON")
		}
		quest, err := d.Quests.SetQuestStatus(c.UserContext(), c.Params("id"), models.QuestStatus(strings.ToLower(string(req.Status))))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(quest)
	})

	// 🔍 Manual review
	r.Get("/review-queue", func(c *fiber.Ctx) error {
		actions, err := d.Quests.ReviewQueue(c.UserContext(), c.QueryInt("limit", 50))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(actions)
	})

	r.Post("/actions/:id/approve", func(c *fiber.Ctx) error {
		reward, err := d.Quests.Approve(c.UserContext(), c.Params("id"), reviewer(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(reward)
	})

	r.Post("/actions/:id/reject", func(c *fiber.Ctx) error {
		var req struct {
			Reason string `json:"reason"`
		}
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return badRequest(c, "invalid JSON")
			}
		}
		action, err := d.Quests.Reject(c.UserContext(), c.Params("id"), reviewer(c), req.Reason)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(action)
	})

	// 🛡️ Risk audit
	r.Get("/risk-events", func(c *fiber.Ctx) error {
		events, err := d.Invites.RiskEvents(c.UserContext(), c.Query("user_id"), c.QueryInt("limit", 100))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(events)
	})

	// ⚙️ Reward configuration. PUT merges the body over the active config.
	r.Get("/config", func(c *fiber.Ctx) error {
		return c.JSON(d.Settings.Current())
	})

	r.Put("/config", func(c *fiber.Ctx) error {
		cfg := d.Settings.Current().Clone()
		if err := json.Unmarshal(c.Body(), &cfg); err != nil {
			return badRequest(c, "invalid JSON")
		}
		saved, err := d.Settings.Save(c.UserContext(), cfg)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(saved)
	})

	r.Get("/users/search", func(c *fiber.Ctx) error {
		users, err := d.Users.SearchUsers(c.UserContext(), c.Query("q"), c.QueryInt("limit", 50))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(users)
	})

	r.Get("/payouts", func(c *fiber.Ctx) error {
		status := models.PayoutStatus(strings.ToUpper(c.Query("status")))
		payouts, err := d.Payouts.ListPayouts(c.UserContext(), c.Query("user_id"), status)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(payouts)
	})

	r.Get("/settlements", func(c *fiber.Ctx) error {
		open, err := d.Payouts.OpenSettlements(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(open)
	})
}
