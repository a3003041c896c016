// handlers/checkin_routes.go
package handlers

import (
	"quest-reward-system/services"

	"github.com/gofiber/fiber/v2"
)

func setupCheckInRoutes(r fiber.Router, checkins *services.CheckInService) {
	r.Get("/checkin", func(c *fiber.Ctx) error {
		tz, ok := tzOffset(c)
		if !ok {
			return badRequest(c, "tz_offset must be an integer number of minutes")
		}
		status, err := checkins.Status(c.UserContext(), currentUserID(c), tz)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(status)
	})

	r.Post("/checkin", func(c *fiber.Ctx) error {
		var req struct {
			TzOffset *int `json:"tz_offset"`
		}
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return badRequest(c, "invalid JSON")
			}
		}
		tz, ok := tzOffset(c)
		if !ok {
			return badRequest(c, "tz_offset must be an integer number of minutes")
		}
		if req.TzOffset != nil {
			tz = *req.TzOffset
		}

		result, err := checkins.CheckIn(c.UserContext(), currentUserID(c), tz)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(result)
	})

	r.Post("/checkin/makeup", func(c *fiber.Ctx) error {
		var req struct {
			Date     string `json:"date"`
			TzOffset int    `json:"tz_offset"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid JSON")
		}
		result, err := checkins.Makeup(c.UserContext(), currentUserID(c), req.Date, req.TzOffset)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(result)
	})

	r.Get("/checkin/history", func(c *fiber.Ctx) error {
		history, err := checkins.History(c.UserContext(), currentUserID(c), c.QueryInt("limit", 30))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(history)
	})
}
