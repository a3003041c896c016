// handlers/settlement_routes.go
package handlers

import (
	"quest-reward-system/services"

	"github.com/gofiber/fiber/v2"
)

type settlementRequest struct {
	SettlementHash string `json:"settlement_hash"`
	Reason         string `json:"reason"`
}

// setupSettlementRoutes exposes the callbacks the settlement executor uses to
// report payout progress. Repeated callbacks for the same outcome are no-ops.
func setupSettlementRoutes(r fiber.Router, payouts *services.PayoutService) {
	parse := func(c *fiber.Ctx) (settlementRequest, error) {
		var req settlementRequest
		if len(c.Body()) == 0 {
			return req, nil
		}
		return req, c.BodyParser(&req)
	}

	r.Post("/settlements/:payout_id/processing", func(c *fiber.Ctx) error {
		req, err := parse(c)
		if err != nil {
			return badRequest(c, "invalid JSON")
		}
		payout, err := payouts.MarkProcessing(c.UserContext(), c.Params("payout_id"), req.SettlementHash)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(payout)
	})

	r.Post("/settlements/:payout_id/complete", func(c *fiber.Ctx) error {
		req, err := parse(c)
		if err != nil {
			return badRequest(c, "invalid JSON")
		}
		payout, err := payouts.Complete(c.UserContext(), c.Params("payout_id"), req.SettlementHash)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(payout)
	})

	r.Post("/settlements/:payout_id/fail", func(c *fiber.Ctx) error {
		req, err := parse(c)
		if err != nil {
			return badRequest(c, "invalid JSON")
		}
		payout, err := payouts.Fail(c.UserContext(), c.Params("payout_id"), req.Reason)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(payout)
	})
}
