// handlers/wallet_routes.go
package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"quest-reward-system/models"
	"quest-reward-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

const rewardStreamInterval = 2 * time.Second

func setupWalletRoutes(r fiber.Router, d Deps) {
	r.Get("/me", func(c *fiber.Ctx) error {
		user, err := d.Users.GetUser(c.UserContext(), currentUserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(user)
	})

	r.Patch("/settings", func(c *fiber.Ctx) error {
		var req services.UserSettings
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid JSON")
		}
		user, err := d.Users.UpdateSettings(c.UserContext(), currentUserID(c), req)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(user)
	})

	r.Get("/balances", func(c *fiber.Ctx) error {
		balances, err := d.Ledger.Balances(c.UserContext(), currentUserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"balances": balances})
	})

	r.Get("/rewards", func(c *fiber.Ctx) error {
		before, ok := queryTime(c, "before")
		if !ok {
			return badRequest(c, "before must be an RFC3339 timestamp")
		}
		rewards, err := d.Ledger.History(c.UserContext(), currentUserID(c), c.QueryInt("limit", 50), before)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(rewards)
	})

	r.Get("/rewards/stream", func(c *fiber.Ctx) error {
		return streamRewards(c, d.Ledger)
	})

	r.Post("/withdrawals", func(c *fiber.Ctx) error {
		var req struct {
			Asset     models.Asset    `json:"asset"`
			Amount    decimal.Decimal `json:"amount"`
			ToAddress string          `json:"to_address"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid JSON")
		}
		payout, err := d.Payouts.RequestWithdraw(c.UserContext(), currentUserID(c), req.Asset, req.Amount, req.ToAddress)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(payout)
	})

	r.Get("/withdrawals", func(c *fiber.Ctx) error {
		status := models.PayoutStatus(strings.ToUpper(c.Query("status")))
		payouts, err := d.Payouts.ListPayouts(c.UserContext(), currentUserID(c), status)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(payouts)
	})

	r.Post("/withdrawals/:id/cancel", func(c *fiber.Ctx) error {
		payout, err := d.Payouts.CancelWithdraw(c.UserContext(), currentUserID(c), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(payout)
	})
}

// streamRewards pushes newly credited rewards as `event: reward` frames.
// The cursor starts at the user's latest reward so only new credits are sent.
func streamRewards(c *fiber.Ctx, ledger *services.LedgerService) error {
	userID := currentUserID(c)
	reqCtx := c.Context()

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	reqCtx.SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx := context.Background()
		ticker := time.NewTicker(rewardStreamInterval)
		defer ticker.Stop()

		var cursor time.Time
		if latest, err := ledger.History(ctx, userID, 1, time.Time{}); err != nil {
			log.Printf("⚠️ [SSE] Cursor init failed for user %s: %v", userID, err)
		} else if len(latest) > 0 {
			cursor = latest[0].CreatedAt
		}

		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case <-ticker.C:
				rewards, err := ledger.RewardsSince(ctx, userID, cursor)
				if err != nil {
					log.Printf("⚠️ [SSE] Poll failed for user %s: %v", userID, err)
					continue
				}
				if len(rewards) == 0 {
					// keepalive so proxies and dead clients are noticed
					w.WriteString(":\n\n")
				}
				for _, r := range rewards {
					payload, _ := json.Marshal(r)
					fmt.Fprintf(w, "event: reward\ndata: %s\n\n", payload)
					cursor = r.CreatedAt
				}
				if err := w.Flush(); err != nil {
					return
				}
			case <-reqCtx.Done():
				return
			}
		}
	})
	return nil
}
