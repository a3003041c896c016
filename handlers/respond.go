// handlers/respond.go
package handlers

import (
	"log"
	"strconv"
	"time"

	"quest-reward-system/services"

	"github.com/gofiber/fiber/v2"
)

var kindStatus = map[services.ErrorKind]int{
	services.KindNotFound:            fiber.StatusNotFound,
	services.KindInviterNotFound:     fiber.StatusNotFound,
	services.KindInvalidInput:        fiber.StatusBadRequest,
	services.KindInvalidDate:         fiber.StatusBadRequest,
	services.KindInvalidAddress:      fiber.StatusBadRequest,
	services.KindSelfInvite:          fiber.StatusBadRequest,
	services.KindBelowMinimum:        fiber.StatusUnprocessableEntity,
	services.KindInsufficientBalance: fiber.StatusUnprocessableEntity,
	services.KindInvalidState:        fiber.StatusConflict,
	services.KindAlreadyCheckedIn:    fiber.StatusConflict,
	services.KindAlreadyInvited:      fiber.StatusConflict,
	services.KindCapExceeded:         fiber.StatusConflict,
	services.KindInviteCapReached:    fiber.StatusConflict,
	services.KindRiskBlocked:         fiber.StatusTooManyRequests,
}

// respondError renders a domain error as {error, reason, details, risk_level}.
// Anything else is a storage or collaborator failure and is reported as a
// retryable 503 without its cause.
func respondError(c *fiber.Ctx, err error) error {
	if de, ok := services.AsDomainError(err); ok {
		status, known := kindStatus[de.Kind]
		if !known {
			status = fiber.StatusBadRequest
		}
		body := fiber.Map{
			"error":  de.Kind,
			"reason": de.Reason,
		}
		if len(de.Details) > 0 {
			body["details"] = de.Details
		}
		if de.RiskLevel != "" {
			body["risk_level"] = de.RiskLevel
		}
		return c.Status(status).JSON(body)
	}

	log.Printf("❌ [HTTP] %s %s failed: %v", c.Method(), c.Path(), err)
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error":     "INTERNAL",
		"reason":    "temporary failure, retry later",
		"retryable": true,
	})
}

func badRequest(c *fiber.Ctx, reason string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":  services.KindInvalidInput,
		"reason": reason,
	})
}

func currentUserID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

// tzOffset reads the client's Date.getTimezoneOffset() value from the
// tz_offset query parameter; 0 (UTC) when absent.
func tzOffset(c *fiber.Ctx) (int, bool) {
	raw := c.Query("tz_offset")
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	return v, err == nil
}

func queryTime(c *fiber.Ctx, key string) (time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	return t, err == nil
}
