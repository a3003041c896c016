// handlers/routes.go
package handlers

import (
	"quest-reward-system/middleware"
	"quest-reward-system/services"

	"github.com/gofiber/fiber/v2"
)

// Deps carries the services the HTTP surface calls into.
type Deps struct {
	Users    *services.UserService
	Quests   *services.QuestService
	CheckIns *services.CheckInService
	Invites  *services.InviteService
	Ledger   *services.LedgerService
	Payouts  *services.PayoutService
	Settings *services.SettingsStore
	Proofs   ProofUploader // optional
}

// SetupRoutes mounts every route group. The gateway forwards
// /api/v1/rewards/<path> to /<path> on this service.
func SetupRoutes(app *fiber.App, d Deps) {
	userCtx := middleware.UserContextMiddleware(d.Users)

	// 🔐 End-user routes
	quests := app.Group("/quests", userCtx)
	setupQuestRoutes(quests, d)

	user := app.Group("/user", userCtx)
	setupCheckInRoutes(user, d.CheckIns)
	setupInviteRoutes(user, d.Invites)
	setupWalletRoutes(user, d)

	// 🔒 Operator routes
	admin := app.Group("/admin", userCtx, middleware.RequireRole("admin"))
	setupAdminRoutes(admin, d)

	// ⛓️ Settlement executor callbacks (service-to-service, gateway token only)
	internal := app.Group("/internal")
	setupSettlementRoutes(internal, d.Payouts)
}
