package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"quest-reward-system/handlers"
	"quest-reward-system/middleware"
	"quest-reward-system/models"
	"quest-reward-system/services"
	"quest-reward-system/utils"
	"quest-reward-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	// Reward configuration: defaults, then REWARD_* env, then the stored row
	base := services.DefaultRewardConfig().ApplyEnv(os.Getenv)
	if err := base.Validate(); err != nil {
		log.Fatal("invalid reward configuration:", err)
	}
	settings := services.NewSettingsStore(db, base)
	if err := settings.Refresh(ctx); err != nil {
		log.Printf("⚠️ Could not load stored reward config, using defaults: %v", err)
	}

	// 📣 Notifications go through the outbox; Telegram when a bot token is set
	notifier := services.NewOutboxNotifier(db)
	var sender services.Sender = services.LogSender{}
	verifier := &services.VerifierRouter{ByType: map[models.QuestType]services.ProofVerifier{}}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		tg, err := services.NewTelegramSender(token)
		if err != nil {
			log.Fatal("failed to initialise Telegram bot:", err)
		}
		sender = tg
		membership := &services.MembershipVerifier{Bot: tg.Bot}
		verifier.ByType[models.QuestTypeJoinChannel] = membership
		verifier.ByType[models.QuestTypeJoinGroup] = membership
	} else {
		log.Println("⚠️  TELEGRAM_BOT_TOKEN not set: notifications are only logged, membership quests go to manual review")
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		model := os.Getenv("OPENAI_MODEL")
		if model == "" {
			model = "gpt-4o-mini"
		}
		verifier.Fallback = services.NewOpenAIVerifier(key, model)
	} else {
		log.Println("⚠️  OPENAI_API_KEY not set: screenshot proofs go to manual review")
	}

	users := services.NewUserService(db)
	payouts := services.NewPayoutService(db, settings, notifier)
	deps := handlers.Deps{
		Users:    users,
		Quests:   services.NewQuestService(db, settings, verifier, notifier),
		CheckIns: services.NewCheckInService(db, settings, notifier),
		Invites:  services.NewInviteService(db, settings, notifier),
		Ledger:   services.NewLedgerService(db),
		Payouts:  payouts,
		Settings: settings,
	}
	if store, err := utils.NewProofStoreFromEnv(ctx); err != nil {
		log.Printf("⚠️  R2 proof storage disabled: %v", err)
	} else {
		deps.Proofs = store
	}

	jobs := &services.Jobs{
		DB:         db,
		Settings:   settings,
		Dispatcher: services.NewOutboxDispatcher(db, sender),
		Payouts:    payouts,
	}
	sched, err := jobs.StartScheduler(ctx)
	if err != nil {
		log.Fatal("failed to start scheduler:", err)
	}
	defer func() { _ = sched.Shutdown() }()

	serviceToken := os.Getenv("SYNC_SERVICE_TOKEN")
	if url := os.Getenv("PROFILE_SYNC_URL"); url != "" {
		workers.NewProfileSyncWorker(db, url, serviceToken).Start(ctx)
	} else {
		log.Println("⚠️  PROFILE_SYNC_URL not set: profile sync disabled")
	}
	if url := os.Getenv("SETTLEMENT_SERVICE_URL"); url != "" {
		syncer := workers.NewSettlementSyncer(workers.NewSettlementClient(url, serviceToken), payouts)
		go workers.PollSettlements(ctx, syncer, 30*time.Second)
	} else {
		log.Println("⚠️  SETTLEMENT_SERVICE_URL not set: relying on settlement callbacks only")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: utils.MaxProofSize + 1<<20,
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed
	app.Use(middleware.GatewayAuthMiddleware(os.Getenv("GATEWAY_SERVICE_TOKEN")))

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	origins := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range origins {
		origins[i] = strings.TrimSpace(origin)
	}
	allowedOrigins := strings.Join(origins, ",")
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Roles, Cache-Control",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.SetupRoutes(app, deps)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}
	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOrigins)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
