package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"tgchat/internal/config"
	"tgchat/internal/database"
	"tgchat/internal/handlers"
	"tgchat/internal/jobs"
	"tgchat/internal/logging"
	"tgchat/internal/models"
	"tgchat/internal/services"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting Telegram context bot...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	log.Printf("📋 Configuration loaded (Port: %s, provider: %s, model: %s)",
		cfg.Port, cfg.AIProvider, cfg.AIModel)

	// Usage accounting database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("❌ Failed to open usage database: %v", err)
	}
	defer db.Close()

	if err := db.Initialize(); err != nil {
		log.Fatalf("❌ Failed to initialize usage database: %v", err)
	}

	// Redis backs the conversation context store
	redisService, err := services.NewRedisService(cfg.RedisURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	defer redisService.Close()

	contextService := services.NewContextService(
		redisService, cfg.ContextWindowSize, cfg.UserContextLimit, cfg.ContextTTL)

	aiService := services.NewAIService(cfg.AIProvider, cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel)

	telegramService := services.NewTelegramService(cfg.BotToken)

	// Resolve the bot's own identity for mention and reply detection
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	botInfo, err := telegramService.GetMe(startupCtx)
	cancelStartup()
	if err != nil {
		log.Fatalf("❌ Failed to get bot info from Telegram: %v", err)
	}
	if cfg.BotUsername == "" {
		cfg.BotUsername = botInfo.Username
	}
	log.Printf("🤖 Bot identity: @%s (ID %d)", botInfo.Username, botInfo.ID)

	trigger := services.NewTriggerEvaluator(cfg.BotUsername, botInfo.ID, cfg.TriggerWords, cfg.TriggerWholeWords)
	assembler := services.NewPromptAssembler(cfg.BasePrompt, cfg.BotUsername)
	metrics := services.InitMetrics()

	botHandler := handlers.NewBotHandler(
		cfg, telegramService, contextService, assembler, trigger, aiService, metrics, db, botInfo)

	// Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "tgchat v1.0",
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	prometheus := fiberprometheus.New("tgchat")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	app.Get("/health", func(c *fiber.Ctx) error {
		if err := redisService.Ping(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "degraded",
				"redis":  err.Error(),
			})
		}
		return c.JSON(fiber.Map{"status": "ok", "bot": botInfo.Username})
	})

	botHandler.RegisterRoutes(app)

	// Updates arrive either via webhook or long polling, never both
	pollCtx, cancelPolling := context.WithCancel(context.Background())
	defer cancelPolling()
	if cfg.UseWebhook() {
		webhookCtx, cancelWebhook := context.WithTimeout(context.Background(), 30*time.Second)
		err := telegramService.SetWebhook(webhookCtx, botHandler.WebhookURL())
		cancelWebhook()
		if err != nil {
			log.Fatalf("❌ Failed to register webhook: %v", err)
		}
		log.Printf("📡 Webhook mode: updates delivered to %s", cfg.WebhookBaseURL)
	} else {
		go telegramService.StartPolling(pollCtx, func(update *models.TelegramUpdate) {
			go botHandler.ProcessUpdate(update)
		})
		log.Println("📡 Long polling mode: webhook not configured")
	}

	// Background jobs
	scheduler, err := jobs.NewScheduler()
	if err != nil {
		log.Fatalf("❌ Failed to create job scheduler: %v", err)
	}

	retentionJob := jobs.NewRetentionCleanupJob(db, cfg.RetentionDays)
	if err := scheduler.AddCronJob("retention_cleanup", cfg.RetentionCron, retentionJob.Run); err != nil {
		log.Fatalf("❌ Failed to schedule retention cleanup: %v", err)
	}

	healthJob := jobs.NewHealthCheckJob(redisService, aiService)
	if err := scheduler.AddIntervalJob("health_check", 5*time.Minute, healthJob.Run); err != nil {
		log.Fatalf("❌ Failed to schedule health check: %v", err)
	}

	scheduler.Start()

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down bot...")

		scheduler.Stop()

		if cfg.UseWebhook() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := telegramService.DeleteWebhook(ctx); err != nil {
				log.Printf("⚠️ Error removing webhook: %v", err)
			}
			cancel()
		} else {
			cancelPolling()
			telegramService.StopPolling()
		}

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}

	log.Println("✅ Bot stopped")
}
