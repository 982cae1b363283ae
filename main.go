package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"ai-player-service/handlers"
	"ai-player-service/middleware"
	"ai-player-service/models"
	"ai-player-service/services"
	"ai-player-service/utils"
	"ai-player-service/workers"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	log.Warn().Str("key", key).Str("default", fallback).Msg("env var not set, using default")
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", v).Msg("unparseable duration, using default")
	}
	return fallback
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found, reading environment variables directly")
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal().Msg("DATABASE_URL environment variable not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := db.AutoMigrate(&models.AIClient{}); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	if err := utils.InitArchive(); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize transcript archive storage")
	}

	matchServiceURL := os.Getenv("MATCH_SERVICE_URL")
	if matchServiceURL == "" {
		log.Fatal().Msg("MATCH_SERVICE_URL environment variable not set")
	}
	matchServiceToken := os.Getenv("MATCH_SERVICE_TOKEN")
	if matchServiceToken == "" {
		log.Fatal().Msg("MATCH_SERVICE_TOKEN environment variable not set")
	}
	gameGatewayURL := envOr("GAME_GATEWAY_WS_URL", "ws://localhost:5300/ai")
	natsURL := envOr("NATS_URL", "nats://localhost:4222")
	changeSubject := envOr("MATCH_CHANGE_SUBJECT", "records.matches")
	heartbeatPeriod := envDurationOr("HEARTBEAT_PERIOD", services.DefaultHeartbeatPeriod)
	recoveryGrace := envDurationOr("RECOVERY_GRACE", 5*time.Second)

	store := services.NewGormClientStore(db)
	matchAPI := services.NewMatchServiceClient(matchServiceURL, matchServiceToken)
	provider := services.NewHTTPDecisionProvider()
	transportFactory := services.NewWSTransportFactory(gameGatewayURL)

	registry := services.NewClientRegistry(store, transportFactory, provider, matchAPI, heartbeatPeriod)
	orchestrator := workers.NewSessionOrchestrator(registry, matchAPI)
	listener := workers.NewChangeListener(natsURL, changeSubject, orchestrator)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := listener.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start change listener")
	}
	defer listener.Close()

	// Startup recovery and reconciliation resolve to the same state the
	// service would have reached had it never restarted.
	go func() {
		registry.RecoverAll(ctx, recoveryGrace)
		orchestrator.Reconcile(ctx)
	}()

	sched, err := workers.StartSweeps(ctx, registry, orchestrator, heartbeatPeriod)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start background sweeps")
	}
	defer sched.Shutdown()

	app := fiber.New()
	app.Use(middleware.GatewayAuthMiddleware())
	app.Use(cors.New())
	handlers.SetupAIClientRoutes(app, registry)

	port := envOr("PORT", "5400")
	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Error().Err(err).Msg("server error")
		}
	}()
	log.Info().Str("port", port).Msg("ai player service running")

	<-ctx.Done()
	log.Info().Msg("shutting down, stopping all ai clients")
	registry.StopAll(context.Background())
	app.Shutdown()
}
