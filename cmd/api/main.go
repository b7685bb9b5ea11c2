package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"eats-partner-core/internal/application"
	"eats-partner-core/internal/application/webhook_handlers"
	apiinfra "eats-partner-core/internal/infrastructure/api"
	"eats-partner-core/internal/infrastructure/config"
	"eats-partner-core/internal/metrics"
	"eats-partner-core/internal/infrastructure/pubsub"
	"eats-partner-core/internal/infrastructure/repository"
	"eats-partner-core/internal/infrastructure/ubereats"
	"eats-partner-core/internal/ports"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("⚠️  Warning: .env file not found")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage: MongoDB when configured, in-memory otherwise
	var (
		eventRepo ports.EventRepository
		orderRepo ports.OrderRepository
		tokenRepo ports.TokenRepository
	)
	if cfg.MongoURI != "" {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to MongoDB")
		}
		defer client.Disconnect(context.Background())

		db := client.Database(cfg.MongoDatabase)
		mongoEvents, err := repository.NewMongoEventRepository(ctx, db)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize event repository")
		}
		eventRepo = mongoEvents
		orderRepo = repository.NewMongoOrderRepository(db)
		tokenRepo = repository.NewMongoTokenRepository(db)
		logger.Info().Str("database", cfg.MongoDatabase).Msg("Using MongoDB storage")
	} else {
		eventRepo = repository.NewMemoryEventRepository()
		orderRepo = repository.NewMemoryOrderRepository()
		tokenRepo = repository.NewMemoryTokenRepository()
		logger.Warn().Msg("MONGODB_URI not set, using in-memory storage")
	}

	// Event fan-out: Redis when configured, in-process otherwise
	var broker ports.EventBroker
	if cfg.RedisURL != "" {
		redisBroker, err := pubsub.NewRedisBroker(cfg.RedisURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisBroker.Close()
		broker = redisBroker
		logger.Info().Msg("Using Redis event broker")
	} else {
		broker = pubsub.NewMemoryBroker(logger)
	}

	m := metrics.New()

	// Partner platform client and token lifecycle
	partnerClient := ubereats.NewClient(ubereats.Config{
		APIBaseURL:   cfg.PartnerAPIURL,
		AuthBaseURL:  cfg.PartnerAuthURL,
		ClientID:     cfg.PartnerClientID,
		ClientSecret: cfg.PartnerClientSecret,
	}, logger)
	tokenService := application.NewTokenService(tokenRepo, partnerClient, cfg.PartnerScopes, m, logger)
	gateway := application.NewPartnerGateway(partnerClient, tokenService, logger)

	// Order lifecycle
	orderService := application.NewOrderService(orderRepo, gateway, broker, m, cfg.AcceptanceWindow, logger)

	// Webhook ingestion and dispatch
	verifier := ubereats.NewVerifier(cfg.WebhookSecret, cfg.MaxSignatureSkew)
	webhookService := application.NewWebhookService(eventRepo, verifier, m, logger)

	dispatcher := application.NewDispatcher(logger)
	dispatcher.RegisterHandler(webhook_handlers.NewOrderNotificationHandler(orderService, logger))
	dispatcher.RegisterHandler(webhook_handlers.NewOrderCancelHandler(orderService, logger))
	dispatcher.RegisterHandler(webhook_handlers.NewOrderStatusHandler(orderService, logger))
	dispatcher.RegisterHandler(webhook_handlers.NewFulfillmentIssueHandler(orderService, logger))
	dispatcher.RegisterHandler(webhook_handlers.NewStoreHandler(broker, logger))
	dispatcher.RegisterHandler(webhook_handlers.NewReportHandler(logger))

	retryCfg := application.RetryConfig{
		BaseDelay:    cfg.RetryBaseDelay,
		MaxDelay:     cfg.RetryMaxDelay,
		MaxAttempts:  cfg.MaxAttempts,
		Workers:      cfg.DispatchWorkers,
		PollInterval: cfg.PollInterval,
		ClaimTimeout: application.DefaultRetryConfig().ClaimTimeout,
		BatchSize:    application.DefaultRetryConfig().BatchSize,
	}
	worker := application.NewDispatchWorker(eventRepo, dispatcher, broker, m, retryCfg, webhookService.Nudge(), logger)
	go worker.Run(ctx)
	go orderService.StartSweeper(ctx, cfg.SweepInterval)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.HTTPMiddleware(m))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	// Health check - must be public for monitoring
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	// Swagger documentation - public
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	r.Get("/swagger/doc.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		http.ServeFile(w, r, "./docs/swagger.json")
	})

	server := apiinfra.NewServer(webhookService, orderService, tokenService, gateway, broker, logger)
	server.Routes(r)

	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		<-ctx.Done()
		logger.Info().Msg("Shutting down")
		httpServer.Shutdown(context.Background())
	}()

	logger.Info().Str("port", cfg.Port).Msg("Starting API server")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("Failed to start server")
	}
}
