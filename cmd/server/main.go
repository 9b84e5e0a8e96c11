package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/clubtokens/console-backend/docs"
	"github.com/clubtokens/console-backend/internal/config"
	"github.com/clubtokens/console-backend/internal/database"
	"github.com/clubtokens/console-backend/internal/handlers"
	"github.com/clubtokens/console-backend/internal/logging"
	mW "github.com/clubtokens/console-backend/internal/middleware"
	"github.com/clubtokens/console-backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title Club Console Backend API
// @version 1.0
// @description Token ledger, audit trail and administrator management for the club console
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	config.BindEnv()
	readErr := viper.ReadInConfig()

	cfg := config.Load()
	logger := logging.NewServiceLogger("club-console", cfg.LogLevel)
	if readErr != nil {
		logger.WithError(readErr).Info("Config file not found, using environment and defaults")
	}
	if cfg.JWT.SecretKey == "" {
		logger.Fatal("JWT_SECRET_KEY must be set")
	}

	docs.SwaggerInfo.Host = "localhost:" + cfg.Port

	db := database.InitDatabase(logger)
	defer db.Close()

	redisClient := database.InitRedis(logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	var locker services.AccountLocker
	if redisClient != nil {
		locker = services.NewRedisAccountLocker(redisClient, services.LockOptions{
			Expiry:     cfg.Ledger.LockExpiry,
			Tries:      cfg.Ledger.LockTries,
			RetryDelay: cfg.Ledger.LockRetryDelay,
		}, logger)
	} else {
		logger.Warn("Redis unavailable, account locks are process-local")
		locker = services.NewLocalAccountLocker()
	}

	var publisher services.AuditPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher := services.NewKafkaAuditPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	} else {
		logger.Warn("No Kafka brokers configured, audit entries are relayed to the log")
		publisher = services.NewLogAuditPublisher(logger)
	}

	gate := services.NewAuthorizationGate()
	accountStore := services.NewAccountStore(db)
	adminDirectory := services.NewAdminDirectory(db)
	auditService := services.NewAuditTrailService(db, cfg.Audit.DefaultPageSize, cfg.Audit.MaxPageSize, logger)
	ledgerService := services.NewLedgerService(db, accountStore, auditService, locker, logger)
	tokenService := services.NewTokenService(ledgerService, gate)
	adminService := services.NewAdminService(db, adminDirectory, auditService, gate, cfg.Admin.AllowSelfDeactivation, logger)
	notificationService := services.NewNotificationService(
		services.NewHTTPPushProvider(cfg.Notification.ProviderURL, cfg.Notification.APIKey, cfg.Notification.Timeout),
		auditService, gate, logger)

	relay := services.NewAuditOutboxRelay(db, publisher, services.RelayOptions{
		BatchSize:   cfg.Audit.OutboxBatchSize,
		Interval:    cfg.Audit.OutboxInterval,
		MaxAttempts: cfg.Audit.OutboxMaxAttempts,
		BaseBackoff: cfg.Audit.OutboxBaseBackoff,
	}, logger)
	reconciler := services.NewReconciliationService(db, accountStore, cfg.Audit.ReconcileLookback, logger)

	authenticator := mW.NewAuthenticator(cfg.JWT.SecretKey, time.Duration(cfg.JWT.ExpiryHours)*time.Hour, redisClient, logger)

	ledgerHandler := handlers.NewLedgerHandler(tokenService, cfg.Ledger.MaxListLimit, logger)
	auditHandler := handlers.NewAuditHandler(auditService, gate, logger)
	adminHandler := handlers.NewAdminHandler(adminService, logger)
	notificationHandler := handlers.NewNotificationHandler(notificationService, logger)

	// Setup router
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authenticator.Middleware)

			r.Post("/auth/logout", authenticator.Logout)

			r.Group(func(r chi.Router) {
				r.Use(mW.RequireAdmin(adminDirectory, logger))

				r.Get("/transaction-types", ledgerHandler.ListTransactionTypes)
				r.Get("/accounts/{accountId}", ledgerHandler.GetAccount)
				r.Get("/accounts/{accountId}/transactions", ledgerHandler.ListTransactions)
				r.Post("/accounts/{accountId}/transactions", ledgerHandler.CreateTransaction)

				r.Get("/audit", auditHandler.ListAuditEntries)

				r.Get("/admins/me", adminHandler.Me)
				r.Get("/admins/{email}", adminHandler.GetByEmail)
				r.Post("/admins", adminHandler.Create)
				r.Put("/admins/{id}", adminHandler.Update)
				r.Delete("/admins/{id}", adminHandler.Deactivate)
				r.Post("/admins/{id}/reactivate", adminHandler.Reactivate)

				r.Post("/notifications", notificationHandler.Send)
			})
		})
	})

	bgCtx, stopBackground := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		relay.Run(bgCtx)
	}()
	go func() {
		defer wg.Done()
		reconciler.Run(bgCtx, cfg.Audit.ReconcileInterval)
	}()

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		logger.WithField("port", cfg.Port).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	stopBackground()
	wg.Wait()

	logger.Info("Server stopped")
}
