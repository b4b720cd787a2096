package main

import (
	"context"
	"expvar"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mwork/credits-api/internal/config"
	"github.com/mwork/credits-api/internal/domain/credit"
	"github.com/mwork/credits-api/internal/domain/realtime"
	"github.com/mwork/credits-api/internal/middleware"
	"github.com/mwork/credits-api/internal/pkg/database"
	"github.com/mwork/credits-api/internal/pkg/jwt"
	"github.com/mwork/credits-api/internal/pkg/logger"
	pkgresponse "github.com/mwork/credits-api/internal/pkg/response"
	"github.com/mwork/credits-api/internal/pkg/storage"
)

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		LogFile:     cfg.LogFile,
		Service:     "credits-api",
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	log.Info().Str("env", cfg.Env).Msg("Starting credits API")

	db, err := database.NewPostgres(cfg.DatabaseURL, database.DefaultPoolConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to Redis, continuing without cache and cross-instance events")
		redisClient = nil
	}
	defer database.CloseRedis(redisClient)

	// ---------- Realtime ----------
	hub := realtime.NewHub(redisClient)
	go hub.Run()

	// ---------- Credits ----------
	creditRepo := credit.NewRepository(db)
	creditService := credit.NewService(creditRepo, credit.NewVerifier(cfg.ReceiptVerification))
	creditService.SetEventPublisher(credit.NewWSPublisher(hub))
	if redisClient != nil {
		creditService.SetProductCache(credit.NewRedisProductCache(redisClient, cfg.ProductCacheTTL))
	}
	if archive := newReceiptArchive(cfg); archive != nil {
		creditService.SetReceiptArchive(archive)
	}

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	wsHandler := realtime.NewHandler(hub, jwtService, redisClient, cfg.AllowedOrigins)
	wsHandler.SetSnapshot(func(ctx context.Context, userID uuid.UUID) (interface{}, error) {
		return creditService.GetBalance(ctx, userID)
	})

	creditHandler := credit.NewHandler(creditService)
	creditAdminHandler := credit.NewAdminHandler(creditService, cfg.TransactionRetention, cfg.DriftScanLimit)

	mutationLimiter := middleware.NewKeyedRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer mutationLimiter.Stop()

	authMiddleware := middleware.Auth(jwtService)

	// ---------- Maintenance ----------
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	var worker *credit.Worker
	if cfg.MaintenanceEnabled {
		worker = credit.NewWorker(creditService, credit.WorkerConfig{
			Interval:       cfg.MaintenanceInterval,
			Retention:      cfg.TransactionRetention,
			DriftScanLimit: cfg.DriftScanLimit,
		})
		worker.Start()
		go credit.SubscribeWakeups(workerCtx, redisClient, worker)
	}

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	// WebSocket endpoint (before Compress)
	r.Method(http.MethodGet, "/ws", wsHandler.Authenticate(http.HandlerFunc(wsHandler.WebSocket)))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})
	r.Method(http.MethodGet, "/debug/vars", expvar.Handler())

	r.Group(func(r chi.Router) {
		r.Use(chimw.Compress(5))
		mountCreditRoutes(r, creditRoutes{
			User:  creditHandler.Routes(authMiddleware, middleware.RateLimit(mutationLimiter)),
			Admin: creditAdminHandler.Routes(authMiddleware, middleware.RequireAdmin()),
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	stopWorker()
	if worker != nil {
		worker.Stop()
	}
	hub.Shutdown()

	log.Info().Msg("Server exited properly")
}

// creditRoutes are the routers mounted under /api/v1.
type creditRoutes struct {
	User  http.Handler
	Admin http.Handler
}

func mountCreditRoutes(r chi.Router, routes creditRoutes) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/credits", routes.User)
		r.Mount("/admin/credits", routes.Admin)
	})
}

// newReceiptArchive picks R2 when it is configured and the local directory
// otherwise. A nil result disables archiving.
func newReceiptArchive(cfg *config.Config) storage.Storage {
	if cfg.R2Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r2, err := storage.NewR2Storage(ctx, storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			BucketName:      cfg.R2BucketName,
		})
		if err == nil {
			log.Info().Str("bucket", cfg.R2BucketName).Msg("Archiving receipts to R2")
			return r2
		}
		log.Error().Err(err).Msg("Failed to create R2 storage client, falling back to local archive")
	}

	if cfg.ReceiptArchiveDir == "" {
		return nil
	}
	local, err := storage.NewLocalStorage(cfg.ReceiptArchiveDir)
	if err != nil {
		log.Error().Err(err).Str("dir", cfg.ReceiptArchiveDir).Msg("Receipt archive disabled")
		return nil
	}
	log.Info().Str("dir", cfg.ReceiptArchiveDir).Msg("Archiving receipts locally")
	return local
}
