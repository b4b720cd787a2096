package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mwork/credits-api/internal/config"
	"github.com/mwork/credits-api/internal/domain/credit"
	"github.com/mwork/credits-api/internal/pkg/database"
	"github.com/mwork/credits-api/internal/pkg/logger"
)

var errRedisRequired = errors.New("REDIS_URL is required to trigger a running worker")

// workerPool is smaller than the API pool; maintenance runs one pass at a time.
var workerPool = database.PoolConfig{
	MaxOpenConns:    5,
	MaxIdleConns:    2,
	ConnMaxLifetime: 5 * time.Minute,
	ConnMaxIdleTime: time.Minute,
}

func main() {
	once := flag.Bool("once", false, "run a single maintenance pass and exit")
	trigger := flag.Bool("trigger", false, "ask running workers for an immediate pass and exit")
	flag.Parse()

	cfg := config.Load()
	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		LogFile:     cfg.LogFile,
		Service:     "ledger-worker",
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to Redis, wake-ups disabled")
		rdb = nil
	}
	defer database.CloseRedis(rdb)

	if *trigger {
		if err := triggerPass(context.Background(), rdb); err != nil {
			log.Fatal().Err(err).Msg("Failed to publish maintenance wake-up")
		}
		log.Info().Str("channel", credit.MaintenanceChannel).Msg("Maintenance wake-up published")
		return
	}

	log.Info().Msg("Starting ledger-worker")

	db, err := database.NewPostgres(cfg.DatabaseURL, workerPool)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	svc := credit.NewService(credit.NewRepository(db), credit.NewVerifier(cfg.ReceiptVerification))
	worker := credit.NewWorker(svc, credit.WorkerConfig{
		Interval:       cfg.MaintenanceInterval,
		Retention:      cfg.TransactionRetention,
		DriftScanLimit: cfg.DriftScanLimit,
	})

	if *once {
		report := worker.RunOnce(context.Background())
		log.Info().
			Int64("deleted", report.Deleted).
			Int("drifted", report.Drifted).
			Msg("Maintenance pass done")
		if report.CleanupErr != nil || report.DriftScanErr != nil {
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker.Start()
	go credit.SubscribeWakeups(ctx, rdb, worker)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Info().Msg("Shutdown signal received")
	cancel()
	worker.Stop()
	log.Info().Msg("ledger-worker stopped")
}

func triggerPass(ctx context.Context, rdb *redis.Client) error {
	if rdb == nil {
		return errRedisRequired
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return rdb.Publish(ctx, credit.MaintenanceChannel, time.Now().UTC().Format(time.RFC3339)).Err()
}
