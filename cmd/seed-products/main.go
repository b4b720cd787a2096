package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mwork/credits-api/internal/config"
	"github.com/mwork/credits-api/internal/domain/credit"
	"github.com/mwork/credits-api/internal/pkg/database"
	"github.com/mwork/credits-api/internal/pkg/logger"
)

func main() {
	file := flag.String("file", "configs/products.yaml", "catalog file to load")
	dryRun := flag.Bool("dry-run", false, "print the products without writing them")
	flag.Parse()

	cfg := config.Load()
	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		Service:     "seed-products",
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	catalog, err := credit.LoadCatalog(*file)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load catalog")
	}
	products := catalog.ToProducts()

	if *dryRun {
		printProducts(products)
		return
	}

	db, err := database.NewPostgres(cfg.DatabaseURL, database.PoolConfig{MaxOpenConns: 2})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, cached catalogs expire on their own")
		redisClient = nil
	}
	defer database.CloseRedis(redisClient)

	svc := credit.NewService(credit.NewRepository(db), credit.NewVerifier(cfg.ReceiptVerification))
	if redisClient != nil {
		svc.SetProductCache(credit.NewRedisProductCache(redisClient, cfg.ProductCacheTTL))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	saved, err := svc.UpsertProducts(ctx, products)
	if err != nil {
		log.Error().Err(err).Int("saved", len(saved)).Msg("Failed to seed products")
		os.Exit(1)
	}

	log.Info().Str("file", *file).Int("count", len(saved)).Msg("Products seeded")
}

func printProducts(products []credit.Product) {
	fmt.Printf("%-16s %-8s %8s %6s %8s %s\n", "PRODUCT", "PLATFORM", "CREDITS", "BONUS", "PRICE", "ACTIVE")
	for _, p := range products {
		fmt.Printf("%-16s %-8s %8d %6d %8.2f %t\n",
			p.ProductID, p.Platform, p.Credits, p.BonusCredits, p.Price, p.IsActive)
	}
}
