package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/projector"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("projector stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	if cfg.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		return err
	}

	svc := &projector.Service{
		Cache:  redisx.NewOrderCache(rdb),
		Dedup:  redisx.NewDedup(rdb, cfg.ProjectorGroup),
		Logger: logger,
	}
	consumer := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProjectorGroup, orders.Topics, cfg.ProjectorWorkers, logger)

	logger.Info("projector consuming",
		zap.Strings("topics", orders.Topics),
		zap.String("group", cfg.ProjectorGroup),
		zap.Int("workers", cfg.ProjectorWorkers))
	return consumer.Start(ctx, svc.HandleOrderEvent)
}
