package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	"github.com/ariefcatur/go-order-fulfillment/internal/events"
	"github.com/ariefcatur/go-order-fulfillment/internal/httpx"
	"github.com/ariefcatur/go-order-fulfillment/internal/memstore"
	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/postgres"
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
		logger.Fatal("order api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// publisher context outlives ctx so buffered events are flushed on shutdown
	publisher, closeEvents, err := events.New(context.Background(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeEvents()

	svc := orders.NewService(store,
		orders.WithEvents(publisher),
		orders.WithLogger(logger),
		orders.WithRecorder(observability.NewWorkflowMetrics(reg)),
		orders.WithProducerName(cfg.ServiceName),
	)
	if err := svc.SeedStates(ctx); err != nil {
		return err
	}

	router := httpx.NewRouter(httpx.RouterConfig{
		Logger:   logger,
		Metrics:  observability.NewServerMetrics(reg, cfg.ServiceName),
		Gatherer: reg,
		Timeout:  cfg.RequestTimeout,
	})
	h := &httpx.OrdersHandler{Orders: svc, BaseURL: cfg.PublicBaseURL, Logger: logger}
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		if err := redisx.Ping(ctx, rdb); err != nil {
			return err
		}
		h.Cache = redisx.NewOrderCache(rdb)
		h.Idem = redisx.NewIdempotency(rdb)
	}
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver), zap.String("events", cfg.EventsDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config) (orders.Store, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		return memstore.New(), func() {}, nil
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return &postgres.Store{DB: pool}, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
