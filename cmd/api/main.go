package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/commercekit/storefront/internal/di"
	"github.com/commercekit/storefront/internal/domain"
	"github.com/commercekit/storefront/internal/handlers"
	"github.com/commercekit/storefront/internal/platform/config"
	"github.com/commercekit/storefront/internal/platform/idempotency"
	"github.com/commercekit/storefront/internal/platform/observability"
	"github.com/commercekit/storefront/internal/repositories/memory"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("storefront")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load(ctx)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.Names()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	registry := memory.NewRegistry()
	store, err := merchantStoreFromConfig(cfg)
	if err != nil {
		logger.Fatal("invalid store configuration", zap.Error(err))
	}
	registry.SeedStore(store)

	idempotencyStore := idempotency.NewMemoryStore()

	container, err := di.NewContainer(ctx, cfg, di.ContainerDeps{
		Registry:    registry,
		Idempotency: idempotencyStore,
		Logger:      observability.EventLogger(logger),
	})
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	orderHandlers := handlers.NewOrderHandlers(container.Services.Orders)
	callbackHandlers := handlers.NewCallbackHandlers(container.Services.Callbacks)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithCallbackRoutes(callbackHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Error("container close failed", zap.Error(err))
	}
}

func merchantStoreFromConfig(cfg config.Config) (domain.MerchantStore, error) {
	taxRate, err := decimal.NewFromString(cfg.Store.TaxRate)
	if err != nil {
		return domain.MerchantStore{}, fmt.Errorf("parse tax rate %q: %w", cfg.Store.TaxRate, err)
	}
	return domain.MerchantStore{
		Code:         cfg.Store.Code,
		Name:         cfg.Store.Name,
		CurrencyCode: cfg.Store.CurrencyCode,
		CountryCode:  cfg.Store.CountryCode,
		Email:        cfg.Store.Email,
		TaxRate:      taxRate,
	}, nil
}
