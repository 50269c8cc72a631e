package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"expensesync/internal/assets"
	"expensesync/internal/backend"
	"expensesync/internal/cache"
	"expensesync/internal/cli"
	"expensesync/internal/core"
	apphttp "expensesync/internal/http"
	"expensesync/internal/log"
	"expensesync/internal/services"
	"expensesync/internal/webhook"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig()

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	backends, err := backend.NewFactory(logger).Create(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backends", log.FieldError, err)
		os.Exit(1)
	}

	cacheManager := cache.NewManager(logger)
	users := cache.NewLRUCache[core.User](cfg.UserCacheSize, cfg.UserCacheTTL)
	cacheManager.Register(users)
	cacheManager.StartCleanup(cfg.UserCacheTTL)

	ledger := services.NewLedgerService(repo, backends.Feed, users, logger)
	gateway := assets.NewGateway(backends.Blobs, cfg.MaxUploadBytes, logger)
	expenses := services.NewExpenseService(ledger, gateway, logger)
	notifier := webhook.NewNotifier(cfg.WebhookURL, cfg.WebhookTimeout, logger)

	// The in-process object store is only visible here, so its orphans are
	// reconciled by the server rather than by cmd/reconcile-worker.
	var reconciler *services.Reconciler
	if backendCfg.Blob == backend.MemoryBlob {
		reconciler = services.NewReconciler(backends.Blobs, repo, services.ReconcilerConfig{
			Schedule:    cfg.OrphanScanSchedule,
			GracePeriod: cfg.OrphanGracePeriod,
			Delete:      cfg.OrphanDelete,
		}, logger)
		if err := reconciler.Start(context.Background()); err != nil {
			logger.Error("Failed to start orphan reconciler", log.FieldError, err)
			os.Exit(1)
		}
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Dependencies{
		Identifier:  ledger,
		History:     ledger,
		Submitter:   expenses,
		Attachments: gateway,
		Comments:    notifier,
		Feed:        backends.Feed,
		Assets:      backends.Assets,
		Ready:       repo.Ping,
	}, apphttp.Options{
		MaxUploadBytes:     cfg.MaxUploadBytes,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}, logger)

	// Read and write timeouts are left to the handlers: live views hold
	// their connection open.
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if reconciler != nil {
			if err := reconciler.Stop(ctx); err != nil {
				logger.Warn("Orphan reconciler did not stop in time", log.FieldError, err)
			}
		}
		cacheManager.Stop()
		if err := backends.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	logger.Info("Starting expensesync server",
		"port", cfg.Port,
		"feed", backendCfg.Feed.String(),
		"blob", backendCfg.Blob.String(),
		"webhook_enabled", notifier.Enabled())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
