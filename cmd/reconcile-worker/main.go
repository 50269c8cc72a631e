package main

import (
	"context"
	"flag"
	"os"
	"time"

	"expensesync/internal/backend"
	"expensesync/internal/cli"
	"expensesync/internal/log"
	"expensesync/internal/services"
)

func main() {
	once := flag.Bool("once", false, "run a single orphan scan and exit")
	flag.Parse()

	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig()
	logger.Info("Starting reconcile-worker", "once", *once)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	if backendCfg.Blob == backend.MemoryBlob {
		// An in-process store is private to the server, which reconciles it itself.
		logger.Error("reconcile-worker needs a shared object store; BLOB_BACKEND=memory is reconciled by the server")
		os.Exit(1)
	}

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	// The worker never publishes or subscribes; the in-process feed keeps the
	// factory from dialing the broker.
	backendCfg.Feed = backend.MemoryFeed
	backends, err := backend.NewFactory(logger).Create(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize object store", log.FieldError, err)
		os.Exit(1)
	}
	defer backends.Cleanup()

	reconciler := services.NewReconciler(backends.Blobs, repo, services.ReconcilerConfig{
		Schedule:    cfg.OrphanScanSchedule,
		GracePeriod: cfg.OrphanGracePeriod,
		Delete:      cfg.OrphanDelete,
	}, logger)

	if *once {
		ctx, cancel := context.WithTimeout(context.Background(), services.DefaultReconcilerConfig().RunTimeout)
		defer cancel()
		report, err := reconciler.Run(ctx)
		for _, key := range report.OrphanKeys {
			logger.Info("Orphaned image", log.FieldAssetKey, key)
		}
		if err != nil {
			logger.Error("Orphan scan failed", log.FieldError, err)
			os.Exit(1)
		}
		return
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := reconciler.Stop(ctx); err != nil {
			logger.Warn("Reconciler did not stop in time", log.FieldError, err)
		}
	})

	if err := reconciler.Start(ctx); err != nil {
		logger.Error("Failed to start reconciler", log.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("reconcile-worker stopped")
}
