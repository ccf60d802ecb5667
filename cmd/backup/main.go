package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/matrix-ops/synapse-backup/internal/backup"
	"github.com/matrix-ops/synapse-backup/internal/config"
	"github.com/matrix-ops/synapse-backup/internal/health"
	"github.com/matrix-ops/synapse-backup/internal/metrics"
	"github.com/matrix-ops/synapse-backup/internal/server"
	"github.com/matrix-ops/synapse-backup/internal/storage"
	"github.com/matrix-ops/synapse-backup/internal/utils"
)

const version = "1.0.0"

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [args]

Commands:
  create         Create a new backup and upload it
  list           List stored backups
  restore <id>   Restore the backup with the given id
  delete <id>    Delete the backup with the given id
`, os.Args[0])
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	command := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("Homeserver backup service starting",
		"version", version,
		"command", command,
		"storage_provider", cfg.StorageProvider,
		"data_dir", cfg.DataDir,
		"media_dir", cfg.MediaDir,
	)
	metrics.Info.WithLabelValues(version, cfg.StorageProvider).Set(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewObjectStore(ctx, cfg)
	if err != nil {
		logger.Error("Failed to create object store", "error", err)
		os.Exit(1)
	}
	retryStore := storage.NewRetryableStore(store, storage.DefaultRetryConfig(), logger)

	// Optional metrics/health server, enabled by METRICS_PORT.
	var httpServer *server.Server
	var wg sync.WaitGroup
	if metricsPort := os.Getenv("METRICS_PORT"); metricsPort != "" {
		port, err := strconv.Atoi(metricsPort)
		if err != nil {
			logger.Warn("Invalid METRICS_PORT, using default", "error", err)
			port = 8080
		}

		serverConfig := server.DefaultConfig()
		serverConfig.Port = port
		httpServer = server.New(serverConfig, logger)

		httpServer.RegisterHealthCheck("storage", func(ctx context.Context) health.Check {
			probeCtx, probeCancel := context.WithTimeout(ctx, 10*time.Second)
			defer probeCancel()

			ok, err := retryStore.CanUseBucket(probeCtx)
			check := health.Check{
				Status:    health.StatusHealthy,
				Timestamp: time.Now(),
				Details:   map[string]any{"provider": cfg.StorageProvider},
			}
			if err != nil || !ok {
				check.Status = health.StatusUnhealthy
				if err != nil {
					check.Details["error"] = err.Error()
				} else {
					check.Details["error"] = "bucket does not exist"
				}
			}
			return check
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := httpServer.Start(); err != nil {
				logger.Error("HTTP server failed", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()

		if httpServer != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown failed", "error", err)
			}
		}
	}()

	orchestrator := backup.NewOrchestrator(cfg, retryStore, logger)
	exitCode := run(ctx, command, cfg, orchestrator, logger)

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", "error", err)
		}
		shutdownCancel()
	}
	wg.Wait()

	os.Exit(exitCode)
}

func run(ctx context.Context, command string, cfg *config.Config, orchestrator *backup.Orchestrator, logger *slog.Logger) int {
	switch command {
	case "create":
		if cfg.Passphrase == "" {
			logger.Error("BACKUP_PASSPHRASE is required to create a backup")
			return 1
		}
		backupID, err := orchestrator.CreateBackup(ctx)
		if err != nil {
			logger.Error("Backup failed", "error", err)
			return 1
		}
		if backupID == "" {
			logger.Info("Backup skipped by rate limiting")
			return 0
		}
		logger.Info("Backup created", "backup_id", backupID)
		return 0

	case "list":
		backups, err := orchestrator.ListBackups(ctx)
		if err != nil {
			logger.Error("Failed to list backups", "error", err)
			return 1
		}
		if len(backups) == 0 {
			fmt.Println("no backups found")
			return 0
		}
		for _, b := range backups {
			fmt.Printf("%s\t%s\t%s\n", b.BackupID, utils.FormatBytes(b.Size), b.LastModified.UTC().Format(time.RFC3339))
		}
		return 0

	case "restore":
		if len(os.Args) < 3 {
			usage()
			return 2
		}
		if cfg.Passphrase == "" {
			logger.Error("BACKUP_PASSPHRASE is required to restore a backup")
			return 1
		}
		if err := orchestrator.RestoreBackup(ctx, os.Args[2]); err != nil {
			logger.Error("Restore failed", "error", err)
			return 1
		}
		logger.Info("Restore completed", "backup_id", os.Args[2])
		return 0

	case "delete":
		if len(os.Args) < 3 {
			usage()
			return 2
		}
		if err := orchestrator.DeleteBackup(ctx, os.Args[2]); err != nil {
			logger.Error("Delete failed", "error", err)
			return 1
		}
		return 0

	default:
		usage()
		return 2
	}
}
