// Package metrics provides Prometheus metrics for the backup service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationAttempts tracks backup, restore and delete attempts.
	OperationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homeserver_backup_operation_attempts_total",
		Help: "Total number of backup service operations",
	}, []string{"operation", "status"})

	// OperationDuration tracks the duration of operation phases.
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "homeserver_backup_operation_duration_seconds",
		Help:    "Duration of backup service operations in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17min
	}, []string{"operation", "phase"})

	// BackupSize tracks the plaintext archive size of the last backup.
	BackupSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "homeserver_backup_size_bytes",
		Help: "Archive size of the last backup in bytes",
	})

	// StorageOperations tracks object store operations.
	StorageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homeserver_backup_storage_operations_total",
		Help: "Total number of object store operations",
	}, []string{"operation", "provider", "status"})

	// RateLimitBlocked tracks backups skipped by respawn protection.
	RateLimitBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "homeserver_backup_rate_limit_blocked_total",
		Help: "Total number of backups blocked by rate limiting",
	})

	// LastBackupTimestamp tracks when the last successful backup occurred.
	LastBackupTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "homeserver_backup_last_success_timestamp",
		Help: "Unix timestamp of the last successful backup",
	})

	// BackupsDeleted tracks the number of backups deleted.
	BackupsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "homeserver_backup_deleted_total",
		Help: "Total number of backups deleted",
	})

	// Info provides static information about the service.
	Info = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "homeserver_backup_info",
		Help: "Information about the backup service",
	}, []string{"version", "storage_provider"})
)

// RecordOperation records an operation attempt with its status.
func RecordOperation(operation string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	OperationAttempts.WithLabelValues(operation, status).Inc()
}

// RecordStorageOperation records an object store operation.
func RecordStorageOperation(operation, provider string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	StorageOperations.WithLabelValues(operation, provider, status).Inc()
}
