// Package metrics provides Prometheus metrics for the backup service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BackupAttempts tracks backup and recovery attempts by operation and outcome.
	BackupAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "file_backup_attempts_total",
		Help: "Total number of backup and recovery attempts",
	}, []string{"operation", "mode", "status"})

	// BackupDuration tracks the duration of attempt phases.
	BackupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "file_backup_duration_seconds",
		Help:    "Duration of backup phases in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27min
	}, []string{"phase"})

	// SnapshotSize tracks the packed size of the last snapshot.
	SnapshotSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "file_backup_snapshot_size_bytes",
		Help: "Packed size of the last snapshot in bytes",
	}, []string{"name"})

	// ChangedEntries counts update entries written by incremental snapshots.
	ChangedEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "file_backup_changed_entries_total",
		Help: "Total number of update entries recorded",
	}, []string{"kind"})

	// StorageOperations tracks backend operations.
	StorageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "file_backup_storage_operations_total",
		Help: "Total number of storage operations",
	}, []string{"operation", "provider", "status"})

	// TransferRetries counts repeated file transfers.
	TransferRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "file_backup_transfer_retries_total",
		Help: "Total number of retried file transfers",
	}, []string{"operation", "provider"})

	// Restarts counts attempts restarted from scratch.
	Restarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "file_backup_restarts_total",
		Help: "Total number of restarted attempts",
	}, []string{"reason"})

	// SkippedBackups counts backups skipped because nothing changed or the
	// interval had not elapsed.
	SkippedBackups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "file_backup_skipped_total",
		Help: "Total number of skipped backups",
	}, []string{"reason"})

	// LastBackupTimestamp tracks when the last successful backup occurred.
	LastBackupTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "file_backup_last_success_timestamp",
		Help: "Unix timestamp of the last successful backup",
	}, []string{"name"})

	// Info provides static information about the service.
	Info = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "file_backup_info",
		Help: "Information about the backup service",
	}, []string{"version", "backend"})
)

// RecordAttempt records a backup or recovery attempt with its status.
func RecordAttempt(operation, mode string, success bool) {
	BackupAttempts.WithLabelValues(operation, mode, status(success)).Inc()
}

// RecordStorageOperation records a storage operation.
func RecordStorageOperation(operation, provider string, success bool) {
	StorageOperations.WithLabelValues(operation, provider, status(success)).Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
