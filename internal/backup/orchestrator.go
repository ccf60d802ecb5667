package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/matrix-ops/synapse-backup/internal/archive"
	"github.com/matrix-ops/synapse-backup/internal/config"
	"github.com/matrix-ops/synapse-backup/internal/crypt"
	"github.com/matrix-ops/synapse-backup/internal/metrics"
	"github.com/matrix-ops/synapse-backup/internal/ratelimit"
	"github.com/matrix-ops/synapse-backup/internal/storage"
	"github.com/matrix-ops/synapse-backup/internal/utils"
)

// ErrBackupNotFound reports that no stored backup has the requested id.
var ErrBackupNotFound = errors.New("backup not found")

// Descriptor describes one stored backup.
type Descriptor struct {
	// BackupID identifies the backup and encodes its creation time.
	BackupID string

	// LastModified is the object store's upload completion time.
	LastModified time.Time

	// Size is the stored (encrypted) object size in bytes.
	Size int64
}

// Orchestrator coordinates backup, restore, list and delete operations.
type Orchestrator struct {
	config      *config.Config
	store       storage.ObjectStore
	rateLimiter ratelimit.RateLimiter
	logger      *slog.Logger
}

// NewOrchestrator creates a new backup orchestrator.
func NewOrchestrator(cfg *config.Config, store storage.ObjectStore, logger *slog.Logger) *Orchestrator {
	rateLimiter := ratelimit.NewTimeBasedLimiter(ratelimit.Config{
		MinInterval: cfg.GetMinBackupInterval(),
		ForceBackup: cfg.ForceBackup,
	})

	return &Orchestrator{
		config:      cfg,
		store:       store,
		rateLimiter: rateLimiter,
		logger:      logger,
	}
}

// keyPrefix returns the object key prefix backups live under, with a trailing
// slash, or "" when no prefix is configured.
func (o *Orchestrator) keyPrefix() string {
	prefix := strings.Trim(o.config.S3Path, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func (o *Orchestrator) keyFor(backupID string) string {
	return path.Join(strings.Trim(o.config.S3Path, "/"), backupID)
}

// CreateBackup archives the homeserver state, encrypts it and uploads it as a
// single object. It returns the new backup id, or "" when rate limiting
// skipped the backup.
func (o *Orchestrator) CreateBackup(ctx context.Context) (string, error) {
	startTime := time.Now()

	ok, err := o.store.CanUseBucket(ctx)
	if err != nil {
		metrics.RecordOperation("backup", false)
		return "", fmt.Errorf("failed to reach object store: %w", err)
	}
	if !ok {
		metrics.RecordOperation("backup", false)
		return "", fmt.Errorf("configured bucket does not exist or is not accessible")
	}

	lastBackup, err := o.lastBackupTime(ctx)
	if err != nil {
		o.logger.Warn("Failed to determine last backup time, proceeding", "error", err)
	} else {
		shouldBackup, reason := o.rateLimiter.ShouldBackup(lastBackup)
		o.logger.Info("Rate limiter decision", "should_backup", shouldBackup, "reason", reason)
		if !shouldBackup {
			metrics.RateLimitBlocked.Inc()
			return "", nil
		}
	}

	source := archive.Source{Root: o.config.DataDir, MediaDir: o.config.MediaDir}
	entries, err := source.Entries()
	if err != nil {
		metrics.RecordOperation("backup", false)
		return "", fmt.Errorf("failed to enumerate backup files: %w", err)
	}
	if len(entries) == 0 {
		metrics.RecordOperation("backup", false)
		return "", fmt.Errorf("nothing to back up in %s", o.config.DataDir)
	}

	backupID := NewBackupID(time.Now())
	key := o.keyFor(backupID)
	archiveSize := archive.EstimateSize(entries)

	o.logger.Info("Starting backup",
		"backup_id", backupID,
		"storage_key", key,
		"files", len(entries),
		"estimated_size", utils.FormatBytes(archiveSize),
	)

	tarStream := archive.Stream(entries)
	defer func() {
		if err := tarStream.Close(); err != nil {
			o.logger.Warn("Failed to close archive stream", "error", err)
		}
	}()

	progress := utils.NewProgressReader(tarStream, func(bytesRead int64, elapsed time.Duration) {
		o.logger.Info("Backup progress",
			"bytes_archived", utils.FormatBytes(bytesRead),
			"rate", utils.FormatRate(float64(bytesRead)/elapsed.Seconds()),
		)
	})

	encrypted, err := crypt.Encrypt(progress, o.config.Passphrase)
	if err != nil {
		metrics.RecordOperation("backup", false)
		return "", fmt.Errorf("failed to initialize encryption: %w", err)
	}

	uploadStart := time.Now()
	expectedSize := archiveSize + crypt.StreamOverhead(archiveSize)
	if err := o.store.Put(ctx, key, encrypted, expectedSize); err != nil {
		metrics.RecordStorageOperation("upload", o.config.StorageProvider, false)
		metrics.RecordOperation("backup", false)
		return "", fmt.Errorf("failed to upload backup %s: %w", backupID, err)
	}

	uploadDuration := time.Since(uploadStart)
	metrics.RecordStorageOperation("upload", o.config.StorageProvider, true)
	metrics.OperationDuration.WithLabelValues("backup", "upload").Observe(uploadDuration.Seconds())
	metrics.OperationDuration.WithLabelValues("backup", "total").Observe(time.Since(startTime).Seconds())
	metrics.BackupSize.Set(float64(progress.BytesRead()))
	metrics.LastBackupTimestamp.Set(float64(time.Now().Unix()))
	metrics.RecordOperation("backup", true)

	o.logger.Info("Backup completed successfully",
		"backup_id", backupID,
		"storage_key", key,
		"bytes_archived", progress.BytesRead(),
		"upload_duration", uploadDuration,
	)
	return backupID, nil
}

// RestoreBackup downloads and decrypts a backup and restores its contents
// into the data and media directories. Extraction happens into a staging
// directory first; live files are only replaced after the whole stream has
// authenticated, so a wrong passphrase or corrupted backup leaves the
// homeserver state untouched.
func (o *Orchestrator) RestoreBackup(ctx context.Context, backupID string) error {
	startTime := time.Now()

	if _, err := ParseBackupID(backupID); err != nil {
		return err
	}
	key := o.keyFor(backupID)

	exists, err := o.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to check backup %s: %w", backupID, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrBackupNotFound, backupID)
	}

	body, err := o.store.GetStream(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return fmt.Errorf("%w: %s", ErrBackupNotFound, backupID)
		}
		metrics.RecordStorageOperation("download", o.config.StorageProvider, false)
		metrics.RecordOperation("restore", false)
		return fmt.Errorf("failed to fetch backup %s: %w", backupID, err)
	}
	defer func() {
		if err := body.Close(); err != nil {
			o.logger.Warn("Failed to close backup stream", "error", err)
		}
	}()

	if err := os.MkdirAll(o.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	// Staging under the data dir keeps promotion on one filesystem.
	stage, err := os.MkdirTemp(o.config.DataDir, ".restore-")
	if err != nil {
		return fmt.Errorf("failed to create staging dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(stage); err != nil {
			o.logger.Warn("Failed to clean up staging dir", "path", stage, "error", err)
		}
	}()

	o.logger.Info("Starting restore", "backup_id", backupID, "staging_dir", stage)

	progress := utils.NewProgressReader(body, func(bytesRead int64, elapsed time.Duration) {
		o.logger.Info("Restore progress",
			"bytes_downloaded", utils.FormatBytes(bytesRead),
			"rate", utils.FormatRate(float64(bytesRead)/elapsed.Seconds()),
		)
	})

	extracted, err := archive.Extract(crypt.Decrypt(progress, o.config.Passphrase), stage)
	if err != nil {
		metrics.RecordOperation("restore", false)
		if errors.Is(err, crypt.ErrAuthentication) {
			return fmt.Errorf("cannot restore backup %s: %w", backupID, err)
		}
		return fmt.Errorf("failed to extract backup %s: %w", backupID, err)
	}
	metrics.RecordStorageOperation("download", o.config.StorageProvider, true)

	if err := o.promote(stage); err != nil {
		metrics.RecordOperation("restore", false)
		return fmt.Errorf("failed to move restored files into place: %w", err)
	}

	metrics.OperationDuration.WithLabelValues("restore", "total").Observe(time.Since(startTime).Seconds())
	metrics.RecordOperation("restore", true)

	o.logger.Info("Restore completed successfully",
		"backup_id", backupID,
		"bytes_extracted", extracted,
	)
	return nil
}

// promote moves the fully extracted staging tree into the live locations.
// Top-level "media" maps to the configured media dir; everything else lands
// in the data dir.
func (o *Orchestrator) promote(stage string) error {
	items, err := os.ReadDir(stage)
	if err != nil {
		return err
	}
	for _, item := range items {
		src := filepath.Join(stage, item.Name())
		if item.Name() == "media" && item.IsDir() {
			if err := o.promoteMedia(src); err != nil {
				return err
			}
			continue
		}
		if err := moveTree(src, filepath.Join(o.config.DataDir, item.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) promoteMedia(src string) error {
	if err := os.MkdirAll(o.config.MediaDir, 0o755); err != nil {
		return err
	}
	children, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := moveTree(filepath.Join(src, child.Name()), filepath.Join(o.config.MediaDir, child.Name())); err != nil {
			return err
		}
	}
	return nil
}

// moveTree moves src to dst, preferring a rename. When rename is impossible,
// because dst is a populated directory or on another filesystem, the tree is
// merged by copy instead.
func moveTree(src, dst string) error {
	if info, err := os.Lstat(dst); err == nil && !info.IsDir() {
		if err := os.Remove(dst); err != nil {
			return err
		}
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyTree(src, dst); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dst, info.Mode().Perm())
	}
	if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
		return err
	}
	children, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := copyTree(filepath.Join(src, child.Name()), filepath.Join(dst, child.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// ListBackups returns the stored backups in chronological order. Objects under
// the prefix whose names are not backup ids are ignored.
func (o *Orchestrator) ListBackups(ctx context.Context) ([]Descriptor, error) {
	prefix := o.keyPrefix()
	objects, err := o.store.List(ctx, prefix)
	if err != nil {
		metrics.RecordStorageOperation("list", o.config.StorageProvider, false)
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	metrics.RecordStorageOperation("list", o.config.StorageProvider, true)

	var backups []Descriptor
	for _, obj := range objects {
		id := strings.TrimPrefix(obj.Key, prefix)
		if _, err := ParseBackupID(id); err != nil {
			continue
		}
		backups = append(backups, Descriptor{
			BackupID:     id,
			LastModified: obj.LastModified,
			Size:         obj.Size,
		})
	}
	// Keys under one prefix sort lexically, which for backup ids is
	// chronological already.
	return backups, nil
}

// DeleteBackup removes a stored backup. Deleting an id that does not exist is
// not an error.
func (o *Orchestrator) DeleteBackup(ctx context.Context, backupID string) error {
	if _, err := ParseBackupID(backupID); err != nil {
		return err
	}
	if err := o.store.Delete(ctx, o.keyFor(backupID)); err != nil {
		metrics.RecordStorageOperation("delete", o.config.StorageProvider, false)
		metrics.RecordOperation("delete", false)
		return fmt.Errorf("failed to delete backup %s: %w", backupID, err)
	}
	metrics.RecordStorageOperation("delete", o.config.StorageProvider, true)
	metrics.BackupsDeleted.Inc()
	metrics.RecordOperation("delete", true)
	o.logger.Info("Backup deleted", "backup_id", backupID)
	return nil
}

// lastBackupTime returns the creation time of the newest stored backup, or the
// zero time when none exist.
func (o *Orchestrator) lastBackupTime(ctx context.Context) (time.Time, error) {
	backups, err := o.ListBackups(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if len(backups) == 0 {
		return time.Time{}, nil
	}
	return ParseBackupID(backups[len(backups)-1].BackupID)
}
