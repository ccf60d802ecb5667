package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/matrix-ops/synapse-backup/internal/config"
)

// RetryConfig holds retry configuration for storage operations.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// RetryableStore wraps an ObjectStore with retry logic for the idempotent
// metadata operations. Put and GetStream are passed through: Put carries its
// own per-part retries and aborts cleanly on failure, and a GetStream body
// cannot be re-read transparently once handed to the caller.
type RetryableStore struct {
	store  ObjectStore
	config RetryConfig
	logger *slog.Logger
}

// NewRetryableStore creates a store wrapper with retry logic.
func NewRetryableStore(store ObjectStore, cfg RetryConfig, logger *slog.Logger) *RetryableStore {
	return &RetryableStore{
		store:  store,
		config: cfg,
		logger: logger,
	}
}

// CanUseBucket implements ObjectStore.CanUseBucket with retries.
func (r *RetryableStore) CanUseBucket(ctx context.Context) (bool, error) {
	var ok bool
	err := r.withRetry(ctx, "probe bucket", func() error {
		var err error
		ok, err = r.store.CanUseBucket(ctx)
		return err
	})
	return ok, err
}

// List implements ObjectStore.List with retries.
func (r *RetryableStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	err := r.withRetry(ctx, "list objects", func() error {
		var err error
		objects, err = r.store.List(ctx, prefix)
		return err
	})
	return objects, err
}

// Exists implements ObjectStore.Exists with retries.
func (r *RetryableStore) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.withRetry(ctx, "check object", func() error {
		var err error
		exists, err = r.store.Exists(ctx, key)
		return err
	})
	return exists, err
}

// Delete implements ObjectStore.Delete with retries. Deletion is idempotent,
// so retrying after an ambiguous failure is safe.
func (r *RetryableStore) Delete(ctx context.Context, key string) error {
	return r.withRetry(ctx, "delete object", func() error {
		return r.store.Delete(ctx, key)
	})
}

// GetStream implements ObjectStore.GetStream without retries.
func (r *RetryableStore) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	return r.store.GetStream(ctx, key)
}

// Put implements ObjectStore.Put without wrapper retries.
func (r *RetryableStore) Put(ctx context.Context, key string, reader io.Reader, expectedSize int64) error {
	return r.store.Put(ctx, key, reader, expectedSize)
}

func (r *RetryableStore) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.backoffDelay(attempt)
			r.logger.Warn("retrying storage operation",
				"operation", op,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("%s failed after %d retries: %w", op, r.config.MaxRetries, lastErr)
}

func (r *RetryableStore) backoffDelay(attempt int) time.Duration {
	delay := r.config.BaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}
	return delay
}

// NewObjectStore creates the object store selected by the configuration.
func NewObjectStore(ctx context.Context, cfg *config.Config) (ObjectStore, error) {
	switch cfg.StorageProvider {
	case "s3":
		return NewS3Store(ctx, S3Config{
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			UsePathStyle:    cfg.UsePathStyle(),
		})
	case "gcs":
		if cfg.GoogleServiceAccountJSON != "" {
			if err := ValidateServiceAccountJSON(cfg.GoogleServiceAccountJSON); err != nil {
				return nil, err
			}
		}
		return NewGCSStore(ctx, GCSConfig{
			Bucket:             cfg.GCSBucket,
			ProjectID:          cfg.GoogleProjectID,
			ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
		})
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.StorageProvider)
	}
}
