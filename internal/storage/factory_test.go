package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/matrix-ops/synapse-backup/internal/config"
)

// flakyStore fails a configurable number of times before succeeding.
type flakyStore struct {
	failures  int
	calls     int
	putCalls  int
	getCalls  int
	lastError error
}

func (f *flakyStore) attempt() error {
	f.calls++
	if f.calls <= f.failures {
		return f.lastError
	}
	return nil
}

func (f *flakyStore) CanUseBucket(ctx context.Context) (bool, error) {
	if err := f.attempt(); err != nil {
		return false, err
	}
	return true, nil
}

func (f *flakyStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := f.attempt(); err != nil {
		return nil, err
	}
	return []ObjectInfo{{Key: "20240101000000"}}, nil
}

func (f *flakyStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := f.attempt(); err != nil {
		return false, err
	}
	return true, nil
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	return f.attempt()
}

func (f *flakyStore) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	f.getCalls++
	return nil, f.lastError
}

func (f *flakyStore) Put(ctx context.Context, key string, reader io.Reader, expectedSize int64) error {
	f.putCalls++
	return f.lastError
}

func testRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}
}

func TestRetryableStoreRetriesUntilSuccess(t *testing.T) {
	store := &flakyStore{failures: 2, lastError: errors.New("transient")}
	retry := NewRetryableStore(store, testRetryConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	objects, err := retry.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(objects) != 1 {
		t.Errorf("got %d objects, want 1", len(objects))
	}
	if store.calls != 3 {
		t.Errorf("got %d calls, want 3", store.calls)
	}
}

func TestRetryableStoreGivesUp(t *testing.T) {
	innerErr := errors.New("persistent")
	store := &flakyStore{failures: 100, lastError: innerErr}
	retry := NewRetryableStore(store, testRetryConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := retry.Delete(context.Background(), "key")
	if !errors.Is(err, innerErr) {
		t.Fatalf("error = %v, want wrapped inner error", err)
	}
	if store.calls != 3 {
		t.Errorf("got %d calls, want 3 (initial plus two retries)", store.calls)
	}
}

func TestRetryableStoreDoesNotRetryStreams(t *testing.T) {
	innerErr := errors.New("stream failure")
	store := &flakyStore{failures: 100, lastError: innerErr}
	retry := NewRetryableStore(store, testRetryConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := retry.Put(context.Background(), "key", nil, 0); !errors.Is(err, innerErr) {
		t.Errorf("Put() error = %v, want inner error", err)
	}
	if store.putCalls != 1 {
		t.Errorf("Put was called %d times, want 1", store.putCalls)
	}

	if _, err := retry.GetStream(context.Background(), "key"); !errors.Is(err, innerErr) {
		t.Errorf("GetStream() error = %v, want inner error", err)
	}
	if store.getCalls != 1 {
		t.Errorf("GetStream was called %d times, want 1", store.getCalls)
	}
}

func TestRetryableStoreStopsOnContextCancel(t *testing.T) {
	store := &flakyStore{failures: 100, lastError: errors.New("transient")}
	cfg := testRetryConfig()
	cfg.BaseDelay = time.Hour
	retry := NewRetryableStore(store, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retry.Delete(ctx, "key")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if store.calls != 1 {
		t.Errorf("got %d calls, want 1", store.calls)
	}
}

func TestNewObjectStoreSelectsProvider(t *testing.T) {
	s3cfg := &config.Config{
		StorageProvider:    "s3",
		AWSAccessKeyID:     "key",
		AWSSecretAccessKey: "secret",
		S3Bucket:           "bucket",
		S3Region:           "us-east-1",
	}
	store, err := NewObjectStore(context.Background(), s3cfg)
	if err != nil {
		t.Fatalf("NewObjectStore(s3) error = %v", err)
	}
	if _, ok := store.(*S3Store); !ok {
		t.Errorf("got %T, want *S3Store", store)
	}

	if _, err := NewObjectStore(context.Background(), &config.Config{StorageProvider: "tape"}); err == nil {
		t.Error("expected error for unknown provider")
	}

	badGCS := &config.Config{
		StorageProvider:          "gcs",
		GCSBucket:                "bucket",
		GoogleProjectID:          "project",
		GoogleServiceAccountJSON: `{"type": "user"}`,
	}
	if _, err := NewObjectStore(context.Background(), badGCS); err == nil {
		t.Error("expected error for non service_account credentials")
	}
}

func TestValidateServiceAccountJSON(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr bool
	}{
		{"valid", `{"type": "service_account", "project_id": "p"}`, false},
		{"wrong type", `{"type": "user"}`, true},
		{"not json", `not json at all`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServiceAccountJSON(tt.json)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateServiceAccountJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
