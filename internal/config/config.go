// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Workload paths
	DataDir  string // Directory holding signing keys and the local database
	MediaDir string // Media store path; defaults to DataDir/media

	// Backup encryption
	Passphrase string

	// Storage provider configuration
	StorageProvider string // "s3" or "gcs"

	// S3 configuration
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	S3Bucket           string
	S3Region           string
	S3Endpoint         string // Optional custom endpoint
	S3Path             string // Optional key prefix inside the bucket
	S3URIStyle         string // "host" or "path"

	// GCS configuration
	GCSBucket                string
	GoogleProjectID          string
	GoogleServiceAccountJSON string

	// Protection against accidental back-to-back backups
	MinBackupIntervalHours int
	ForceBackup            bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:    os.Getenv("DATA_DIR"),
		MediaDir:   os.Getenv("MEDIA_DIR"),
		Passphrase: os.Getenv("BACKUP_PASSPHRASE"),

		StorageProvider: os.Getenv("STORAGE_PROVIDER"),

		// S3
		AWSAccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		S3Bucket:           os.Getenv("S3_BUCKET"),
		S3Region:           os.Getenv("S3_REGION"),
		S3Endpoint:         os.Getenv("S3_ENDPOINT"),
		S3Path:             os.Getenv("S3_PATH"),
		S3URIStyle:         os.Getenv("S3_URI_STYLE"),

		// GCS
		GCSBucket:                os.Getenv("GCS_BUCKET"),
		GoogleProjectID:          os.Getenv("GOOGLE_PROJECT_ID"),
		GoogleServiceAccountJSON: os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"),
	}

	if cfg.DataDir == "" {
		cfg.DataDir = "/data"
	}
	if cfg.MediaDir == "" {
		cfg.MediaDir = filepath.Join(cfg.DataDir, "media")
	}
	if cfg.StorageProvider == "" {
		cfg.StorageProvider = "s3"
	}
	if cfg.S3URIStyle == "" {
		cfg.S3URIStyle = "host"
	}

	// Parse numeric values with defaults
	cfg.MinBackupIntervalHours = getEnvInt("MIN_BACKUP_INTERVAL_HOURS", 0)
	cfg.ForceBackup = getEnvBool("FORCE_BACKUP", false)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.StorageProvider {
	case "s3":
		if err := c.validateS3(); err != nil {
			return err
		}
	case "gcs":
		if err := c.validateGCS(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid STORAGE_PROVIDER: %s (must be 's3' or 'gcs')", c.StorageProvider)
	}

	if c.MinBackupIntervalHours < 0 {
		return fmt.Errorf("MIN_BACKUP_INTERVAL_HOURS must be non-negative")
	}

	return nil
}

func (c *Config) validateS3() error {
	if c.AWSAccessKeyID == "" {
		return fmt.Errorf("AWS_ACCESS_KEY_ID is required for S3 storage")
	}
	if c.AWSSecretAccessKey == "" {
		return fmt.Errorf("AWS_SECRET_ACCESS_KEY is required for S3 storage")
	}
	if c.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required for S3 storage")
	}
	if c.S3Region == "" && c.S3Endpoint == "" {
		return fmt.Errorf("one of S3_REGION or S3_ENDPOINT must be set")
	}
	if c.S3URIStyle != "host" && c.S3URIStyle != "path" {
		return fmt.Errorf("invalid S3_URI_STYLE: %s (must be 'host' or 'path')", c.S3URIStyle)
	}
	return nil
}

func (c *Config) validateGCS() error {
	if c.GCSBucket == "" {
		return fmt.Errorf("GCS_BUCKET is required for GCS storage")
	}
	if c.GoogleProjectID == "" {
		return fmt.Errorf("GOOGLE_PROJECT_ID is required for GCS storage")
	}
	if c.GoogleServiceAccountJSON == "" {
		return fmt.Errorf("GOOGLE_SERVICE_ACCOUNT_JSON is required for GCS storage")
	}
	return nil
}

// UsePathStyle reports whether the S3 client should use path-style addressing.
func (c *Config) UsePathStyle() bool {
	return c.S3URIStyle == "path"
}

// GetMinBackupInterval returns the minimum backup interval as a Duration.
func (c *Config) GetMinBackupInterval() time.Duration {
	return time.Duration(c.MinBackupIntervalHours) * time.Hour
}

// getEnvInt gets an integer from environment variable with a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean from environment variable with a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
