package config

import (
	"testing"
	"time"
)

var configEnvVars = []string{
	"DATA_DIR",
	"MEDIA_DIR",
	"BACKUP_PASSPHRASE",
	"STORAGE_PROVIDER",
	"AWS_ACCESS_KEY_ID",
	"AWS_SECRET_ACCESS_KEY",
	"S3_BUCKET",
	"S3_REGION",
	"S3_ENDPOINT",
	"S3_PATH",
	"S3_URI_STYLE",
	"GCS_BUCKET",
	"GOOGLE_PROJECT_ID",
	"GOOGLE_SERVICE_ACCOUNT_JSON",
	"MIN_BACKUP_INTERVAL_HOURS",
	"FORCE_BACKUP",
}

func setEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for _, key := range configEnvVars {
		t.Setenv(key, "")
	}
	for key, value := range env {
		t.Setenv(key, value)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{
			name: "valid S3 config with region",
			env: map[string]string{
				"STORAGE_PROVIDER":      "s3",
				"AWS_ACCESS_KEY_ID":     "test-key",
				"AWS_SECRET_ACCESS_KEY": "test-secret",
				"S3_BUCKET":             "test-bucket",
				"S3_REGION":             "us-east-1",
			},
			wantErr: false,
		},
		{
			name: "valid S3 config with endpoint only",
			env: map[string]string{
				"AWS_ACCESS_KEY_ID":     "test-key",
				"AWS_SECRET_ACCESS_KEY": "test-secret",
				"S3_BUCKET":             "test-bucket",
				"S3_ENDPOINT":           "https://minio.local:9000",
				"S3_URI_STYLE":          "path",
			},
			wantErr: false,
		},
		{
			name: "valid GCS config",
			env: map[string]string{
				"STORAGE_PROVIDER":            "gcs",
				"GCS_BUCKET":                  "test-bucket",
				"GOOGLE_PROJECT_ID":           "test-project",
				"GOOGLE_SERVICE_ACCOUNT_JSON": `{"type": "service_account"}`,
			},
			wantErr: false,
		},
		{
			name: "missing region and endpoint",
			env: map[string]string{
				"AWS_ACCESS_KEY_ID":     "test-key",
				"AWS_SECRET_ACCESS_KEY": "test-secret",
				"S3_BUCKET":             "test-bucket",
			},
			wantErr: true,
		},
		{
			name: "missing S3 credentials",
			env: map[string]string{
				"S3_BUCKET": "test-bucket",
				"S3_REGION": "us-east-1",
			},
			wantErr: true,
		},
		{
			name: "invalid STORAGE_PROVIDER",
			env: map[string]string{
				"STORAGE_PROVIDER": "tape",
			},
			wantErr: true,
		},
		{
			name: "invalid S3_URI_STYLE",
			env: map[string]string{
				"AWS_ACCESS_KEY_ID":     "test-key",
				"AWS_SECRET_ACCESS_KEY": "test-secret",
				"S3_BUCKET":             "test-bucket",
				"S3_REGION":             "us-east-1",
				"S3_URI_STYLE":          "virtual",
			},
			wantErr: true,
		},
		{
			name: "missing GCS project",
			env: map[string]string{
				"STORAGE_PROVIDER": "gcs",
				"GCS_BUCKET":       "test-bucket",
			},
			wantErr: true,
		},
		{
			name: "negative interval",
			env: map[string]string{
				"AWS_ACCESS_KEY_ID":         "test-key",
				"AWS_SECRET_ACCESS_KEY":     "test-secret",
				"S3_BUCKET":                 "test-bucket",
				"S3_REGION":                 "us-east-1",
				"MIN_BACKUP_INTERVAL_HOURS": "-1",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.env)
			_, err := Load()
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	setEnv(t, map[string]string{
		"AWS_ACCESS_KEY_ID":     "test-key",
		"AWS_SECRET_ACCESS_KEY": "test-secret",
		"S3_BUCKET":             "test-bucket",
		"S3_REGION":             "us-east-1",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DataDir != "/data" {
		t.Errorf("DataDir = %q, want /data", cfg.DataDir)
	}
	if cfg.MediaDir != "/data/media" {
		t.Errorf("MediaDir = %q, want /data/media", cfg.MediaDir)
	}
	if cfg.StorageProvider != "s3" {
		t.Errorf("StorageProvider = %q, want s3", cfg.StorageProvider)
	}
	if cfg.UsePathStyle() {
		t.Error("UsePathStyle() = true, want false by default")
	}
	if cfg.MinBackupIntervalHours != 0 {
		t.Errorf("MinBackupIntervalHours = %d, want 0", cfg.MinBackupIntervalHours)
	}
}

func TestMediaDirFollowsDataDir(t *testing.T) {
	setEnv(t, map[string]string{
		"DATA_DIR":              "/srv/synapse",
		"AWS_ACCESS_KEY_ID":     "test-key",
		"AWS_SECRET_ACCESS_KEY": "test-secret",
		"S3_BUCKET":             "test-bucket",
		"S3_REGION":             "us-east-1",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MediaDir != "/srv/synapse/media" {
		t.Errorf("MediaDir = %q, want /srv/synapse/media", cfg.MediaDir)
	}
}

func TestGetMinBackupInterval(t *testing.T) {
	cfg := &Config{MinBackupIntervalHours: 6}
	if got := cfg.GetMinBackupInterval(); got != 6*time.Hour {
		t.Errorf("GetMinBackupInterval() = %v, want 6h", got)
	}
}
