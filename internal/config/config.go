// Package config loads serve-mode settings from the environment.
package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	DatabaseURL  string // WARDEN_DATABASE_URL (required)
	HTTPAddr     string // WARDEN_HTTP_ADDR (default ":8080")
	NATSURL      string // WARDEN_NATS_URL (optional, empty = no event feed)
	AuthToken    string // WARDEN_AUTH_TOKEN (optional, empty = auth disabled)
	DirectoryURL string // WARDEN_DIRECTORY_URL (required; external directory base URL)
	DirectoryKey string // WARDEN_DIRECTORY_TOKEN (optional bearer token)

	// Reconciler settings
	ReconcileTick time.Duration // WARDEN_RECONCILE_TICK (default 5s)
	MutationRate  float64       // WARDEN_MUTATION_RATE (default 5 per second)
	MutationBurst int           // WARDEN_MUTATION_BURST (default 5)
	VerifyWindow  time.Duration // WARDEN_VERIFY_WINDOW (default 24h)

	// Snapshot settings
	SnapshotInterval time.Duration // WARDEN_SNAPSHOT_INTERVAL (default 3m; 0 = disabled)
	SnapshotS3Bucket string        // WARDEN_SNAPSHOT_S3_BUCKET (enables S3 when set)
	SnapshotS3Endpt  string        // WARDEN_SNAPSHOT_S3_ENDPOINT (custom endpoint for MinIO)
	SnapshotS3Region string        // WARDEN_SNAPSHOT_S3_REGION (default "us-east-1")
	SnapshotS3Key    string        // WARDEN_SNAPSHOT_S3_KEY (default "warden/state.jsonl")
	SnapshotFile     string        // WARDEN_SNAPSHOT_FILE (enables local file when set)
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:      os.Getenv("WARDEN_DATABASE_URL"),
		HTTPAddr:         envOrDefault("WARDEN_HTTP_ADDR", ":8080"),
		NATSURL:          os.Getenv("WARDEN_NATS_URL"),
		AuthToken:        os.Getenv("WARDEN_AUTH_TOKEN"),
		DirectoryURL:     os.Getenv("WARDEN_DIRECTORY_URL"),
		DirectoryKey:     os.Getenv("WARDEN_DIRECTORY_TOKEN"),
		SnapshotS3Bucket: os.Getenv("WARDEN_SNAPSHOT_S3_BUCKET"),
		SnapshotS3Endpt:  os.Getenv("WARDEN_SNAPSHOT_S3_ENDPOINT"),
		SnapshotS3Region: envOrDefault("WARDEN_SNAPSHOT_S3_REGION", "us-east-1"),
		SnapshotS3Key:    envOrDefault("WARDEN_SNAPSHOT_S3_KEY", "warden/state.jsonl"),
		SnapshotFile:     os.Getenv("WARDEN_SNAPSHOT_FILE"),
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("WARDEN_DATABASE_URL is required")
	}
	if c.DirectoryURL == "" {
		return nil, fmt.Errorf("WARDEN_DIRECTORY_URL is required")
	}

	var err error
	if c.ReconcileTick, err = envDuration("WARDEN_RECONCILE_TICK", 5*time.Second); err != nil {
		return nil, err
	}
	if c.VerifyWindow, err = envDuration("WARDEN_VERIFY_WINDOW", 24*time.Hour); err != nil {
		return nil, err
	}
	if c.SnapshotInterval, err = envDuration("WARDEN_SNAPSHOT_INTERVAL", 3*time.Minute); err != nil {
		return nil, err
	}

	c.MutationRate = 5
	if v := os.Getenv("WARDEN_MUTATION_RATE"); v != "" {
		if _, err := fmt.Sscanf(v, "%g", &c.MutationRate); err != nil || c.MutationRate <= 0 {
			return nil, fmt.Errorf("WARDEN_MUTATION_RATE: want a positive number, got %q", v)
		}
	}
	c.MutationBurst = 5
	if v := os.Getenv("WARDEN_MUTATION_BURST"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &c.MutationBurst); err != nil || c.MutationBurst < 1 {
			return nil, fmt.Errorf("WARDEN_MUTATION_BURST: want a positive integer, got %q", v)
		}
	}

	return c, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
