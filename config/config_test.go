package config

import (
	"reflect"
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:  "single service - worker",
			input: "worker",
			expected: map[ServiceMode]bool{
				ServiceModeWorker: true,
			},
			expectError: false,
		},
		{
			name:  "single service - reconciler",
			input: "reconciler",
			expected: map[ServiceMode]bool{
				ServiceModeReconciler: true,
			},
			expectError: false,
		},
		{
			name:  "all services",
			input: "worker,reconciler",
			expected: map[ServiceMode]bool{
				ServiceModeWorker:     true,
				ServiceModeReconciler: true,
			},
			expectError: false,
		},
		{
			name:  "services with spaces",
			input: " worker , reconciler ",
			expected: map[ServiceMode]bool{
				ServiceModeWorker:     true,
				ServiceModeReconciler: true,
			},
			expectError: false,
		},
		{
			name:  "duplicate services",
			input: "worker,worker,reconciler",
			expected: map[ServiceMode]bool{
				ServiceModeWorker:     true,
				ServiceModeReconciler: true,
			},
			expectError: false,
		},
		{
			name:        "empty string",
			input:       "",
			expectError: true,
		},
		{
			name:        "only commas",
			input:       ",,,",
			expectError: true,
		},
		{
			name:        "invalid service name",
			input:       "worker,scheduler",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServices(tt.input)
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error for input %q, got none", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("ParseServices(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestAppConfigDefaults(t *testing.T) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("failed to parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Postgres.Host != "localhost" {
		t.Errorf("Postgres.Host = %q, want localhost", cfg.Postgres.Host)
	}
	if cfg.Postgres.Port != 5432 {
		t.Errorf("Postgres.Port = %d, want 5432", cfg.Postgres.Port)
	}
	if cfg.Redis.IdempotencyTTL != 24*time.Hour {
		t.Errorf("Redis.IdempotencyTTL = %v, want 24h", cfg.Redis.IdempotencyTTL)
	}
	if cfg.Mongo.Database != "collab_jobs" {
		t.Errorf("Mongo.Database = %q, want collab_jobs", cfg.Mongo.Database)
	}
	if cfg.Broker.URL == "" {
		t.Error("Broker.URL should have a default")
	}
	if !cfg.IsWorkerEnabled() || !cfg.IsReconcilerEnabled() {
		t.Errorf("default services %q should enable worker and reconciler", cfg.Services)
	}

	wantSchedule := []time.Duration{5 * time.Second, 25 * time.Second, 125 * time.Second}
	if !reflect.DeepEqual(cfg.Worker.RetrySchedule(), wantSchedule) {
		t.Errorf("Worker.RetrySchedule() = %v, want %v", cfg.Worker.RetrySchedule(), wantSchedule)
	}
}

func TestAppConfigFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("REDIS_URI", "cache.internal:6380")
	t.Setenv("MONGO_URI", "mongodb://docs.internal:27017")
	t.Setenv("AMQP_URL", "amqp://broker.internal:5672/")
	t.Setenv("SERVICES", "worker")
	t.Setenv("WORKER_RETRY_SCHEDULE_SECONDS", "1,2")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("failed to parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Postgres.Host != "db.internal" {
		t.Errorf("Postgres.Host = %q, want db.internal", cfg.Postgres.Host)
	}
	if cfg.Redis.URI != "cache.internal:6380" {
		t.Errorf("Redis.URI = %q, want cache.internal:6380", cfg.Redis.URI)
	}
	if cfg.Mongo.URI != "mongodb://docs.internal:27017" {
		t.Errorf("Mongo.URI = %q, want mongodb://docs.internal:27017", cfg.Mongo.URI)
	}
	if cfg.Broker.URL != "amqp://broker.internal:5672/" {
		t.Errorf("Broker.URL = %q", cfg.Broker.URL)
	}
	if cfg.IsReconcilerEnabled() {
		t.Error("reconciler should be disabled when SERVICES=worker")
	}
	wantSchedule := []time.Duration{time.Second, 2 * time.Second}
	if !reflect.DeepEqual(cfg.Worker.RetrySchedule(), wantSchedule) {
		t.Errorf("Worker.RetrySchedule() = %v, want %v", cfg.Worker.RetrySchedule(), wantSchedule)
	}
}

func TestReconcilerConfigSanitize(t *testing.T) {
	cfg := ReconcilerConfig{Interval: time.Millisecond, PendingThresholdSeconds: -1}
	cfg.Sanitize()

	if cfg.Interval != time.Minute {
		t.Errorf("Interval = %v, want 1m", cfg.Interval)
	}
	if cfg.PendingThresholdSeconds != 300 {
		t.Errorf("PendingThresholdSeconds = %d, want 300", cfg.PendingThresholdSeconds)
	}
	if cfg.ProcessingThresholdSeconds != 600 {
		t.Errorf("ProcessingThresholdSeconds = %d, want 600", cfg.ProcessingThresholdSeconds)
	}
	if cfg.Batch != 100 {
		t.Errorf("Batch = %d, want 100", cfg.Batch)
	}
}
