package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Mode != ModeLocal {
		t.Errorf("mode = %s, want local", cfg.Storage.Mode)
	}
	if cfg.Storage.Driver != "sqlite3" {
		t.Errorf("driver = %s, want sqlite3", cfg.Storage.Driver)
	}
	if !cfg.Fraud.HighValueThreshold.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("high-value threshold = %s, want 10000", cfg.Fraud.HighValueThreshold)
	}
	if cfg.Fraud.VelocityCount != 5 || cfg.Fraud.VelocityWindow != time.Hour {
		t.Errorf("velocity = %d/%s", cfg.Fraud.VelocityCount, cfg.Fraud.VelocityWindow)
	}
	if cfg.HTTPAddress() != ":8080" {
		t.Errorf("address = %s, want :8080", cfg.HTTPAddress())
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("STORAGE_MODE", "remote")
	t.Setenv("FRAUD_HIGH_VALUE_THRESHOLD", "2500.50")
	t.Setenv("FRAUD_VELOCITY_WINDOW", "30m")
	t.Setenv("DYNAMODB_ENDPOINT", "http://localhost:8000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Mode != ModeRemote {
		t.Errorf("mode = %s, want remote", cfg.Storage.Mode)
	}
	if want, _ := decimal.NewFromString("2500.50"); !cfg.Fraud.HighValueThreshold.Equal(want) {
		t.Errorf("threshold = %s, want 2500.50", cfg.Fraud.HighValueThreshold)
	}
	if cfg.Fraud.VelocityWindow != 30*time.Minute {
		t.Errorf("window = %s, want 30m", cfg.Fraud.VelocityWindow)
	}
	if cfg.Storage.Endpoint != "http://localhost:8000" {
		t.Errorf("endpoint = %s", cfg.Storage.Endpoint)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"missing jwt secret", map[string]string{"JWT_SECRET": ""}},
		{"bad storage mode", map[string]string{"STORAGE_MODE": "cloud"}},
		{"bad driver", map[string]string{"DB_DRIVER": "oracle"}},
		{"negative threshold", map[string]string{"FRAUD_HIGH_VALUE_THRESHOLD": "-1"}},
		{"threshold not a number", map[string]string{"FRAUD_HIGH_VALUE_THRESHOLD": "lots"}},
		{"zero velocity", map[string]string{"FRAUD_VELOCITY_COUNT": "0"}},
		{"bad window", map[string]string{"FRAUD_VELOCITY_WINDOW": "soon"}},
		{"zero queue", map[string]string{"ALERT_QUEUE_SIZE": "0"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("Load accepted invalid configuration")
			}
		})
	}
}
