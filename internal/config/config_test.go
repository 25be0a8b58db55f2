package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: postgres://localhost/probes?sslmode=disable
jwt:
  secret: test-secret
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want 8080", cfg.API.Port)
	}
	if cfg.NATS.URL != "nats://127.0.0.1:4222" {
		t.Errorf("NATS.URL = %q", cfg.NATS.URL)
	}
	if cfg.MQTT.TopicPrefix != "probe-link" {
		t.Errorf("MQTT.TopicPrefix = %q", cfg.MQTT.TopicPrefix)
	}
	if cfg.JWT.AccessTokenTTL != 15*time.Minute {
		t.Errorf("JWT.AccessTokenTTL = %v", cfg.JWT.AccessTokenTTL)
	}
	if cfg.Engine.SubscriberBuffer != 256 {
		t.Errorf("Engine.SubscriberBuffer = %d", cfg.Engine.SubscriberBuffer)
	}

	if err := cfg.ValidateServer(); err != nil {
		t.Errorf("ValidateServer: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://override/db")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("LOG_LEVEL", "debug")

	path := writeConfig(t, `
database:
  dsn: postgres://file/db
jwt:
  secret: file-secret
log:
  level: info
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.DSN != "postgres://override/db" {
		t.Errorf("Database.DSN = %q", cfg.Database.DSN)
	}
	if cfg.JWT.Secret != "env-secret" {
		t.Errorf("JWT.Secret = %q", cfg.JWT.Secret)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestValidateServerRequiresSecrets(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if err := cfg.ValidateServer(); err == nil {
		t.Error("ValidateServer passed with empty dsn and secret")
	}

	cfg.Database.DSN = "postgres://localhost/probes"
	if err := cfg.ValidateServer(); err == nil {
		t.Error("ValidateServer passed with empty jwt secret")
	}
}

func TestValidateBridgeRequiresBroker(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if err := cfg.ValidateBridge(); err == nil {
		t.Error("ValidateBridge passed with empty broker")
	}

	cfg.MQTT.Broker = "tcp://localhost:1883"
	if err := cfg.ValidateBridge(); err != nil {
		t.Errorf("ValidateBridge: %v", err)
	}
}
