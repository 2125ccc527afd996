package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("expected 15s read timeout, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Issuance.MaxAttempts != 3 {
		t.Errorf("expected 3 issuance attempts, got %d", cfg.Issuance.MaxAttempts)
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("expected redis disabled by default, got %q", cfg.Redis.Addr)
	}
	if len(cfg.MQTT.Topics) != 1 || cfg.MQTT.Topics[0] != "scanners/+/check" {
		t.Errorf("unexpected default topics: %v", cfg.MQTT.Topics)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
server:
  port: 9090
database:
  dsn: "postgres://localhost/checkserial"
auth:
  jwt_secret: "from-file"
  token_ttl: 1h
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CHECKSERIAL_AUTH_JWT_SECRET", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Database.DSN != "postgres://localhost/checkserial" {
		t.Errorf("unexpected dsn %q", cfg.Database.DSN)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("expected env override, got %q", cfg.Auth.JWTSecret)
	}
	if cfg.Auth.TokenTTL != time.Hour {
		t.Errorf("expected 1h ttl, got %v", cfg.Auth.TokenTTL)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Port: 0}, Issuance: IssuanceConfig{MaxAttempts: 1}, Log: LogConfig{Level: "info"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected invalid port to fail")
	}

	cfg.Server.Port = 8080
	cfg.Log.Level = "loud"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected invalid log level to fail")
	}
}
