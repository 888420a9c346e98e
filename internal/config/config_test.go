package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "secret_key: test-secret\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != defaultPort {
		t.Fatalf("port = %d, want %d", cfg.Port, defaultPort)
	}
	if cfg.QRTokenExpiry != DefaultQRTokenExpiry {
		t.Fatalf("qr expiry = %d, want %d", cfg.QRTokenExpiry, DefaultQRTokenExpiry)
	}
	if cfg.WiFiEnforcement != WiFiAdvisory {
		t.Fatalf("wifi mode = %q, want %q", cfg.WiFiEnforcement, WiFiAdvisory)
	}
	if cfg.JWTSecret != "test-secret" {
		t.Fatalf("jwt secret should fall back to secret_key, got %q", cfg.JWTSecret)
	}
	if !cfg.IsDev() {
		t.Fatal("default env should be development")
	}
}

func TestLoadRequiresSecretKey(t *testing.T) {
	path := writeConfig(t, "port: 9000\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when secret_key is missing")
	}
}

func TestLoadRejectsUnknownWiFiMode(t *testing.T) {
	path := writeConfig(t, "secret_key: test-secret\nwifi_enforcement: paranoid\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown wifi_enforcement")
	}
}

func TestEnvOverridesConfigFile(t *testing.T) {
	path := writeConfig(t, "secret_key: file-secret\nport: 9000\nqr_token_expiry: 10\n")

	t.Setenv("PORT", "8080")
	t.Setenv("SECRET_KEY", "env-secret")
	t.Setenv("QR_TOKEN_EXPIRY", "3")
	t.Setenv("WIFI_ENFORCEMENT", "STRICT")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("port = %d, want 8080", cfg.Port)
	}
	if cfg.SecretKey != "env-secret" {
		t.Fatalf("secret = %q, want env-secret", cfg.SecretKey)
	}
	if cfg.QRTokenExpiry != 3 {
		t.Fatalf("qr expiry = %d, want 3", cfg.QRTokenExpiry)
	}
	if cfg.WiFiEnforcement != WiFiStrict {
		t.Fatalf("wifi mode = %q, want %q", cfg.WiFiEnforcement, WiFiStrict)
	}
}

func TestLoadBuildsDSNFromParts(t *testing.T) {
	path := writeConfig(t, `
secret_key: test-secret
database:
  host: db.internal
  port: 3307
  user: attendance
  password: pw
  name: attendance_qr
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := "attendance:pw@tcp(db.internal:3307)/attendance_qr?charset=utf8mb4&parseTime=True&loc=Local"
	if cfg.DSN != want {
		t.Fatalf("dsn = %q, want %q", cfg.DSN, want)
	}
}

func TestLoadMissingFileUsesEnvOnly(t *testing.T) {
	t.Setenv("SECRET_KEY", "env-only-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SecretKey != "env-only-secret" {
		t.Fatalf("secret = %q", cfg.SecretKey)
	}
}
