package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"
	defaultPort       = 2333
	defaultEnv        = "development"
	defaultDBHost     = "127.0.0.1"
	defaultDBPort     = 3306
	defaultDBUser     = "root"
	defaultDBPassword = ""
	defaultDBName     = "attendance_qr"
	defaultDBCharset  = "utf8mb4"

	// DefaultQRTokenExpiry is the credential TTL in seconds. Short on
	// purpose: a QR code is only valid for the few seconds it is on screen.
	DefaultQRTokenExpiry = 6

	defaultJWTExpiryHours = 24
)

// WiFi enforcement modes for the network advisory check.
const (
	WiFiAdvisory = "advisory"
	WiFiStrict   = "strict"
)

// AppConfig holds runtime startup configuration loaded from YAML.
type AppConfig struct {
	Port            int      `yaml:"port"`
	DSN             string   `yaml:"dsn"` // MySQL DSN
	RedisURL        string   `yaml:"redis_url"`
	Env             string   `yaml:"env"` // "development" | "production"
	SecretKey       string   `yaml:"secret_key"`
	JWTSecret       string   `yaml:"jwt_secret"`
	JWTExpiryHours  int      `yaml:"jwt_expiry_hours"`
	QRTokenExpiry   int      `yaml:"qr_token_expiry"` // seconds
	WiFiEnforcement string   `yaml:"wifi_enforcement"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	Timezone        string   `yaml:"timezone"`
}

type rawDatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Charset  string `yaml:"charset"`
}

type rawAppConfig struct {
	Port            int               `yaml:"port"`
	DSN             string            `yaml:"dsn"`
	DatabaseURL     string            `yaml:"database_url"`
	Database        rawDatabaseConfig `yaml:"database"`
	RedisURL        string            `yaml:"redis_url"`
	Env             string            `yaml:"env"`
	SecretKey       string            `yaml:"secret_key"`
	JWTSecret       string            `yaml:"jwt_secret"`
	JWTExpiryHours  int               `yaml:"jwt_expiry_hours"`
	QRTokenExpiry   *int              `yaml:"qr_token_expiry"`
	WiFiEnforcement string            `yaml:"wifi_enforcement"`
	AllowedOrigins  []string          `yaml:"allowed_origins"`
	Timezone        string            `yaml:"timezone"`
}

// Load reads the YAML config, applies environment overrides and defaults,
// and validates the result. A missing file is not an error: everything can
// come from the environment.
func Load(configPath string) (*AppConfig, error) {
	path := configPath
	if path == "" {
		path = DefaultConfigPath
	}

	var raw rawAppConfig
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// env-only configuration
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnvOverrides(&raw)

	cfg := &AppConfig{
		Port:            raw.Port,
		DSN:             raw.DSN,
		RedisURL:        raw.RedisURL,
		Env:             raw.Env,
		SecretKey:       raw.SecretKey,
		JWTSecret:       raw.JWTSecret,
		JWTExpiryHours:  raw.JWTExpiryHours,
		WiFiEnforcement: raw.WiFiEnforcement,
		AllowedOrigins:  raw.AllowedOrigins,
		Timezone:        raw.Timezone,
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.Env == "" {
		cfg.Env = defaultEnv
	}
	if cfg.DSN == "" {
		cfg.DSN = buildDSN(raw)
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = cfg.SecretKey
	}
	if cfg.JWTExpiryHours <= 0 {
		cfg.JWTExpiryHours = defaultJWTExpiryHours
	}
	if raw.QRTokenExpiry != nil && *raw.QRTokenExpiry > 0 {
		cfg.QRTokenExpiry = *raw.QRTokenExpiry
	} else {
		cfg.QRTokenExpiry = DefaultQRTokenExpiry
	}
	switch cfg.WiFiEnforcement {
	case "":
		cfg.WiFiEnforcement = WiFiAdvisory
	case WiFiAdvisory, WiFiStrict:
	default:
		return nil, fmt.Errorf("wifi_enforcement must be %q or %q, got %q",
			WiFiAdvisory, WiFiStrict, cfg.WiFiEnforcement)
	}

	if cfg.SecretKey == "" {
		return nil, errors.New("secret_key is required (set secret_key in config or SECRET_KEY in env)")
	}

	return cfg, nil
}

func applyEnvOverrides(raw *rawAppConfig) {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			raw.Port = p
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		raw.DatabaseURL = v
	}
	if v := os.Getenv("DSN"); v != "" {
		raw.DSN = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		raw.RedisURL = v
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		raw.SecretKey = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		raw.JWTSecret = v
	}
	if v := os.Getenv("QR_TOKEN_EXPIRY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			raw.QRTokenExpiry = &n
		}
	}
	if v := os.Getenv("WIFI_ENFORCEMENT"); v != "" {
		raw.WiFiEnforcement = strings.ToLower(v)
	}
	if v := os.Getenv("ENV"); v != "" {
		raw.Env = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		raw.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			raw.Database.Port = p
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		raw.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		raw.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		raw.Database.Name = v
	}
}

func buildDSN(raw rawAppConfig) string {
	if raw.DatabaseURL != "" {
		return raw.DatabaseURL
	}
	db := raw.Database
	if db.Host == "" {
		db.Host = defaultDBHost
	}
	if db.Port == 0 {
		db.Port = defaultDBPort
	}
	if db.User == "" {
		db.User = defaultDBUser
	}
	if db.Password == "" {
		db.Password = defaultDBPassword
	}
	if db.Name == "" {
		db.Name = defaultDBName
	}
	if db.Charset == "" {
		db.Charset = defaultDBCharset
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
		db.User, db.Password, db.Host, db.Port, db.Name, db.Charset)
}

// IsDev reports whether the app runs in development mode.
func (c *AppConfig) IsDev() bool {
	return c.Env != "production"
}
