package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerConfig    ServerConfig    `json:"server"`
	DatabaseConfig  DatabaseConfig  `json:"database"`
	RedisConfig     RedisConfig     `json:"redis"`
	LoggingConfig   LoggingConfig   `json:"logging"`
	LicenseConfig   LicenseConfig   `json:"license"`
	AuthorityConfig AuthorityConfig `json:"authority"`
	AuthConfig      AuthConfig      `json:"auth"`
	VaultConfig     VaultConfig     `json:"vault"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"` // CORS allowed origins
	ProductionMode  bool   `json:"production_mode"`
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
	RateLimit       int    `json:"rate_limit"`       // Max verify requests per IP per window
	RateWindowSecs  int    `json:"rate_window_secs"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for caching and attempt tracking
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

// LicenseConfig holds the verification policy consumed by the engine.
type LicenseConfig struct {
	VerifyWithEnvato          bool `json:"verify_with_envato"`
	FallbackToInternal        bool `json:"fallback_to_internal"`
	CacheVerificationResults  bool `json:"cache_verification_results"`
	CacheDurationMinutes      int  `json:"cache_duration_minutes"`
	AllowOfflineVerification  bool `json:"allow_offline_verification"`
	GracePeriodDays           int  `json:"grace_period_days"`
	MaxVerificationAttempts   int  `json:"max_verification_attempts"`
	AttemptWindowMinutes      int  `json:"attempt_window_minutes"`
	LockoutDurationMinutes    int  `json:"lockout_duration_minutes"`
	AllowLocalhost            bool `json:"allow_localhost"`
	AllowWildcards            bool `json:"allow_wildcards"`
	MaxDomainsPerLicense      int  `json:"max_domains_per_license"` // Default when a license row has none; -1 = unlimited
	DomainChangeCooldownHours int  `json:"domain_change_cooldown_hours"`
	AllowExpiredVerification  bool `json:"allow_expired_verification"`
	LogRetentionDays          int  `json:"log_retention_days"`
}

// AuthorityConfig holds the purchase-code authority (marketplace API) settings
type AuthorityConfig struct {
	BaseURL             string `json:"base_url"`
	Token               string `json:"token"` // Used when Vault is disabled
	TimeoutSeconds      int    `json:"timeout_seconds"`
	RetryAttempts       int    `json:"retry_attempts"`
	RetryBackoffSeconds int    `json:"retry_backoff_seconds"`
}

// AuthConfig holds admin API authentication configuration
type AuthConfig struct {
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
	AdminEmail          string        `json:"admin_email"`
	AdminPassword       string        `json:"admin_password"` // Seeded on first start, never logged
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV secrets engine mount path
	SecretPath string `json:"secret_path"` // Path prefix for authority tokens
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", 8080)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", "0.0.0.0")
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*")
	cfg.ServerConfig.ProductionMode = getEnvOrDefault("SERVER_PRODUCTION", "false") == "true"
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", 30)
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", 30)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10)
	cfg.ServerConfig.RateLimit = getEnvIntOrDefault("SERVER_RATE_LIMIT", 60)
	cfg.ServerConfig.RateWindowSecs = getEnvIntOrDefault("SERVER_RATE_WINDOW_SECS", 60)

	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", "localhost")
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", 5432)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", "license_server")
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", "license_server")
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", "disable")

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "true") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", "localhost:6379")
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", 0)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", 10)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"

	// License verification policy
	cfg.LicenseConfig.VerifyWithEnvato = getEnvOrDefault("LICENSE_VERIFY_WITH_ENVATO", "false") == "true"
	cfg.LicenseConfig.FallbackToInternal = getEnvOrDefault("LICENSE_FALLBACK_TO_INTERNAL", "true") == "true"
	cfg.LicenseConfig.CacheVerificationResults = getEnvOrDefault("LICENSE_CACHE_RESULTS", "true") == "true"
	cfg.LicenseConfig.CacheDurationMinutes = getEnvIntOrDefault("LICENSE_CACHE_DURATION_MINUTES", 60)
	cfg.LicenseConfig.AllowOfflineVerification = getEnvOrDefault("LICENSE_ALLOW_OFFLINE", "true") == "true"
	cfg.LicenseConfig.GracePeriodDays = getEnvIntOrDefault("LICENSE_GRACE_PERIOD_DAYS", 7)
	cfg.LicenseConfig.MaxVerificationAttempts = getEnvIntOrDefault("LICENSE_MAX_ATTEMPTS", 5)
	cfg.LicenseConfig.AttemptWindowMinutes = getEnvIntOrDefault("LICENSE_ATTEMPT_WINDOW_MINUTES", 15)
	cfg.LicenseConfig.LockoutDurationMinutes = getEnvIntOrDefault("LICENSE_LOCKOUT_MINUTES", 30)
	cfg.LicenseConfig.AllowLocalhost = getEnvOrDefault("LICENSE_ALLOW_LOCALHOST", "true") == "true"
	cfg.LicenseConfig.AllowWildcards = getEnvOrDefault("LICENSE_ALLOW_WILDCARDS", "false") == "true"
	cfg.LicenseConfig.MaxDomainsPerLicense = getEnvIntOrDefault("LICENSE_MAX_DOMAINS", 1)
	cfg.LicenseConfig.DomainChangeCooldownHours = getEnvIntOrDefault("LICENSE_DOMAIN_COOLDOWN_HOURS", 72)
	cfg.LicenseConfig.AllowExpiredVerification = getEnvOrDefault("LICENSE_ALLOW_EXPIRED", "false") == "true"
	cfg.LicenseConfig.LogRetentionDays = getEnvIntOrDefault("LICENSE_LOG_RETENTION_DAYS", 90)

	// Authority client config
	cfg.AuthorityConfig.BaseURL = getEnvOrDefault("AUTHORITY_BASE_URL", cfg.AuthorityConfig.BaseURL)
	cfg.AuthorityConfig.Token = getEnvOrDefault("AUTHORITY_TOKEN", cfg.AuthorityConfig.Token)
	cfg.AuthorityConfig.TimeoutSeconds = getEnvIntOrDefault("AUTHORITY_TIMEOUT_SECONDS", 10)
	cfg.AuthorityConfig.RetryAttempts = getEnvIntOrDefault("AUTHORITY_RETRY_ATTEMPTS", 2)
	cfg.AuthorityConfig.RetryBackoffSeconds = getEnvIntOrDefault("AUTHORITY_RETRY_BACKOFF_SECONDS", 1)

	// Auth config - ALWAYS apply from environment
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", 1*time.Hour)
	cfg.AuthConfig.AdminEmail = getEnvOrDefault("AUTH_ADMIN_EMAIL", cfg.AuthConfig.AdminEmail)
	cfg.AuthConfig.AdminPassword = getEnvOrDefault("AUTH_ADMIN_PASSWORD", cfg.AuthConfig.AdminPassword)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", "http://localhost:8200")
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", "secret")
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", "license-server/authority")
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	config := Config{
		ServerConfig: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			AllowedOrigins:  "*",
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
			RateLimit:       60,
			RateWindowSecs:  60,
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "license_server",
			Password: "change_me",
			Database: "license_server",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Enabled:  true,
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		LicenseConfig: LicenseConfig{
			VerifyWithEnvato:          false,
			FallbackToInternal:        true,
			CacheVerificationResults:  true,
			CacheDurationMinutes:      60,
			AllowOfflineVerification:  true,
			GracePeriodDays:           7,
			MaxVerificationAttempts:   5,
			AttemptWindowMinutes:      15,
			LockoutDurationMinutes:    30,
			AllowLocalhost:            true,
			AllowWildcards:            false,
			MaxDomainsPerLicense:      1,
			DomainChangeCooldownHours: 72,
			LogRetentionDays:          90,
		},
		AuthorityConfig: AuthorityConfig{
			BaseURL:             "https://api.envato.com/v3/market",
			TimeoutSeconds:      10,
			RetryAttempts:       2,
			RetryBackoffSeconds: 1,
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
