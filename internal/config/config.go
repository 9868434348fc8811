package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Log           LogConfig           `mapstructure:"log"`
	Security      SecurityConfig      `mapstructure:"security"`
	Trust         TrustConfig         `mapstructure:"trust"`
	KeyProtection KeyProtectionConfig `mapstructure:"key_protection"`
	QR            QRConfig            `mapstructure:"qr"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	TLS  struct {
		Enabled  bool   `mapstructure:"enabled"`
		CertFile string `mapstructure:"cert_file"`
		KeyFile  string `mapstructure:"key_file"`
	} `mapstructure:"tls"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	// Backend is "postgres" or "memory". Memory keeps everything in process
	// and loses it on restart.
	Backend        string `mapstructure:"backend"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// URL returns the PostgreSQL URL form used by migrate
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	Admin        AdminConfig        `mapstructure:"admin"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
}

// AdminConfig holds the admin bearer token settings
type AdminConfig struct {
	// JWTSecret signs admin tokens (HS256). Admin endpoints are disabled when empty.
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	DefaultLimit  int    `mapstructure:"default_limit"`
	DefaultWindow string `mapstructure:"default_window"`
}

// TrustConfig holds root-of-trust settings
type TrustConfig struct {
	RootIssuerID    string `mapstructure:"root_issuer_id"`
	RootDisplayName string `mapstructure:"root_display_name"`
	// RootPublicKey pins the trust anchor (base64 SubjectPublicKeyInfo).
	// When empty the earliest-created issuer is the root.
	RootPublicKey    string `mapstructure:"root_public_key"`
	BootstrapOnStart bool   `mapstructure:"bootstrap_on_start"`
}

// KeyProtectionConfig selects how private keys are sealed at rest
type KeyProtectionConfig struct {
	Mode           string `mapstructure:"mode"`
	Passphrase     string `mapstructure:"passphrase"`
	Argon2Time     uint32 `mapstructure:"argon2_time"`
	Argon2MemoryKB uint32 `mapstructure:"argon2_memory_kb"`
	Argon2Threads  uint8  `mapstructure:"argon2_threads"`
}

// QRConfig holds QR rendering settings
type QRConfig struct {
	Size          int    `mapstructure:"size"`
	RecoveryLevel string `mapstructure:"recovery_level"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path. An empty path searches
// ., ./config and /etc/secureqr for config.yaml.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/secureqr")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("SECUREQR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with
func (c *Config) Validate() error {
	switch c.Database.Backend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("database.backend must be postgres or memory, got %q", c.Database.Backend)
	}
	if strings.TrimSpace(c.Trust.RootIssuerID) == "" {
		return errors.New("trust.root_issuer_id is required")
	}
	if c.KeyProtection.Mode == "passphrase" && c.KeyProtection.Passphrase == "" {
		return errors.New("key_protection.passphrase is required in passphrase mode")
	}
	if c.Security.Admin.JWTSecret != "" && len(c.Security.Admin.JWTSecret) < 32 {
		return errors.New("security.admin.jwt_secret must be at least 32 bytes")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.backend", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "secureqr")
	v.SetDefault("database.user", "secureqr")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)

	// Redis defaults
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Security defaults
	v.SetDefault("security.admin.jwt_secret", "")
	v.SetDefault("security.admin.issuer", "secureqr")
	v.SetDefault("security.admin.token_ttl", "1h")

	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.default_limit", 100)
	v.SetDefault("security.rate_limiting.default_window", "1m")

	// Trust defaults
	v.SetDefault("trust.root_issuer_id", "ROOT-ISSUER-1")
	v.SetDefault("trust.root_display_name", "Root Issuer")
	v.SetDefault("trust.root_public_key", "")
	v.SetDefault("trust.bootstrap_on_start", true)

	// Key protection defaults
	v.SetDefault("key_protection.mode", "plaintext")
	v.SetDefault("key_protection.passphrase", "")
	v.SetDefault("key_protection.argon2_time", 2)
	v.SetDefault("key_protection.argon2_memory_kb", 65536)
	v.SetDefault("key_protection.argon2_threads", 1)

	// QR defaults
	v.SetDefault("qr.size", 400)
	v.SetDefault("qr.recovery_level", "high")
}
