package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Chat      ChatConfig      `yaml:"chat"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Auth      AuthConfig      `yaml:"auth"`
	Import    ImportConfig    `yaml:"import"`
	Safety    SafetyConfig    `yaml:"safety"`
	Storage   StorageConfig   `yaml:"storage"`
	Worker    WorkerConfig    `yaml:"worker"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	AllowedOrigin   string   `yaml:"allowed_origin"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ChatConfig contains settings for the model endpoint behind the chat relay.
type ChatConfig struct {
	APIKey       string `yaml:"-"` // env-only, never in YAML
	BaseURL      string `yaml:"base_url"`
	Model        string `yaml:"model"`
	RelatedCards int    `yaml:"related_cards"`
}

// EmbeddingConfig contains embedding service settings.
type EmbeddingConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"-"` // env-only, never in YAML
	Model   string `yaml:"model"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey    string `yaml:"-"` // admin key, env-only
	JWTSecret string `yaml:"-"` // env-only
	JWTIssuer string `yaml:"jwt_issuer"`
}

// ImportConfig contains deck import settings.
type ImportConfig struct {
	BatchSize      int   `yaml:"batch_size"`
	Multiline      bool  `yaml:"multiline"`
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// SafetyConfig contains escalation filter settings. An empty keyword list
// uses the built-in crisis keywords.
type SafetyConfig struct {
	HardSeverity int      `yaml:"hard_severity"`
	Keywords     []string `yaml:"keywords"`
}

// StorageConfig contains S3-compatible object storage settings for card
// images and archived import files. An empty bucket disables storage.
type StorageConfig struct {
	Bucket      string   `yaml:"bucket"`
	Endpoint    string   `yaml:"endpoint"`
	Region      string   `yaml:"region"`
	AccessKey   string   `yaml:"-"` // env-only
	SecretKey   string   `yaml:"-"` // env-only
	UseSSL      *bool    `yaml:"use_ssl"`
	URLExpiry   Duration `yaml:"url_expiry"`
	ImagePrefix string   `yaml:"image_prefix"`
}

// WorkerConfig contains background worker settings.
type WorkerConfig struct {
	EmbeddingInterval    Duration `yaml:"embedding_interval"`
	EmbeddingMaxAttempts int      `yaml:"embedding_max_attempts"`
	EmbeddingBatchSize   int      `yaml:"embedding_batch_size"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("ORACLE_CONFIG_PATH", "config/oracle.yaml")

	// Missing file is not an error.
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	useSSL := true
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			ReadTimeout: Duration(30 * time.Second),
			// Chat streams stay open for the whole completion.
			WriteTimeout:    Duration(5 * time.Minute),
			ShutdownTimeout: Duration(15 * time.Second),
			AllowedOrigin:   "*",
		},
		Database: DatabaseConfig{
			Path: "data/oracle.db",
		},
		Chat: ChatConfig{
			Model:        "gpt-4o-mini",
			RelatedCards: 3,
		},
		Embedding: EmbeddingConfig{
			Enabled: true,
			Model:   "text-embedding-3-small",
		},
		Import: ImportConfig{
			BatchSize:      10,
			MaxUploadBytes: 10 << 20,
		},
		Safety: SafetyConfig{
			HardSeverity: 9,
		},
		Storage: StorageConfig{
			Region:      "us-east-1",
			UseSSL:      &useSSL,
			URLExpiry:   Duration(15 * time.Minute),
			ImagePrefix: "cards",
		},
		Worker: WorkerConfig{
			EmbeddingInterval:    Duration(1 * time.Minute),
			EmbeddingMaxAttempts: 5,
			EmbeddingBatchSize:   20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty, parseable env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	envInt("ORACLE_PORT", &cfg.Server.Port)
	envDuration("ORACLE_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("ORACLE_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("ORACLE_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	envString("ORACLE_ALLOWED_ORIGIN", &cfg.Server.AllowedOrigin)

	// Database
	envString("ORACLE_DB_PATH", &cfg.Database.Path)

	// OPENAI_API_KEY is industry convention and serves both chat and
	// embeddings; ORACLE_CHAT_API_KEY targets a different chat gateway.
	envString("OPENAI_API_KEY", &cfg.Chat.APIKey)
	envString("OPENAI_API_KEY", &cfg.Embedding.APIKey)
	envString("ORACLE_CHAT_API_KEY", &cfg.Chat.APIKey)
	envString("ORACLE_CHAT_BASE_URL", &cfg.Chat.BaseURL)
	envString("ORACLE_CHAT_MODEL", &cfg.Chat.Model)
	envInt("ORACLE_CHAT_RELATED_CARDS", &cfg.Chat.RelatedCards)

	// Embedding
	envBool("ORACLE_EMBEDDING_ENABLED", &cfg.Embedding.Enabled)
	envString("ORACLE_EMBEDDING_MODEL", &cfg.Embedding.Model)

	// Auth
	envString("ORACLE_API_KEY", &cfg.Auth.APIKey)
	envString("ORACLE_JWT_SECRET", &cfg.Auth.JWTSecret)
	envString("ORACLE_JWT_ISSUER", &cfg.Auth.JWTIssuer)

	// Import
	envInt("ORACLE_IMPORT_BATCH_SIZE", &cfg.Import.BatchSize)
	envBool("ORACLE_IMPORT_MULTILINE", &cfg.Import.Multiline)

	// Safety
	envInt("ORACLE_SAFETY_HARD_SEVERITY", &cfg.Safety.HardSeverity)

	// Storage
	envString("ORACLE_STORAGE_BUCKET", &cfg.Storage.Bucket)
	envString("ORACLE_S3_ENDPOINT", &cfg.Storage.Endpoint)
	envString("ORACLE_S3_REGION", &cfg.Storage.Region)
	envString("ORACLE_S3_ACCESS_KEY", &cfg.Storage.AccessKey)
	envString("ORACLE_S3_SECRET_KEY", &cfg.Storage.SecretKey)
	envDuration("ORACLE_S3_URL_EXPIRY", &cfg.Storage.URLExpiry)
	if v := os.Getenv("ORACLE_S3_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Storage.UseSSL = &b
		}
	}

	// Worker
	envDuration("ORACLE_EMBEDDING_INTERVAL", &cfg.Worker.EmbeddingInterval)
	envInt("ORACLE_EMBEDDING_MAX_ATTEMPTS", &cfg.Worker.EmbeddingMaxAttempts)
	envInt("ORACLE_EMBEDDING_BATCH_SIZE", &cfg.Worker.EmbeddingBatchSize)

	// Log
	envString("ORACLE_LOG_LEVEL", &cfg.Log.Level)
	envString("ORACLE_LOG_FORMAT", &cfg.Log.Format)
}

// MaxImportBatchSize keeps one multi-row card insert under SQLite's bound
// parameter limit.
const MaxImportBatchSize = 500

// validate checks value ranges and that required secrets are set.
// In dev mode (ORACLE_DEV_MODE=true), secret validation is skipped.
func (c *Config) validate() error {
	if c.Import.BatchSize <= 0 || c.Import.BatchSize > MaxImportBatchSize {
		return fmt.Errorf("import.batch_size must be between 1 and %d, got %d", MaxImportBatchSize, c.Import.BatchSize)
	}
	if c.Safety.HardSeverity < 1 || c.Safety.HardSeverity > 10 {
		return fmt.Errorf("safety.hard_severity must be between 1 and 10, got %d", c.Safety.HardSeverity)
	}
	if c.Chat.RelatedCards < 0 {
		return fmt.Errorf("chat.related_cards must not be negative, got %d", c.Chat.RelatedCards)
	}

	if DevMode() {
		return nil
	}

	if c.Chat.APIKey == "" {
		return errors.New("OPENAI_API_KEY is required")
	}
	if c.Auth.APIKey == "" {
		return errors.New("ORACLE_API_KEY is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("ORACLE_JWT_SECRET is required")
	}
	return nil
}

// DevMode reports whether ORACLE_DEV_MODE=true.
func DevMode() bool {
	return os.Getenv("ORACLE_DEV_MODE") == "true"
}

// EmbeddingsEnabled reports whether the embedding pipeline should run.
func (c *Config) EmbeddingsEnabled() bool {
	return c.Embedding.Enabled && c.Embedding.APIKey != ""
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}
