// Package config provides application configuration with multi-source
// priority.
//
// Sources (highest to lowest):
//  1. Environment variables (FOLIO_* prefix)
//  2. Config file (config.yaml in the working directory or /etc/folio)
//  3. Defaults
//
// Sensitive values (database password, API keys, admin token) are
// never logged.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrMissingAPIKey indicates the Gemini API key is not set.
	ErrMissingAPIKey = errors.New("missing Gemini API key")

	// ErrInvalidPostgres indicates the PostgreSQL settings are unusable.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL configuration")

	// ErrInvalidChat indicates chat tuning values are out of range.
	ErrInvalidChat = errors.New("invalid chat configuration")

	// ErrInvalidServer indicates HTTP server settings are unusable.
	ErrInvalidServer = errors.New("invalid server configuration")
)

// Config stores application configuration.
type Config struct {
	// HTTP server
	ListenAddr  string   `mapstructure:"listen_addr"`
	SiteBaseURL string   `mapstructure:"site_base_url"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy"`
	AdminToken  string   `mapstructure:"admin_token"` // SENSITIVE
	RateBurst   int      `mapstructure:"rate_burst"`

	// PostgreSQL
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Gemini
	GeminiAPIKey    string  `mapstructure:"gemini_api_key"` // SENSITIVE
	EmbedderModel   string  `mapstructure:"embedder_model"`
	GenerativeModel string  `mapstructure:"generative_model"`
	Temperature     float32 `mapstructure:"temperature"`
	MaxOutputTokens int32   `mapstructure:"max_output_tokens"`

	// Indexing and chat tuning
	MaxChunkLen   int     `mapstructure:"max_chunk_len"`
	DailyLimit    int     `mapstructure:"daily_limit"`
	TopK          int     `mapstructure:"top_k"`
	MinSimilarity float64 `mapstructure:"min_similarity"`

	// Notification webhook (empty disables)
	WebhookURL string `mapstructure:"webhook_url"`

	// Logging
	LogJSON  bool   `mapstructure:"log_json"`
	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from defaults, an optional config file, and
// the environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("site_base_url", "http://localhost:3000")
	v.SetDefault("rate_burst", 30)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "folio")
	v.SetDefault("postgres_db_name", "folio")
	v.SetDefault("postgres_ssl_mode", "disable")
	v.SetDefault("temperature", 0.4)
	v.SetDefault("max_output_tokens", 1024)
	v.SetDefault("max_chunk_len", 1000)
	v.SetDefault("daily_limit", 20)
	v.SetDefault("top_k", 8)
	v.SetDefault("min_similarity", 0.55)
	v.SetDefault("log_level", "info")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/folio")

	v.SetEnvPrefix("FOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and required values.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr is empty", ErrInvalidServer)
	}
	if c.SiteBaseURL == "" {
		return fmt.Errorf("%w: site_base_url is empty", ErrInvalidServer)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgres)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidPostgres, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgres)
	}
	switch c.PostgresSSLMode {
	case "disable", "require", "verify-ca", "verify-full", "prefer", "allow":
	default:
		return fmt.Errorf("%w: ssl mode %q", ErrInvalidPostgres, c.PostgresSSLMode)
	}
	if c.DailyLimit < 1 {
		return fmt.Errorf("%w: daily_limit %d", ErrInvalidChat, c.DailyLimit)
	}
	if c.TopK < 1 || c.TopK > 50 {
		return fmt.Errorf("%w: top_k %d out of range [1,50]", ErrInvalidChat, c.TopK)
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("%w: min_similarity %v out of range [0,1]", ErrInvalidChat, c.MinSimilarity)
	}
	if c.MaxChunkLen < 100 {
		return fmt.Errorf("%w: max_chunk_len %d too small", ErrInvalidChat, c.MaxChunkLen)
	}
	return nil
}

// RequireGemini fails when the API key is absent; commands that reach
// the model call this, read-only commands do not.
func (c *Config) RequireGemini() error {
	if c.GeminiAPIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// ConnURL builds the postgres:// connection URL for pgx and migrations.
func (c *Config) ConnURL() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:   "/" + c.PostgresDBName,
	}
	if c.PostgresUser != "" {
		if c.PostgresPassword != "" {
			u.User = url.UserPassword(c.PostgresUser, c.PostgresPassword)
		} else {
			u.User = url.User(c.PostgresUser)
		}
	}
	q := url.Values{}
	q.Set("sslmode", c.PostgresSSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
