// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends understood by the server wiring.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendS3     = "s3"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Contact   ContactConfig   `mapstructure:"contact"`
	Geo       GeoConfig       `mapstructure:"geo"`
	Mail      MailConfig      `mapstructure:"mail"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int   `mapstructure:"port"`
	RequestTimeoutSeconds  int   `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int   `mapstructure:"shutdown_timeout_seconds"`
	MaxBodyBytes           int64 `mapstructure:"max_body_bytes"`
}

// AuthConfig holds the bearer token signing material.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	// TokenTTLSeconds adds an exp claim to issued tokens when positive.
	// Zero keeps the historical behaviour of tokens that never expire.
	TokenTTLSeconds int `mapstructure:"token_ttl_seconds"`
}

// ContactConfig tunes submission extraction.
type ContactConfig struct {
	PhoneRegion string `mapstructure:"phone_region"`
}

// GeoConfig configures the IP geolocation lookup. An empty APIKey disables it.
type GeoConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// MailConfig configures the outbound SMTP relay used for operator notifications.
type MailConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	From       string `mapstructure:"from"`
	To         string `mapstructure:"to"`
	Subject    string `mapstructure:"subject"`
	TLSPolicy  string `mapstructure:"tls_policy"`
	BestEffort bool   `mapstructure:"best_effort"`
}

// StorageConfig selects where the contacts snapshot lives.
type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	Bucket  string      `mapstructure:"bucket"`
	Prefix  string      `mapstructure:"prefix"`
	Local   LocalConfig `mapstructure:"local"`
	S3      S3Config    `mapstructure:"s3"`
}

// LocalConfig points the filesystem backend at a directory.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// S3Config carries S3 (or S3-compatible) connection settings.
type S3Config struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// PubSubConfig holds metadata for submission event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// RateLimitConfig controls per-client admission on the public endpoints.
// TrustForwardedFor keys clients on the last X-Forwarded-For hop, which is
// the one appended by the fronting proxy. Leave it off unless such a proxy
// always sits in front of the service.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RPS               float64 `mapstructure:"rps"`
	Burst             int     `mapstructure:"burst"`
	TrustForwardedFor bool    `mapstructure:"trust_forwarded_for"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// legacyEnv maps config keys onto the environment variable names used by the
// original cloud function deployment.
var legacyEnv = map[string][]string{
	"server.port":       {"PORT"},
	"auth.jwt_secret":   {"JWT_SECRET"},
	"geo.api_key":       {"IP_STACK_API_KEY"},
	"storage.bucket":    {"GCS_BUCKET"},
	"storage.prefix":    {"GCS_PATH_PREFIX"},
	"mail.host":         {"SMTP_HOST"},
	"mail.port":         {"SMTP_PORT"},
	"mail.username":     {"SMTP_USERNAME"},
	"mail.password":     {"SMTP_PASSWORD"},
	"mail.from":         {"SMTP_FROM"},
	"mail.to":           {"SMTP_TO"},
	"pubsub.project_id": {"GOOGLE_CLOUD_PROJECT"},
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CONTACTFORM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func bindLegacyEnv(v *viper.Viper) error {
	for key, names := range legacyEnv {
		envName := "CONTACTFORM_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		args := append([]string{key, envName}, names...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("server.max_body_bytes", 64*1024)
	v.SetDefault("auth.token_ttl_seconds", 0)
	v.SetDefault("contact.phone_region", "US")
	v.SetDefault("geo.base_url", "http://api.ipstack.com")
	v.SetDefault("geo.timeout_seconds", 5)
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.subject", "New contact form submission")
	v.SetDefault("mail.tls_policy", "mandatory")
	v.SetDefault("mail.best_effort", false)
	v.SetDefault("storage.backend", BackendGCS)
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.local.base_dir", "")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("storage.s3.use_path_style", false)
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.rps", 1.0)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("rate_limit.trust_forwarded_for", false)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Auth.TokenTTLSeconds < 0 {
		return fmt.Errorf("auth.token_ttl_seconds must be >= 0")
	}
	if strings.Trim(c.Storage.Prefix, "/ ") == "" {
		return fmt.Errorf("storage.prefix is required")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir is required for the local backend")
		}
	case BackendGCS, BackendS3:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the %s backend", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Geo.APIKey != "" && c.Geo.TimeoutSeconds <= 0 {
		return fmt.Errorf("geo.timeout_seconds must be > 0 when geolocation is enabled")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate_limit.rps and rate_limit.burst must be > 0 when rate limiting is enabled")
	}
	return nil
}

// TokenTTL returns the configured token lifetime; zero means no expiry.
func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLSeconds) * time.Second
}

// GeoTimeout converts the geolocation timeout into a duration.
func (c Config) GeoTimeout() time.Duration {
	return time.Duration(c.Geo.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds a single HTTP request end to end.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful server drain.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// SnapshotPath is the object key of the contacts snapshot.
func (c Config) SnapshotPath() string {
	return strings.Trim(c.Storage.Prefix, "/") + "/contacts.sqlite"
}
