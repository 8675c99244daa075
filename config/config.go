// Package config loads settings from the environment, optionally seeded from
// config.env or .env files in the working directory.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"go-tours/utils/auth"
)

type Config struct {
	Env            string   `mapstructure:"env" validate:"required,oneof=development production test"`
	Port           int      `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel       string   `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// TrustedProxies may set the client address through forwarding headers.
	TrustedProxies []string `mapstructure:"trusted_proxies" validate:"dive,cidr|ip"`
	// PublicURL is the base of links sent by mail. Empty means the request host.
	PublicURL      string   `mapstructure:"public_url" validate:"omitempty,http_url"`

	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Email    EmailConfig    `mapstructure:"email"`
	Bucket   BucketConfig   `mapstructure:"bucket"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url" validate:"required"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name" validate:"required"`
}

type AuthConfig struct {
	JWTSecret        string `mapstructure:"jwt_secret" validate:"required,min=32"`
	JWTExpiration    string `mapstructure:"jwt_expiration" validate:"required"`
	CookieExpiration int    `mapstructure:"cookie_expiration_days" validate:"gt=0"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	DB   int    `mapstructure:"db" validate:"gte=0"`
}

type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port" validate:"gte=0,lt=65536"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	FromName string `mapstructure:"from_name"`
	From     string `mapstructure:"from" validate:"omitempty,email"`
}

type BucketConfig struct {
	Name            string `mapstructure:"name"`
	Region          string `mapstructure:"region"`
	AccessKey       string `mapstructure:"access_key"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

var envBindings = []struct {
	key    string
	envVar string
}{
	{"env", "NODE_ENV"},
	{"port", "PORT"},
	{"log_level", "LOG_LEVEL"},
	{"allowed_origins", "ALLOWED_ORIGINS"},
	{"trusted_proxies", "TRUSTED_PROXIES"},
	{"public_url", "PUBLIC_URL"},
	{"database.url", "DATABASE_URL"},
	{"database.password", "DATABASE_PASSWORD"},
	{"database.name", "DATABASE_NAME"},
	{"auth.jwt_secret", "JWT_SECRET"},
	{"auth.jwt_expiration", "JWT_EXPIRATION_TIME"},
	{"auth.cookie_expiration_days", "JWT_COOKIE_EXPIRATION_TIME"},
	{"redis.addr", "REDIS_ADDR"},
	{"redis.db", "REDIS_DB"},
	{"email.host", "EMAIL_HOST"},
	{"email.port", "EMAIL_PORT"},
	{"email.username", "EMAIL_USERNAME"},
	{"email.password", "EMAIL_PASSWORD"},
	{"email.from_name", "EMAIL_FROM_NAME"},
	{"email.from", "EMAIL_FROM"},
	{"bucket.name", "BUCKET_NAME"},
	{"bucket.region", "BUCKET_REGION"},
	{"bucket.access_key", "ACCESS_KEY"},
	{"bucket.secret_access_key", "SECRET_ACCESS_KEY"},
}

// Load reads env files (missing files are fine), binds the environment and
// validates the result.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{"config.env", ".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err == nil {
			slog.Debug("Loaded env file", "file", f)
		}
	}

	v := viper.New()
	v.SetDefault("env", "development")
	v.SetDefault("port", 3000)
	v.SetDefault("log_level", "info")
	v.SetDefault("database.name", "natours")
	v.SetDefault("auth.jwt_expiration", "90d")
	v.SetDefault("auth.cookie_expiration_days", 90)
	v.SetDefault("email.port", 587)
	v.SetDefault("email.from_name", "Natours")
	v.SetDefault("email.from", "hello@natours.io")
	v.SetDefault("bucket.region", "us-east-1")

	for _, b := range envBindings {
		if err := v.BindEnv(b.key, b.envVar); err != nil {
			return nil, fmt.Errorf("error binding environment variable %s: %w", b.envVar, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.AllowedOrigins = splitList(v.GetString("allowed_origins"))
	cfg.TrustedProxies = splitList(v.GetString("trusted_proxies"))
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if _, err := cfg.TokenTTL(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: JWT_EXPIRATION_TIME: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Production() bool {
	return c.Env == "production"
}

// MongoURI fills the password placeholder of the database url.
func (c *Config) MongoURI() string {
	uri := c.Database.URL
	for _, placeholder := range []string{"<PASSWORD>", "<db_password>"} {
		uri = strings.ReplaceAll(uri, placeholder, c.Database.Password)
	}
	return uri
}

func (c *Config) TokenTTL() (time.Duration, error) {
	return auth.ParseDuration(c.Auth.JWTExpiration)
}

func (c *Config) CookieTTL() time.Duration {
	return time.Duration(c.Auth.CookieExpiration) * 24 * time.Hour
}

func splitList(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
