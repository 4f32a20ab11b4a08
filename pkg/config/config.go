// Package config loads application configuration via Viper from
// environment variables and an optional config file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config groups all application configuration.
type Config struct {
	App         AppConfig
	DB          DBConfig
	HTTP        HTTPConfig
	Log         LogConfig
	Idempotency IdempotencyConfig
	Retry       RetryConfig
}

// AppConfig holds general application settings.
type AppConfig struct {
	Env  string // development, staging, production
	Name string
}

// DBConfig holds PostgreSQL connection settings.
// If DatabaseURL is set it is used as the full connection string.
type DBConfig struct {
	DatabaseURL string
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// ConnectionString returns the DSN to use: DatabaseURL when set,
// otherwise one built from the individual fields.
func (c DBConfig) ConnectionString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}

	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.SSLMode),
	}
	return u.String()
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level       string
	Development bool
}

// IdempotencyConfig holds idempotency cache settings.
type IdempotencyConfig struct {
	// TTL is how long a completed record remains replayable.
	TTL time.Duration

	// SweepInterval is how often the background sweeper deletes
	// expired records. Maintenance only, not part of correctness.
	SweepInterval time.Duration

	// PendingPollAttempts / PendingPollDelay bound the wait for a
	// concurrent duplicate that is still in flight.
	PendingPollAttempts int
	PendingPollDelay    time.Duration
}

// RetryConfig holds transaction retry settings.
type RetryConfig struct {
	MaxRetries     int
	BaseDelay      time.Duration
	AttemptTimeout time.Duration
}

// Load reads configuration from environment variables (prefix STOCKCORE_)
// and, when present, a config file named stockcore.yaml in the working
// directory or /etc/stockcore.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("app.env", "development")
	v.SetDefault("app.name", "stockcore")

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "stockcore")
	v.SetDefault("db.dbname", "stockcore")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_conns", 25)
	v.SetDefault("db.min_conns", 5)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("db.max_conn_idle_time", 30*time.Minute)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("idempotency.ttl", 24*time.Hour)
	v.SetDefault("idempotency.sweep_interval", 10*time.Minute)
	v.SetDefault("idempotency.pending_poll_attempts", 5)
	v.SetDefault("idempotency.pending_poll_delay", 200*time.Millisecond)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay", 50*time.Millisecond)
	v.SetDefault("retry.attempt_timeout", 10*time.Second)

	v.SetEnvPrefix("STOCKCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("stockcore")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/stockcore")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		App: AppConfig{
			Env:  v.GetString("app.env"),
			Name: v.GetString("app.name"),
		},
		DB: DBConfig{
			DatabaseURL:     v.GetString("db.database_url"),
			Host:            v.GetString("db.host"),
			Port:            v.GetInt("db.port"),
			User:            v.GetString("db.user"),
			Password:        v.GetString("db.password"),
			DBName:          v.GetString("db.dbname"),
			SSLMode:         v.GetString("db.sslmode"),
			MaxConns:        int32(v.GetInt("db.max_conns")),
			MinConns:        int32(v.GetInt("db.min_conns")),
			MaxConnLifetime: v.GetDuration("db.max_conn_lifetime"),
			MaxConnIdleTime: v.GetDuration("db.max_conn_idle_time"),
		},
		HTTP: HTTPConfig{
			Addr:            v.GetString("http.addr"),
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
		Idempotency: IdempotencyConfig{
			TTL:                 v.GetDuration("idempotency.ttl"),
			SweepInterval:       v.GetDuration("idempotency.sweep_interval"),
			PendingPollAttempts: v.GetInt("idempotency.pending_poll_attempts"),
			PendingPollDelay:    v.GetDuration("idempotency.pending_poll_delay"),
		},
		Retry: RetryConfig{
			MaxRetries:     v.GetInt("retry.max_retries"),
			BaseDelay:      v.GetDuration("retry.base_delay"),
			AttemptTimeout: v.GetDuration("retry.attempt_timeout"),
		},
	}

	return cfg, nil
}
