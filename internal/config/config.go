// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/shsh-signals/internal/coach"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	DBPath         string
	AllowedOrigins []string
	ComposerAddr   string // empty disables message composition
	LogLevel       string
	LogJSON        bool
	Coach          CoachConfig
	Timeout        TimeoutConfig
}

// CoachConfig tunes detection cadence and retention.
type CoachConfig struct {
	NavigationInterval time.Duration
	NavigationCooldown time.Duration
	ContextualInterval time.Duration
	ContextualCooldown time.Duration
	AutosaveInterval   time.Duration
	RecordingSegment   time.Duration
	IdleThreshold      time.Duration
	SessionTTL         time.Duration
	RecordingRetention time.Duration
	SweepInterval      time.Duration
	MaxEncodedSize     int
	RecordingMaxEvents int
	WorkerPoolSize     int
	JobQueueSize       int
}

// TimeoutConfig holds request and shutdown timeouts.
type TimeoutConfig struct {
	HealthCheck     time.Duration
	ComposerConnect time.Duration
	ComposerRequest time.Duration
	Shutdown        time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	d := coach.DefaultConfig()

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/signals.db"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),
		ComposerAddr:   getEnv("COMPOSER_ADDR", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogJSON:        getEnvBool("LOG_JSON", true),
		Coach: CoachConfig{
			NavigationInterval: getEnvDuration("NAVIGATION_INTERVAL", d.NavigationInterval),
			NavigationCooldown: getEnvDuration("NAVIGATION_COOLDOWN", d.NavigationCooldown),
			ContextualInterval: getEnvDuration("CONTEXTUAL_INTERVAL", d.ContextualInterval),
			ContextualCooldown: getEnvDuration("CONTEXTUAL_COOLDOWN", d.ContextualCooldown),
			AutosaveInterval:   getEnvDuration("AUTOSAVE_INTERVAL", d.AutosaveInterval),
			RecordingSegment:   getEnvDuration("RECORDING_SEGMENT", d.RecordingSegment),
			IdleThreshold:      getEnvDuration("IDLE_THRESHOLD", d.IdleThreshold),
			SessionTTL:         getEnvDuration("SESSION_TTL", d.SessionTTL),
			RecordingRetention: getEnvDuration("RECORDING_RETENTION", d.RecordingRetention),
			SweepInterval:      getEnvDuration("SWEEP_INTERVAL", d.SweepInterval),
			MaxEncodedSize:     getEnvInt("RECORDING_MAX_BYTES", d.MaxEncodedSize),
			RecordingMaxEvents: getEnvInt("RECORDING_MAX_EVENTS", d.RecordingMaxEvents),
			WorkerPoolSize:     getEnvInt("INTERVENTION_WORKERS", d.WorkerPoolSize),
			JobQueueSize:       getEnvInt("INTERVENTION_QUEUE_SIZE", d.JobQueueSize),
		},
		Timeout: TimeoutConfig{
			HealthCheck:     getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
			ComposerConnect: getEnvDuration("COMPOSER_CONNECT_TIMEOUT", 5*time.Second),
			ComposerRequest: getEnvDuration("COMPOSER_REQUEST_TIMEOUT", 10*time.Second),
			Shutdown:        getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("ALLOWED_ORIGINS cannot be empty")
	}
	if c.Coach.MaxEncodedSize <= 0 {
		return fmt.Errorf("RECORDING_MAX_BYTES must be > 0")
	}
	if c.Coach.WorkerPoolSize <= 0 {
		return fmt.Errorf("INTERVENTION_WORKERS must be > 0")
	}
	if c.Coach.JobQueueSize <= 0 {
		return fmt.Errorf("INTERVENTION_QUEUE_SIZE must be > 0")
	}
	if c.Coach.SessionTTL < c.Coach.IdleThreshold {
		return fmt.Errorf("SESSION_TTL must not be shorter than IDLE_THRESHOLD")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// CoachConfig maps the environment settings onto the coach defaults.
func (c *Config) CoachConfig() coach.Config {
	cc := coach.DefaultConfig()
	cc.NavigationInterval = c.Coach.NavigationInterval
	cc.NavigationCooldown = c.Coach.NavigationCooldown
	cc.ContextualInterval = c.Coach.ContextualInterval
	cc.ContextualCooldown = c.Coach.ContextualCooldown
	cc.AutosaveInterval = c.Coach.AutosaveInterval
	cc.RecordingSegment = c.Coach.RecordingSegment
	cc.IdleThreshold = c.Coach.IdleThreshold
	cc.SessionTTL = c.Coach.SessionTTL
	cc.RecordingRetention = c.Coach.RecordingRetention
	cc.SweepInterval = c.Coach.SweepInterval
	cc.MaxEncodedSize = c.Coach.MaxEncodedSize
	cc.RecordingMaxEvents = c.Coach.RecordingMaxEvents
	cc.WorkerPoolSize = c.Coach.WorkerPoolSize
	cc.JobQueueSize = c.Coach.JobQueueSize
	return cc
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
