// Package config loads process configuration from the environment.
package config

import (
	"os"
	"strings"
	"time"
)

// Config captures everything the server needs at startup.
type Config struct {
	Addr          string
	DatabaseURL   string // empty selects the in-memory stores
	Redis         RedisConfig
	Kafka         KafkaConfig
	JWTSigningKey string
	// SurveyBaseURL is the public origin survey links point at; the
	// /compliance-survey/<token> path is appended per recipient.
	SurveyBaseURL string
	// DirectoryFile seeds the department directory. Empty starts it empty.
	DirectoryFile string
	// NotifyURL is the notification service endpoint. Empty logs instead.
	NotifyURL string
	// RequestTimeout bounds each request's context. The report export
	// endpoints stream, so this is generous rather than per-write.
	RequestTimeout time.Duration
	// SweepInterval drives the expiry sweep. Zero disables the sweeper.
	SweepInterval time.Duration
	// NotifyTimeout bounds each notification dispatch call.
	NotifyTimeout time.Duration
}

// RedisConfig configures the optional session-cursor backend.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the optional audit event bus.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:           envOr("ATTEST_ADDR", ":8080"),
		DatabaseURL:    os.Getenv("ATTEST_DATABASE_URL"),
		JWTSigningKey:  os.Getenv("ATTEST_JWT_SIGNING_KEY"),
		SurveyBaseURL:  envOr("ATTEST_SURVEY_BASE_URL", "http://localhost:8080"),
		DirectoryFile:  os.Getenv("ATTEST_DIRECTORY_FILE"),
		NotifyURL:      os.Getenv("ATTEST_NOTIFY_URL"),
		RequestTimeout: durationOr("ATTEST_REQUEST_TIMEOUT", 30*time.Second),
		SweepInterval:  durationOr("ATTEST_SWEEP_INTERVAL", time.Hour),
		NotifyTimeout:  durationOr("ATTEST_NOTIFY_TIMEOUT", 10*time.Second),
		Redis: RedisConfig{
			URL:          os.Getenv("ATTEST_REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic: envOr("ATTEST_AUDIT_TOPIC", "attest.audit"),
		},
	}
	if brokers := os.Getenv("ATTEST_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if cfg.JWTSigningKey == "" {
		// Development default; override in production.
		cfg.JWTSigningKey = "dev-secret-key-change-in-production"
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
