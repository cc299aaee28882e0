package config

import (
	"os"
	"strings"
	"time"
)

// Config captures process-level configuration. Built once in main and passed
// down explicitly; nothing reads the environment after startup.
type Config struct {
	Addr string

	// CredentialSecret keys the integrity tag on scanned credentials. Loaded
	// once here and injected into the codec so tests can use fake secrets.
	CredentialSecret string

	// CredentialMaxAge bounds how old a scanned credential may be. Badges are
	// scanned shortly after generation; anything older is suspect.
	CredentialMaxAge time.Duration

	// StationJWTKey verifies station tokens. Empty falls back to a fixed
	// development key (local development only).
	StationJWTKey string

	// DatabaseURL selects the PostgreSQL stores. Empty falls back to memory.
	DatabaseURL string

	// RedisURL selects the Redis registration store. Takes effect only when
	// DatabaseURL is unset.
	RedisURL string

	// KafkaBrokers enables streaming audit attempts to Kafka when non-empty.
	KafkaBrokers []string
	AuditTopic   string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:             getenv("TURNSTILE_ADDR", ":8080"),
		CredentialSecret: getenv("CREDENTIAL_SECRET", "dev-secret-change-in-production"),
		CredentialMaxAge: getDuration("CREDENTIAL_MAX_AGE", 15*time.Minute),
		StationJWTKey:    os.Getenv("STATION_JWT_KEY"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		AuditTopic:       getenv("AUDIT_TOPIC", "admission.attempts"),
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
