// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/smartkhata/khata-engine/logging"
)

const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"

	EventsNone  = "none"
	EventsKafka = "kafka"
	EventsAMQP  = "amqp"
)

type Config struct {
	// HTTP Server
	Port               string
	CORSAllowedOrigins []string

	// Auth
	JWTSecret string

	// Storage
	StoreBackend string
	SQLiteDBPath string

	// Events
	EventsBackend string
	KafkaBrokers  []string
	KafkaTopic    string
	AMQPURL       string
	AMQPExchange  string

	// Ledger
	AllocationConcurrency int
	ReconcileInterval     time.Duration // 0 disables the sweep

	LogLevel  string
	LogFormat string
}

// Load reads a .env file when present, then the environment.
func Load() *Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the configuration from the environment only.
func FromEnv() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),

		JWTSecret: getEnv("JWT_SECRET", ""),

		StoreBackend: getEnv("STORE_BACKEND", StoreSQLite),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/khata.db"),

		EventsBackend: getEnv("EVENTS_BACKEND", EventsNone),
		KafkaBrokers:  getEnvList("KAFKA_BROKERS", nil),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "khata.ledger"),
		AMQPURL:       getEnv("AMQP_URL", ""),
		AMQPExchange:  getEnv("AMQP_EXCHANGE", "khata"),

		AllocationConcurrency: getEnvInt("ALLOCATION_CONCURRENCY", 4),
		ReconcileInterval:     getEnvDuration("RECONCILE_INTERVAL", time.Hour),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Errorf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}

	switch c.StoreBackend {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLiteDBPath == "" {
			errs = append(errs, errors.New("SQLite database path cannot be empty when using sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid store backend '%s': must be one of [%s %s]", c.StoreBackend, StoreSQLite, StoreMemory))
	}

	switch c.EventsBackend {
	case EventsNone:
	case EventsKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required when using kafka events"))
		}
		if c.KafkaTopic == "" {
			errs = append(errs, errors.New("Kafka topic cannot be empty when using kafka events"))
		}
	case EventsAMQP:
		if c.AMQPURL == "" {
			errs = append(errs, errors.New("AMQP_URL is required when using amqp events"))
		} else if u, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Errorf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if u.Scheme != "amqp" && u.Scheme != "amqps" {
			errs = append(errs, fmt.Errorf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", u.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, errors.New("AMQP exchange name cannot be empty when using amqp events"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid events backend '%s': must be one of [%s %s %s]", c.EventsBackend, EventsNone, EventsKafka, EventsAMQP))
	}

	if c.AllocationConcurrency < 1 || c.AllocationConcurrency > 64 {
		errs = append(errs, fmt.Errorf("invalid allocation concurrency %d: must be between 1 and 64", c.AllocationConcurrency))
	}

	if c.ReconcileInterval < 0 {
		errs = append(errs, fmt.Errorf("invalid reconcile interval %s: must not be negative", c.ReconcileInterval))
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("invalid log format '%s': must be text or json", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
