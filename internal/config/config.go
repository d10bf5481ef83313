// Package config loads the flash-sale service configuration from the
// environment.
package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/utafrali/flashsale/pkg/config"
)

// Config holds all configuration for the flash-sale service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"HTTP_PORT" envDefault:"8080"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"flashsale"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"flashsale_secret"`
	PostgresDB   string `env:"POSTGRES_DB_NAME" envDefault:"flashsale_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"64"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"true"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Purchase saga
	ReservationTTLSeconds int `env:"RESERVATION_TTL_SECONDS" envDefault:"300"`

	// Payment gateway
	GatewaySuccessRate  float64 `env:"GATEWAY_SUCCESS_RATE" envDefault:"0.95"`
	GatewayMinLatencyMs int     `env:"GATEWAY_MIN_LATENCY_MS" envDefault:"20"`
	GatewayMaxLatencyMs int     `env:"GATEWAY_MAX_LATENCY_MS" envDefault:"120"`

	// Circuit breaker around gateway calls
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// Write buffer
	BufferPrimaryCapacity int `env:"BUFFER_PRIMARY_CAPACITY" envDefault:"10000"`
	BufferRetryCapacity   int `env:"BUFFER_RETRY_CAPACITY" envDefault:"1000"`
	BufferEvictionMaxAge  int `env:"BUFFER_EVICTION_MAX_AGE_MINUTES" envDefault:"60"`

	// Write-ahead log maintenance
	WALStuckAgeMinutes      int `env:"WAL_STUCK_AGE_MINUTES" envDefault:"10"`
	WALRecoveryIntervalMins int `env:"WAL_RECOVERY_INTERVAL_MINUTES" envDefault:"5"`
	WALRetentionDays        int `env:"WAL_RETENTION_DAYS" envDefault:"30"`
	WALArchiveIntervalHours int `env:"WAL_ARCHIVE_INTERVAL_HOURS" envDefault:"24"`

	// Reservation expiry sweep
	ExpirySweepIntervalSeconds int `env:"EXPIRY_SWEEP_INTERVAL_SECONDS" envDefault:"60"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load flashsale config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.PostgresUser == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if c.RedisHost == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when Kafka is enabled")
	}
	if c.ReservationTTLSeconds < 1 {
		return fmt.Errorf("RESERVATION_TTL_SECONDS must be positive, got %d", c.ReservationTTLSeconds)
	}
	if c.GatewaySuccessRate < 0 || c.GatewaySuccessRate > 1.0 {
		return fmt.Errorf("GATEWAY_SUCCESS_RATE must be between 0.0 and 1.0, got %f", c.GatewaySuccessRate)
	}
	if c.GatewayMinLatencyMs > c.GatewayMaxLatencyMs {
		return fmt.Errorf("GATEWAY_MIN_LATENCY_MS must not exceed GATEWAY_MAX_LATENCY_MS")
	}
	if c.BufferPrimaryCapacity < 1 || c.BufferRetryCapacity < 1 {
		return fmt.Errorf("buffer capacities must be positive")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// ReservationTTL returns the reservation hold duration.
func (c *Config) ReservationTTL() time.Duration {
	return time.Duration(c.ReservationTTLSeconds) * time.Second
}
