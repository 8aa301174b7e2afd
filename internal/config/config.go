package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Broker names accepted by BROKER.
const (
	BrokerLocal = "local"
	BrokerRedis = "redis"
	BrokerNATS  = "nats"
)

type Config struct {
	Port        string
	GRPCPort    string
	Environment string
	LogLevel    string

	DBDSN string

	JWTSecret string
	JWTIssuer string

	AMQPURL         string
	AMQPExchange    string
	AMQPDialTimeout time.Duration
	AuditRoutingKey string

	Broker        string
	RedisAddr     string
	RedisPassword string
	NATSURL       string

	PersistTimeout      time.Duration
	SendBuffer          int
	RateLimitMessages   int
	RateLimitWindow     time.Duration
	CrossDeviceReadSync bool

	OTLPEndpoint string
	DebugRoutes  bool
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8083"),
		GRPCPort:    getEnv("GRPC_PORT", "9083"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		DBDSN: getEnv("DB_DSN", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", "coachconnect"),

		AMQPURL:         getEnv("AMQP_URL", ""),
		AMQPExchange:    getEnv("AMQP_EXCHANGE", "coachconnect.events"),
		AMQPDialTimeout: getEnvDuration("AMQP_DIAL_TIMEOUT", 10*time.Second),
		AuditRoutingKey: getEnv("AUDIT_ROUTING_KEY", "audit.chat"),

		Broker:        getEnv("BROKER", BrokerLocal),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		NATSURL:       getEnv("NATS_URL", "nats://localhost:4222"),

		PersistTimeout:      getEnvDuration("PERSIST_TIMEOUT", 5*time.Second),
		SendBuffer:          getEnvInt("SEND_BUFFER", 256),
		RateLimitMessages:   getEnvInt("RATE_LIMIT_MESSAGES", 0),
		RateLimitWindow:     getEnvDuration("RATE_LIMIT_WINDOW", 10*time.Second),
		CrossDeviceReadSync: getEnvBool("CROSS_DEVICE_READ_SYNC", false),

		OTLPEndpoint: getEnv("OTLP_ENDPOINT", ""),
		DebugRoutes:  getEnvBool("DEBUG_ROUTES", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.Broker {
	case BrokerLocal, BrokerRedis, BrokerNATS:
	default:
		return fmt.Errorf("unknown BROKER %q", c.Broker)
	}
	if c.PersistTimeout <= 0 {
		return errors.New("PERSIST_TIMEOUT must be positive")
	}
	if c.SendBuffer <= 0 {
		return errors.New("SEND_BUFFER must be positive")
	}
	return nil
}

// RateLimitEnabled is true when both limit and window are configured.
func (c *Config) RateLimitEnabled() bool {
	return c.RateLimitMessages > 0 && c.RateLimitWindow > 0
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}
