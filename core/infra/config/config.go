package config

import "os"

const (
	defaultNATSURL       = "nats://localhost:4222"
	defaultRedisURL      = "redis://localhost:6379"
	defaultHTTPAddr      = ":8090"
	defaultTimeoutConfig = "config/timeouts.yaml"
	envNATSURL           = "NATS_URL"
	envRedisURL          = "REDIS_URL"
	envHTTPAddr          = "HTTP_ADDR"
	envTimeoutConfigPath = "TIMEOUT_CONFIG_PATH"
)

// Config holds runtime configuration for the orchestrator and workers.
type Config struct {
	NatsURL           string
	RedisURL          string
	HTTPAddr          string
	TimeoutConfigPath string
}

// Load returns configuration from environment variables with sane defaults.
func Load() *Config {
	natsURL := os.Getenv(envNATSURL)
	if natsURL == "" {
		natsURL = defaultNATSURL
	}

	redisURL := os.Getenv(envRedisURL)
	if redisURL == "" {
		redisURL = defaultRedisURL
	}

	httpAddr := os.Getenv(envHTTPAddr)
	if httpAddr == "" {
		httpAddr = defaultHTTPAddr
	}

	timeoutCfg := os.Getenv(envTimeoutConfigPath)
	if timeoutCfg == "" {
		timeoutCfg = defaultTimeoutConfig
	}

	return &Config{
		NatsURL:           natsURL,
		RedisURL:          redisURL,
		HTTPAddr:          httpAddr,
		TimeoutConfigPath: timeoutCfg,
	}
}
