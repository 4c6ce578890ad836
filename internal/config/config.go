package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the message flow engine
type Config struct {
	// Server configuration
	HTTPPort int    `env:"MSGFLOW_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"MSGFLOW_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Redis configuration
	Redis RedisConfig

	// Worker configuration
	Workers WorkerConfig

	// Engine timings
	Engine EngineConfig

	// Run storage
	Storage StorageConfig

	// Timeouts
	Timeouts TimeoutConfig

	// BootstrapFlowFile is a YAML or JSON flow definition submitted at startup
	BootstrapFlowFile string `env:"MSGFLOW_BOOTSTRAP_FLOW"`
}

// RedisConfig holds Redis connection configuration. When disabled, runs
// are kept in memory and no event stream is mirrored.
type RedisConfig struct {
	Enabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// Event stream settings
	StreamMaxLen int64         `env:"REDIS_STREAM_MAXLEN" envDefault:"10000"`
	EventTimeout time.Duration `env:"REDIS_EVENT_TIMEOUT" envDefault:"2s"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"5"`
	QueueSize           int           `env:"WORKER_QUEUE_SIZE" envDefault:"100"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// EngineConfig holds the simulated timings of flow execution
type EngineConfig struct {
	DependencyTimeout time.Duration `env:"ENGINE_DEPENDENCY_TIMEOUT" envDefault:"5s"`
	ResponseDelay     time.Duration `env:"ENGINE_RESPONSE_DELAY" envDefault:"50ms"`
}

// StorageConfig holds run storage configuration
type StorageConfig struct {
	RunTTL time.Duration `env:"STORAGE_RUN_TTL" envDefault:"24h"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	FlowExecutionTimeout time.Duration `env:"TIMEOUT_FLOW_EXECUTION" envDefault:"3600s"` // 1 hour
	ShutdownTimeout      time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}
	if c.HTTPPort == c.GRPCPort {
		return fmt.Errorf("HTTP and gRPC ports must differ: %d", c.HTTPPort)
	}

	// Validate Redis config
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required when redis is enabled")
	}

	// Validate worker config
	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}
	if c.Workers.QueueSize < 1 {
		return fmt.Errorf("worker queue size must be at least 1")
	}
	if c.Workers.HealthCheckInterval <= 0 {
		return fmt.Errorf("worker health check interval must be positive")
	}

	// Validate engine timings
	if c.Engine.DependencyTimeout <= 0 {
		return fmt.Errorf("dependency timeout must be positive")
	}
	if c.Engine.ResponseDelay < 0 {
		return fmt.Errorf("response delay must not be negative")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
