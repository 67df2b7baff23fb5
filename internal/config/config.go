package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/media-vetting/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Redis      RedisConfig      `yaml:"redis"`
	Database   DatabaseConfig   `yaml:"database"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Events     EventsConfig     `yaml:"events"`
	Logging    LoggingConfig    `yaml:"logging"`
	App        AppConfig        `yaml:"app"`
	Worker     WorkerConfig     `yaml:"worker"`
	Progress   ProgressConfig   `yaml:"progress"`
	Capability CapabilityConfig `yaml:"capability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RedisConfig holds the shared broker/store connection configuration.
// URL wins over host/port when both are set.
type RedisConfig struct {
	URL          string          `yaml:"url"`
	Host         string          `yaml:"host"`
	Port         int             `yaml:"port"`
	Password     string          `yaml:"password"`
	DB           int             `yaml:"db"`
	PoolSize     int             `yaml:"pool_size"`
	DialTimeout  time.Duration   `yaml:"dial_timeout"`
	ReadTimeout  time.Duration   `yaml:"read_timeout"`
	WriteTimeout time.Duration   `yaml:"write_timeout"`
	Prefix       string          `yaml:"prefix"`
	Reconnect    ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig holds the Redis reconnect policy
type ReconnectConfig struct {
	MinBackoff      time.Duration `yaml:"min_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	MaxRetries      int           `yaml:"max_retries"`
	ConnectAttempts int           `yaml:"connect_attempts"`
}

// Configured reports whether either a URL or a host was supplied
func (r *RedisConfig) Configured() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Host) != ""
}

// DatabaseConfig holds PostgreSQL connection configuration for the result archive
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange configuration for the event sink
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// KafkaConfig holds the Kafka event sink configuration
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// EventsConfig selects which kinds have their terminal events forwarded to the sinks
type EventsConfig struct {
	Kinds []string `yaml:"kinds"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Kinds           []string                `yaml:"kinds"`
	LeaseDuration   time.Duration           `yaml:"lease_duration"`
	PollInterval    time.Duration           `yaml:"poll_interval"`
	StalledInterval time.Duration           `yaml:"stalled_interval"`
	JobTimeout      time.Duration           `yaml:"job_timeout"`
	ShutdownTimeout time.Duration           `yaml:"shutdown_timeout"`
	Overrides       map[string]KindOverride `yaml:"overrides"`
}

// KindOverride replaces catalog defaults for one kind. Zero values keep the default.
type KindOverride struct {
	Concurrency     int           `yaml:"concurrency"`
	RateLimitMax    int           `yaml:"rate_limit_max"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
}

// ProgressConfig holds progress tracker configuration
type ProgressConfig struct {
	Retention         time.Duration `yaml:"retention"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

// CapabilityConfig holds the analysis and scrape service endpoints
type CapabilityConfig struct {
	AnalysisURL string        `yaml:"analysis_url"`
	ScrapeURL   string        `yaml:"scrape_url"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Load reads and parses the configuration file, then applies environment overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.applyEnv(os.Getenv); err != nil {
		return nil, err
	}

	return &config, nil
}

// applyEnv overrides the Redis location from REDIS_URL, REDIS_HOST, REDIS_PORT and REDIS_PASSWORD
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := getenv("REDIS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_PORT %q: %w", v, err)
		}
		c.Redis.Port = port
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	return nil
}

// ValidateRedis fails fast when no broker location is configured. There is no
// in-process fallback.
func (c *Config) ValidateRedis() error {
	if !c.Redis.Configured() {
		return fmt.Errorf("%w: set redis.url or redis.host (or REDIS_URL / REDIS_HOST)", domain.ErrBrokerUnavailable)
	}
	if c.Redis.URL == "" && c.Redis.Port != 0 && (c.Redis.Port < MinPort || c.Redis.Port > MaxPort) {
		return fmt.Errorf("invalid redis port: %d (must be between %d and %d)", c.Redis.Port, MinPort, MaxPort)
	}
	return nil
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.ValidateRedis(); err != nil {
		return err
	}

	return c.validateArchive()
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.ValidateRedis(); err != nil {
		return err
	}

	if _, err := c.Worker.KindList(); err != nil {
		return err
	}

	if c.Worker.LeaseDuration < 0 || c.Worker.PollInterval < 0 || c.Worker.StalledInterval < 0 {
		return fmt.Errorf("worker intervals must not be negative")
	}

	if c.Worker.JobTimeout < 0 {
		return fmt.Errorf("worker job_timeout must not be negative")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	for name, o := range c.Worker.Overrides {
		if _, err := domain.ParseKind(name); err != nil {
			return fmt.Errorf("worker override: %w", err)
		}
		if o.Concurrency < 0 || o.RateLimitMax < 0 || o.RateLimitWindow < 0 {
			return fmt.Errorf("worker override for %s must not be negative", name)
		}
	}

	if err := c.validateArchive(); err != nil {
		return err
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required")
		}
	}

	for _, name := range c.Events.Kinds {
		if _, err := domain.ParseKind(name); err != nil {
			return fmt.Errorf("events: %w", err)
		}
	}

	return nil
}

func (c *Config) validateArchive() error {
	if !c.Database.Enabled {
		return nil
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

// KindList parses the configured kinds. An empty list means every catalog kind.
func (w *WorkerConfig) KindList() ([]domain.Kind, error) {
	if len(w.Kinds) == 0 {
		return domain.Kinds(), nil
	}
	kinds := make([]domain.Kind, 0, len(w.Kinds))
	seen := make(map[domain.Kind]bool)
	for _, name := range w.Kinds {
		kind, err := domain.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("worker kinds: %w", err)
		}
		if seen[kind] {
			continue
		}
		seen[kind] = true
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

// KindSpecs applies the overrides to the catalog entries they name
func (w *WorkerConfig) KindSpecs() (map[domain.Kind]domain.KindSpec, error) {
	specs := make(map[domain.Kind]domain.KindSpec, len(w.Overrides))
	for name, o := range w.Overrides {
		kind, err := domain.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("worker override: %w", err)
		}
		spec, err := domain.Lookup(kind)
		if err != nil {
			return nil, err
		}
		specs[kind] = spec.Override(o.Concurrency, o.RateLimitMax, o.RateLimitWindow)
	}
	return specs, nil
}

// KindList parses the kinds whose events are forwarded
func (e *EventsConfig) KindList() ([]domain.Kind, error) {
	kinds := make([]domain.Kind, 0, len(e.Kinds))
	for _, name := range e.Kinds {
		kind, err := domain.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("events: %w", err)
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}
