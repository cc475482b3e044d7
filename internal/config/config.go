package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the environment variable pointing at an optional YAML config file.
const ConfigFileEnv = "SPLITTER_CONFIG_FILE"

type Config struct {
	// HTTP Server
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TrustedProxies  []string      `yaml:"trusted_proxies"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// AMQP
	AMQPURL              string `yaml:"amqp_url"`
	AMQPExchange         string `yaml:"amqp_exchange"`
	AMQPRequestQueue     string `yaml:"amqp_request_queue"`
	AMQPResultRoutingKey string `yaml:"amqp_result_routing_key"`

	// Splitting
	MaxParticipants  int `yaml:"max_participants"`
	BatchConcurrency int `yaml:"batch_concurrency"`

	// Rate limiting
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

// Defaults returns the configuration used when neither file nor environment set a value.
func Defaults() *Config {
	return &Config{
		Port:            "8081",
		ShutdownTimeout: 30 * time.Second,
		TrustedProxies:  []string{"127.0.0.0/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"},

		LogLevel: "info",

		AMQPExchange:         "splitter",
		AMQPRequestQueue:     "split_requests",
		AMQPResultRoutingKey: "split_results",

		MaxParticipants:  500,
		BatchConcurrency: 4,

		RateLimitPerMinute: 60,
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// SPLITTER_CONFIG_FILE, and environment variables, in that order of precedence.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		c.TrustedProxies = splitList(v)
	}

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.AMQPURL = getEnv("AMQP_URL", c.AMQPURL)
	c.AMQPExchange = getEnv("AMQP_EXCHANGE", c.AMQPExchange)
	c.AMQPRequestQueue = getEnv("AMQP_REQUEST_QUEUE", c.AMQPRequestQueue)
	c.AMQPResultRoutingKey = getEnv("AMQP_RESULT_ROUTING_KEY", c.AMQPResultRoutingKey)

	c.MaxParticipants = getEnvInt("MAX_PARTICIPANTS", c.MaxParticipants)
	c.BatchConcurrency = getEnvInt("BATCH_CONCURRENCY", c.BatchConcurrency)

	c.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", c.RateLimitPerMinute)
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errs []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.ShutdownTimeout < time.Second {
		errs = append(errs, fmt.Sprintf("invalid shutdown timeout %v: must be at least 1 second", c.ShutdownTimeout))
	}

	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errs = append(errs, fmt.Sprintf("invalid trusted proxy '%s': must be a CIDR", cidr))
		}
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPRequestQueue == "" {
			errs = append(errs, "AMQP request queue name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPResultRoutingKey == "" {
			errs = append(errs, "AMQP result routing key cannot be empty when AMQP URL is provided")
		}
	}

	if c.MaxParticipants < 1 {
		errs = append(errs, fmt.Sprintf("invalid max participants %d: must be at least 1", c.MaxParticipants))
	} else if c.MaxParticipants > 10000 {
		errs = append(errs, fmt.Sprintf("invalid max participants %d: must be at most 10000", c.MaxParticipants))
	}

	if c.BatchConcurrency < 1 || c.BatchConcurrency > 64 {
		errs = append(errs, fmt.Sprintf("invalid batch concurrency %d: must be between 1 and 64", c.BatchConcurrency))
	}

	if c.RateLimitPerMinute < 1 {
		errs = append(errs, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}

	return nil
}

// ErrAMQPNotConfigured is returned by RequireAMQP when no broker URL is set.
var ErrAMQPNotConfigured = errors.New("AMQP_URL is required")

// RequireAMQP reports whether the worker can connect to a broker.
func (c *Config) RequireAMQP() error {
	if c.AMQPURL == "" {
		return ErrAMQPNotConfigured
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

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
