// Package config provides configuration management for the Chartline bot.
// It covers the HTTP server, the LINE channel credentials, the completion
// endpoint, image-batching behavior, and logging preferences.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config represents the complete service configuration. It combines
// server settings, platform credentials, completion-endpoint parameters,
// batching behavior, and logging preferences into a single structure.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Line           LineConfig           `yaml:"line"`
	LLM            LLMConfig            `yaml:"llm"`
	Batch          BatchConfig          `yaml:"batch"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// ServerConfig holds server-specific configuration for the HTTP server.
type ServerConfig struct {
	// Port specifies the HTTP server port (default: 8080)
	Port int `yaml:"port" validate:"gte=0,lte=65535"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body (default: 30s)
	ReadTimeout time.Duration `yaml:"read_timeout" validate:"gte=0"`

	// WriteTimeout is the maximum duration before timing out writes of
	// the response. Webhook handling may include a synchronous completion
	// call, so this must exceed the LLM request timeout (default: 90s).
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`

	// MaxHeaderBytes controls the maximum number of bytes the server will
	// read parsing the request header (default: 1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes" validate:"gte=0"`

	// ShutdownTimeout specifies how long to wait for the server to shut
	// down gracefully before forcing termination (default: 30s)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// LineConfig holds the messaging-platform channel credentials.
// Use environment variables (e.g. ${LINE_CHANNEL_SECRET}) in the YAML
// rather than committing secrets.
type LineConfig struct {
	// ChannelSecret verifies webhook signatures
	ChannelSecret string `yaml:"channel_secret"`

	// ChannelToken authenticates reply, push, and content-download calls
	ChannelToken string `yaml:"channel_token"`
}

// LLMConfig holds completion-endpoint configuration.
type LLMConfig struct {
	// APIKey is the authentication key for the completion endpoint
	APIKey string `yaml:"api_key"`

	// Endpoint overrides the API base URL; empty means the provider default
	Endpoint string `yaml:"endpoint"`

	// Model is the name of the vision-capable model to use (default: gpt-4o)
	Model string `yaml:"model"`

	// Temperature controls generation randomness (default: 0.3)
	Temperature float32 `yaml:"temperature" validate:"gte=0,lte=2"`

	// MaxTokens bounds the completion length (default: 2000)
	MaxTokens int `yaml:"max_tokens" validate:"gt=0"`

	// MaxContextTokens is the model's context window; prompts estimated
	// above this are logged as warnings before the call (default: 128000)
	MaxContextTokens int `yaml:"max_context_tokens" validate:"gt=0"`

	// RequestTimeout bounds a single completion call (default: 60s)
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
}

// BatchConfig controls the image-batching debounce policy and the
// conversation history bound.
type BatchConfig struct {
	// Window is the debounce wait window W: every new image restarts it,
	// and the batch flushes once it elapses without arrivals (default: 3s)
	Window time.Duration `yaml:"window" validate:"gt=0"`

	// HistoryLimit is the conversation history length bound L. When an
	// append would exceed it, the history hard-resets to system entries
	// plus the portfolio entry (default: 10)
	HistoryLimit int `yaml:"history_limit" validate:"gt=0"`

	// PushQueueSize bounds the outbound push dispatcher queue; pushes
	// beyond it are dropped and logged (default: 256)
	PushQueueSize int `yaml:"push_queue_size" validate:"gt=0"`
}

// CircuitBreakerConfig configures the breaker around completion calls.
type CircuitBreakerConfig struct {
	// MaxRequests is the number of requests allowed through in the
	// half-open state
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is the cyclic period of the closed state
	Interval time.Duration `yaml:"interval" validate:"gte=0"`

	// Timeout is the period of the open state until it becomes half-open
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`

	// FailureThreshold is the number of consecutive failures needed to
	// trip the circuit
	FailureThreshold uint32 `yaml:"failure_threshold"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	// Level sets logging verbosity: debug, info, warn, error
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// Format specifies log output format: json or text
	Format string `yaml:"format" validate:"oneof=json text"`
}

// DefaultConfig returns a configuration with defaults matching the
// original service's environment-variable defaults where they exist.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    90 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		LLM: LLMConfig{
			Model:            "gpt-4o",
			Temperature:      0.3,
			MaxTokens:        2000,
			MaxContextTokens: 128000,
			RequestTimeout:   60 * time.Second,
		},
		Batch: BatchConfig{
			Window:        3 * time.Second,
			HistoryLimit:  10,
			PushQueueSize: 256,
		},
		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests:      1,
			Interval:         30 * time.Second,
			Timeout:          60 * time.Second,
			FailureThreshold: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFile loads configuration from a YAML file.
func LoadFile(filename string) (*Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// Load loads configuration from an io.Reader, expanding environment
// variables, applying defaults, and validating the result.
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expand environment variables: %w", err)
	}

	// Start with defaults, decode YAML on top
	config := DefaultConfig()
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	if err := dec.Decode(config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// expandEnvVars resolves environment variable references in configuration
// strings. It supports standard ${VAR} substitution and the
// ${VAR:-default} default-value syntax, and recursively resolves nested
// references:
//
//   - "${LINE_CHANNEL_SECRET}" → value of LINE_CHANNEL_SECRET
//   - "${PORT:-8080}"          → "8080" when PORT is unset or empty
func expandEnvVars(s string) (string, error) {
	result := os.Expand(s, func(key string) string {
		if i := strings.Index(key, ":-"); i >= 0 {
			envKey := key[:i]
			defaultValue := key[i+2:]

			if val := os.Getenv(envKey); val != "" {
				return val
			}
			return defaultValue
		}
		return os.Getenv(key)
	})

	// Resolve nested references until a fixed point
	prev := ""
	for prev != result {
		prev = result
		result = os.Expand(result, os.Getenv)
	}

	return result, nil
}

// Validate checks if the configuration is valid. Struct-tag constraints
// are checked with the validator package; the rest by hand.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			v := verrs[0]
			return fmt.Errorf("invalid %s: failed %q constraint", v.Namespace(), v.Tag())
		}
		return err
	}

	if c.LLM.Model == "" {
		return fmt.Errorf("empty LLM model")
	}
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout < c.LLM.RequestTimeout {
		return fmt.Errorf("server write timeout %v is shorter than LLM request timeout %v",
			c.Server.WriteTimeout, c.LLM.RequestTimeout)
	}
	if c.CircuitBreaker.FailureThreshold == 0 {
		return fmt.Errorf("circuit breaker failure threshold must be positive")
	}

	return nil
}
