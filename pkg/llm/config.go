package llm

import (
	"log/slog"
	"time"
)

// Config holds client configuration.
type Config struct {
	// Connection
	BaseURL string // API base URL
	APIKey  string

	// Models
	VisionModel   string // describes frames
	LanguageModel string // writes commentary and extracts topics

	// Request defaults
	DescribeMaxTokens int
	GenerateMaxTokens int
	Temperature       float64

	Timeout time.Duration

	// Retry configuration, for 429 and 5xx responses
	MaxRetries int
	RetryDelay time.Duration

	Logger *slog.Logger
}

// Option is a functional option for configuring the client.
type Option func(*Config)

// WithBaseURL sets the API base URL.
// Examples: "https://api.openai.com/v1", "http://localhost:11434/v1"
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithVisionModel sets the model used to describe frames.
func WithVisionModel(model string) Option {
	return func(c *Config) { c.VisionModel = model }
}

// WithLanguageModel sets the model used for commentary and topics.
func WithLanguageModel(model string) Option {
	return func(c *Config) { c.LanguageModel = model }
}

// WithTemperature sets the commentary temperature.
func WithTemperature(t float64) Option {
	return func(c *Config) { c.Temperature = t }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithRetry configures retry behavior.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns defaults for OpenAI.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           "https://api.openai.com/v1",
		VisionModel:       "gpt-4o-mini",
		LanguageModel:     "gpt-4o-mini",
		DescribeMaxTokens: 300,
		GenerateMaxTokens: 120,
		Temperature:       0.85,
		Timeout:           30 * time.Second,
		MaxRetries:        2,
		RetryDelay:        250 * time.Millisecond,
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	if c.VisionModel == "" || c.LanguageModel == "" {
		return ErrNoModel
	}
	return nil
}
