// Package config holds the mission-control configuration for go-alzar.
// Flag and environment parsing is done in cmd/alzar; this package is data,
// defaults and validation.
package config

import (
	"fmt"
	"time"
)

// Default configuration values.
const (
	DefaultAddr            = ":5000"
	DefaultLogMax          = 500
	DefaultReplaySize      = 20
	DefaultTickInterval    = 15 * time.Second
	DefaultTalkativeCool   = 12 * time.Second
	DefaultNormalCool      = 30 * time.Second
	DefaultSpottedTTL      = 10 * time.Second
	DefaultLiftoffTimeout  = 3 * time.Second
	DefaultLandingTimeout  = 5 * time.Second
	DefaultStageTimeout    = 20 * time.Second
	DefaultRetryDelay      = 500 * time.Millisecond
	DefaultSpeechTimeout   = 30 * time.Second
	DefaultFrameMaxAge     = 5 * time.Second
	DefaultLLMBaseURL      = "https://api.openai.com/v1"
	DefaultVisionModel     = "gpt-4o-mini"
	DefaultLanguageModel   = "gpt-4o-mini"
	DefaultSpeechModel     = "tts-1"
	DefaultSpeechVoice     = "onyx"
	DefaultGeocoderURL     = "https://nominatim.openstreetmap.org"
	DefaultNotableRule     = `confidence >= 0.6`
	DefaultRedisChannel    = "alzar:events"
	DefaultRedisHistoryKey = "alzar:commentary"
)

// Config holds all configuration for the mission-control server.
type Config struct {
	// Server
	Addr      string
	StaticDir string
	LogLevel  string

	// Commentary log
	LogMax     int // entries kept in memory
	ReplaySize int // entries replayed to new subscribers

	// Scheduler
	TickInterval      time.Duration // timer trigger period
	TalkativeCooldown time.Duration
	NormalCooldown    time.Duration
	SpottedTTL        time.Duration // how long a spotted-object signal stays latched

	// Drone
	LiftoffTimeout time.Duration // fallback before declaring airborne
	LandingTimeout time.Duration // fallback before declaring docked

	// Pipeline
	StageTimeout  time.Duration
	RetryDelay    time.Duration
	SpeechTimeout time.Duration
	FrameMaxAge   time.Duration

	// Vendor endpoints
	LLMBaseURL    string
	LLMAPIKey     string
	VisionModel   string
	LanguageModel string
	SpeechModel   string
	SpeechVoice   string
	GeocoderURL   string // empty disables enrichment

	// Spotted-object filter (expr-lang expression over label and confidence)
	NotableRule string

	// Optional sinks
	JournalPath     string // empty disables the SQLite journal
	RedisURL        string // empty disables the Redis relay
	RedisChannel    string
	RedisHistoryKey string
}

// DefaultConfig returns sensible defaults for the server.
func DefaultConfig() Config {
	return Config{
		Addr:              DefaultAddr,
		LogLevel:          "info",
		LogMax:            DefaultLogMax,
		ReplaySize:        DefaultReplaySize,
		TickInterval:      DefaultTickInterval,
		TalkativeCooldown: DefaultTalkativeCool,
		NormalCooldown:    DefaultNormalCool,
		SpottedTTL:        DefaultSpottedTTL,
		LiftoffTimeout:    DefaultLiftoffTimeout,
		LandingTimeout:    DefaultLandingTimeout,
		StageTimeout:      DefaultStageTimeout,
		RetryDelay:        DefaultRetryDelay,
		SpeechTimeout:     DefaultSpeechTimeout,
		FrameMaxAge:       DefaultFrameMaxAge,
		LLMBaseURL:        DefaultLLMBaseURL,
		VisionModel:       DefaultVisionModel,
		LanguageModel:     DefaultLanguageModel,
		SpeechModel:       DefaultSpeechModel,
		SpeechVoice:       DefaultSpeechVoice,
		GeocoderURL:       DefaultGeocoderURL,
		NotableRule:       DefaultNotableRule,
		RedisChannel:      DefaultRedisChannel,
		RedisHistoryKey:   DefaultRedisHistoryKey,
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return &ConfigError{Field: "Addr", Message: "listen address is required"}
	}
	if c.LogMax <= 0 {
		return &ConfigError{Field: "LogMax", Message: "commentary log size must be positive"}
	}
	if c.ReplaySize < 0 || c.ReplaySize > c.LogMax {
		return &ConfigError{Field: "ReplaySize", Message: fmt.Sprintf("replay size must be between 0 and %d", c.LogMax)}
	}
	positive := []struct {
		field string
		value time.Duration
	}{
		{"TickInterval", c.TickInterval},
		{"TalkativeCooldown", c.TalkativeCooldown},
		{"NormalCooldown", c.NormalCooldown},
		{"LiftoffTimeout", c.LiftoffTimeout},
		{"LandingTimeout", c.LandingTimeout},
		{"StageTimeout", c.StageTimeout},
		{"SpeechTimeout", c.SpeechTimeout},
		{"FrameMaxAge", c.FrameMaxAge},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return &ConfigError{Field: p.field, Message: p.field + " must be positive"}
		}
	}
	if c.TalkativeCooldown > c.NormalCooldown {
		return &ConfigError{Field: "TalkativeCooldown", Message: "talkative cooldown must not exceed normal cooldown"}
	}
	if c.RetryDelay < 0 {
		return &ConfigError{Field: "RetryDelay", Message: "retry delay must not be negative"}
	}
	return nil
}

// HasLLM reports whether vendor credentials for the vision/language services are present.
func (c *Config) HasLLM() bool {
	return c.LLMAPIKey != ""
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
