package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/teslashibe/go-alzar/internal/config"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp() *cli.App {
	app := &cli.App{
		Name:    "alzar",
		Usage:   "Mission control and live commentary for the Alzar field robot",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(),
			watchCmd(),
			stateCmd(),
			askCmd(),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// serverFlags are the flags of the serve command. Defaults come from
// config.DefaultConfig; every flag can also be set from the environment.
func serverFlags() []cli.Flag {
	d := config.DefaultConfig()
	return []cli.Flag{
		&cli.StringFlag{Name: "addr", Value: d.Addr, EnvVars: []string{"ALZAR_ADDR"}, Usage: "Listen address"},
		&cli.StringFlag{Name: "static-dir", Value: d.StaticDir, EnvVars: []string{"ALZAR_STATIC_DIR"}, Usage: "Dashboard static files"},
		&cli.StringFlag{Name: "log-level", Value: d.LogLevel, EnvVars: []string{"LOG_LEVEL"}, Usage: "debug|info|warn|error"},

		&cli.IntFlag{Name: "log-max", Value: d.LogMax, EnvVars: []string{"ALZAR_LOG_MAX"}, Usage: "Commentary entries kept in memory"},
		&cli.IntFlag{Name: "replay-size", Value: d.ReplaySize, EnvVars: []string{"ALZAR_REPLAY_SIZE"}, Usage: "Entries replayed to new dashboards"},

		&cli.DurationFlag{Name: "tick-interval", Value: d.TickInterval, EnvVars: []string{"ALZAR_TICK_INTERVAL"}, Usage: "Timer trigger period"},
		&cli.DurationFlag{Name: "talkative-cooldown", Value: d.TalkativeCooldown, EnvVars: []string{"ALZAR_TALKATIVE_COOLDOWN"}, Usage: "Cooldown in talkative mode"},
		&cli.DurationFlag{Name: "normal-cooldown", Value: d.NormalCooldown, EnvVars: []string{"ALZAR_NORMAL_COOLDOWN"}, Usage: "Cooldown in normal mode"},
		&cli.DurationFlag{Name: "spotted-ttl", Value: d.SpottedTTL, EnvVars: []string{"ALZAR_SPOTTED_TTL"}, Usage: "How long a spotted object stays pending"},
		&cli.DurationFlag{Name: "liftoff-timeout", Value: d.LiftoffTimeout, EnvVars: []string{"ALZAR_LIFTOFF_TIMEOUT"}, Usage: "Fallback before the drone counts as airborne"},
		&cli.DurationFlag{Name: "landing-timeout", Value: d.LandingTimeout, EnvVars: []string{"ALZAR_LANDING_TIMEOUT"}, Usage: "Fallback before the drone counts as docked"},
		&cli.DurationFlag{Name: "stage-timeout", Value: d.StageTimeout, EnvVars: []string{"ALZAR_STAGE_TIMEOUT"}, Usage: "Timeout per pipeline stage"},
		&cli.DurationFlag{Name: "retry-delay", Value: d.RetryDelay, EnvVars: []string{"ALZAR_RETRY_DELAY"}, Usage: "Delay before retrying describe or generate"},
		&cli.DurationFlag{Name: "speech-timeout", Value: d.SpeechTimeout, EnvVars: []string{"ALZAR_SPEECH_TIMEOUT"}, Usage: "Timeout for speaking one line"},
		&cli.DurationFlag{Name: "frame-max-age", Value: d.FrameMaxAge, EnvVars: []string{"ALZAR_FRAME_MAX_AGE"}, Usage: "Oldest camera frame a cycle will use"},

		&cli.StringFlag{Name: "llm-base-url", Value: d.LLMBaseURL, EnvVars: []string{"OPENAI_BASE_URL"}, Usage: "OpenAI-compatible API base URL"},
		&cli.StringFlag{Name: "llm-api-key", EnvVars: []string{"OPENAI_API_KEY"}, Usage: "API key for vision, language and speech"},
		&cli.StringFlag{Name: "vision-model", Value: d.VisionModel, EnvVars: []string{"ALZAR_VISION_MODEL"}, Usage: "Model that describes frames"},
		&cli.StringFlag{Name: "language-model", Value: d.LanguageModel, EnvVars: []string{"ALZAR_LANGUAGE_MODEL"}, Usage: "Model that writes commentary"},
		&cli.StringFlag{Name: "speech-model", Value: d.SpeechModel, EnvVars: []string{"ALZAR_SPEECH_MODEL"}, Usage: "Text-to-speech model"},
		&cli.StringFlag{Name: "speech-voice", Value: d.SpeechVoice, EnvVars: []string{"ALZAR_SPEECH_VOICE"}, Usage: "Text-to-speech voice"},
		&cli.StringFlag{Name: "geocoder-url", Value: d.GeocoderURL, EnvVars: []string{"ALZAR_GEOCODER_URL"}, Usage: "Nominatim-compatible reverse geocoder (empty disables)"},
		&cli.StringFlag{Name: "notable-rule", Value: d.NotableRule, EnvVars: []string{"ALZAR_NOTABLE_RULE"}, Usage: "expr rule deciding which spotted objects trigger commentary"},

		&cli.StringFlag{Name: "journal", Value: d.JournalPath, EnvVars: []string{"ALZAR_JOURNAL"}, Usage: "SQLite commentary journal (empty disables)"},
		&cli.StringFlag{Name: "redis-url", Value: d.RedisURL, EnvVars: []string{"REDIS_URL"}, Usage: "Redis event relay (empty disables)"},
		&cli.StringFlag{Name: "redis-channel", Value: d.RedisChannel, EnvVars: []string{"ALZAR_REDIS_CHANNEL"}, Usage: "Redis pub/sub channel"},
		&cli.StringFlag{Name: "redis-history-key", Value: d.RedisHistoryKey, EnvVars: []string{"ALZAR_REDIS_HISTORY_KEY"}, Usage: "Redis list of recent commentary"},
	}
}

// loadConfig builds the server configuration from flag values. urfave/cli
// has already resolved environment variables and defaults.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.DefaultConfig()

	strs := map[string]*string{
		"addr":              &cfg.Addr,
		"static-dir":        &cfg.StaticDir,
		"log-level":         &cfg.LogLevel,
		"llm-base-url":      &cfg.LLMBaseURL,
		"llm-api-key":       &cfg.LLMAPIKey,
		"vision-model":      &cfg.VisionModel,
		"language-model":    &cfg.LanguageModel,
		"speech-model":      &cfg.SpeechModel,
		"speech-voice":      &cfg.SpeechVoice,
		"geocoder-url":      &cfg.GeocoderURL,
		"notable-rule":      &cfg.NotableRule,
		"journal":           &cfg.JournalPath,
		"redis-url":         &cfg.RedisURL,
		"redis-channel":     &cfg.RedisChannel,
		"redis-history-key": &cfg.RedisHistoryKey,
	}
	for name, dst := range strs {
		*dst = c.String(name)
	}

	cfg.LogMax = c.Int("log-max")
	cfg.ReplaySize = c.Int("replay-size")

	durations := map[string]*time.Duration{
		"tick-interval":      &cfg.TickInterval,
		"talkative-cooldown": &cfg.TalkativeCooldown,
		"normal-cooldown":    &cfg.NormalCooldown,
		"spotted-ttl":        &cfg.SpottedTTL,
		"liftoff-timeout":    &cfg.LiftoffTimeout,
		"landing-timeout":    &cfg.LandingTimeout,
		"stage-timeout":      &cfg.StageTimeout,
		"retry-delay":        &cfg.RetryDelay,
		"speech-timeout":     &cfg.SpeechTimeout,
		"frame-max-age":      &cfg.FrameMaxAge,
	}
	for name, dst := range durations {
		*dst = c.Duration(name)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// clientFlags are shared by the commands that talk to a running server.
func clientFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "server", Aliases: []string{"s"}, Value: "http://localhost:5000", EnvVars: []string{"ALZAR_SERVER"}, Usage: "Server base URL"},
		&cli.DurationFlag{Name: "timeout", Value: 10 * time.Second, Usage: "Request timeout"},
	}
}
