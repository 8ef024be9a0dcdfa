// Package speech voices commentary. Text is synthesized with an
// OpenAI-compatible /audio/speech endpoint and the resulting audio is handed
// to a Player, normally the robot link.
package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-alzar/internal/httpc"
	"github.com/teslashibe/go-alzar/internal/log"
	"github.com/teslashibe/go-alzar/pkg/observe"
)

// Player plays synthesized audio.
type Player interface {
	PlayAudio(ctx context.Context, text, format string, audio []byte) error
}

// OpenAI implements observe.SpeechOutput with OpenAI TTS.
type OpenAI struct {
	config  *Config
	player  Player
	client  *http.Client
	logger  *slog.Logger
	baseURL string

	spoken   atomic.Uint64
	failures atomic.Uint64
}

// NewOpenAI creates a synthesizer that plays through player.
func NewOpenAI(player Player, opts ...Option) (*OpenAI, error) {
	if player == nil {
		return nil, ErrNoPlayer
	}
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &OpenAI{
		config:  cfg,
		player:  player,
		client:  httpc.NewClient(cfg.Timeout),
		logger:  log.OrDefault(cfg.Logger, "speech"),
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
	}, nil
}

// Speak synthesizes text and plays it.
func (o *OpenAI) Speak(ctx context.Context, text string) error {
	audio, err := o.Synthesize(ctx, text)
	if err == nil {
		err = o.player.PlayAudio(ctx, text, FormatMP3, audio)
	}
	if err != nil {
		o.failures.Add(1)
		return err
	}
	o.spoken.Add(1)
	return nil
}

// Synthesize converts text to MP3 audio.
func (o *OpenAI) Synthesize(ctx context.Context, text string) ([]byte, error) {
	start := time.Now()

	payload := map[string]any{
		"model":           o.config.Model,
		"voice":           o.config.Voice,
		"input":           text,
		"response_format": FormatMP3,
	}
	if o.config.Speed != 0 {
		payload["speed"] = o.config.Speed
	}

	resp, err := o.doWithRetry(ctx, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("speech: read response: %w", err)
	}

	o.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", time.Since(start).Milliseconds(),
		"voice", o.config.Voice,
	)
	return audio, nil
}

// Stats reports how many lines were spoken and how many failed.
func (o *OpenAI) Stats() (spoken, failures uint64) {
	return o.spoken.Load(), o.failures.Load()
}

// Close releases resources.
func (o *OpenAI) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

// doWithRetry performs the request with retry logic.
func (o *OpenAI) doWithRetry(ctx context.Context, payload map[string]any) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= o.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(o.config.RetryDelay * time.Duration(attempt)):
			}
		}

		req, err := httpc.NewJSONRequest(ctx, o.baseURL+"/audio/speech", payload)
		if err != nil {
			return nil, fmt.Errorf("speech: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+o.config.APIKey)

		resp, err := o.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("speech: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		apiErr := parseError(resp)
		resp.Body.Close()
		if !apiErr.IsRetryable() {
			return nil, apiErr
		}
		lastErr = apiErr
		o.logger.Warn("retrying request",
			"attempt", attempt+1,
			"status", resp.StatusCode,
		)
	}

	return nil, lastErr
}

// parseError reads and parses an error response.
func parseError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		apiErr.Message = errResp.Error.Message
		apiErr.Code = errResp.Error.Code
	}
	return apiErr
}

// Verify OpenAI implements SpeechOutput at compile time.
var _ observe.SpeechOutput = (*OpenAI)(nil)
