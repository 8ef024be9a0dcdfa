// Package llm implements the vision and language capabilities of the
// observation pipeline on top of any OpenAI-compatible chat completions API
// (OpenAI, Ollama, vLLM, Together, Groq, etc.).
package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-alzar/internal/httpc"
	"github.com/teslashibe/go-alzar/internal/log"
	"github.com/teslashibe/go-alzar/pkg/observe"
)

// Client describes frames, writes commentary and extracts topics.
type Client struct {
	baseURL string
	config  *Config
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a new client. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		config:  cfg,
		http:    httpc.NewClient(cfg.Timeout),
		logger:  log.OrDefault(cfg.Logger, "llm"),
	}, nil
}

// Describe asks the vision model for a factual description of the frame.
func (c *Client) Describe(ctx context.Context, img observe.ImageRef, question string) (string, error) {
	if len(img.JPEG) == 0 {
		return "", ErrEmptyImage
	}

	content := []map[string]any{
		{
			"type": "image_url",
			"image_url": map[string]string{
				"url":    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img.JPEG),
				"detail": "low",
			},
		},
		{"type": "text", "text": describeText(question)},
	}

	return c.complete(ctx, map[string]any{
		"model": c.config.VisionModel,
		"messages": []map[string]any{
			{"role": "user", "content": content},
		},
		"max_tokens":  c.config.DescribeMaxTokens,
		"temperature": 0.2,
	})
}

// Generate writes one line of commentary, or observe.NothingNew.
func (c *Client) Generate(ctx context.Context, req observe.GenerateRequest) (string, error) {
	text, err := c.complete(ctx, map[string]any{
		"model": c.config.LanguageModel,
		"messages": []map[string]any{
			{"role": "system", "content": systemPrompt(req)},
			{"role": "user", "content": userPrompt(req)},
		},
		"max_tokens":  c.config.GenerateMaxTokens,
		"temperature": c.config.Temperature,
	})
	if err != nil {
		return "", err
	}
	return strings.Trim(text, `"`), nil
}

// ExtractTopic names the main subject of a commentary line in a few words.
func (c *Client) ExtractTopic(ctx context.Context, text string) (string, error) {
	topic, err := c.complete(ctx, map[string]any{
		"model": c.config.LanguageModel,
		"messages": []map[string]any{
			{"role": "user", "content": fmt.Sprintf(topicPrompt, text)},
		},
		"max_tokens":  10,
		"temperature": 0,
	})
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.Trim(topic, `"'. `)), nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// complete posts a chat completion and returns the first choice's text.
func (c *Client) complete(ctx context.Context, payload map[string]any) (string, error) {
	start := time.Now()

	resp, err := c.post(ctx, "/chat/completions", payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", ErrNoChoices
	}

	c.logger.Debug("completion",
		"model", result.Model,
		"tokens", result.Usage.TotalTokens,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

// post makes a POST request, retrying rate limits and server errors.
func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
		}

		req, err := httpc.NewJSONRequest(ctx, c.baseURL+path, payload)
		if err != nil {
			return nil, fmt.Errorf("llm: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("llm: %w", err)
			c.logger.Warn("request failed, retrying", "attempt", attempt+1, "error", err)
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
		c.logger.Warn("retrying request", "attempt", attempt+1, "status", resp.StatusCode)
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

// API response types
type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Verify Client implements the pipeline capabilities at compile time.
var (
	_ observe.VisionService   = (*Client)(nil)
	_ observe.LanguageService = (*Client)(nil)
	_ observe.TopicExtractor  = (*Client)(nil)
)
