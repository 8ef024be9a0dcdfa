package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-alzar/pkg/observe"
	"github.com/teslashibe/go-alzar/pkg/state"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
	MaxTokens int `json:"max_tokens"`
}

func reply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"model":"test-model","choices":[{"message":{"role":"assistant","content":%q},"finish_reason":"stop"}],"usage":{"total_tokens":12}}`, content)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(
		WithBaseURL(server.URL+"/"),
		WithAPIKey("test-key"),
		WithRetry(2, time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("NewClient() error = %v, want ErrNoAPIKey", err)
	}
	if _, err := NewClient(WithAPIKey("k"), WithVisionModel("")); !errors.Is(err, ErrNoModel) {
		t.Errorf("NewClient() error = %v, want ErrNoModel", err)
	}
}

func TestDescribe(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected /chat/completions, got %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Expected Bearer test-key, got %s", auth)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
			return
		}
		if req.Model != "gpt-4o-mini" {
			t.Errorf("model = %s", req.Model)
		}
		content := string(req.Messages[0].Content)
		if !strings.Contains(content, "data:image/jpeg;base64,/9j/") {
			t.Errorf("image data URL missing from %s", content)
		}
		if !strings.Contains(content, "what is that tower?") {
			t.Errorf("question missing from %s", content)
		}
		reply(w, "  A stone clock tower under grey skies.  ")
	})

	img := observe.ImageRef{Camera: state.CameraGround, JPEG: []byte{0xFF, 0xD8, 0xFF, 0xE0}}
	got, err := client.Describe(context.Background(), img, "what is that tower?")
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if got != "A stone clock tower under grey skies." {
		t.Errorf("Describe() = %q", got)
	}
}

func TestDescribeEmptyImage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	if _, err := client.Describe(context.Background(), observe.ImageRef{}, ""); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("Describe() error = %v, want ErrEmptyImage", err)
	}
}

func TestGeneratePrompts(t *testing.T) {
	tests := []struct {
		name       string
		req        observe.GenerateRequest
		wantSystem []string
		wantUser   []string
		noSystem   []string
	}{
		{
			name: "covered topics on timer",
			req: observe.GenerateRequest{
				Context:       "A market square. Location: Lisbon",
				Mode:          state.ModeNormal,
				Trigger:       observe.Timer(),
				CoveredTopics: []string{"clock tower", "tram"},
			},
			wantSystem: []string{"clock tower, tram", observe.NothingNew},
			wantUser:   []string{"Lisbon", "haven't mentioned"},
		},
		{
			name: "question never offers nothing new",
			req: observe.GenerateRequest{
				Description:   "A bridge.",
				Question:      "how old is it?",
				Mode:          state.ModeQuiet,
				Trigger:       observe.Question("how old is it?"),
				CoveredTopics: []string{"bridge"},
			},
			wantSystem: []string{"quiet mode"},
			wantUser:   []string{"A bridge.", "how old is it?"},
			noSystem:   []string{observe.NothingNew},
		},
		{
			name: "spotted label",
			req: observe.GenerateRequest{
				Description: "A pond.",
				Mode:        state.ModeTalkative,
				Trigger:     observe.Spotted("heron"),
			},
			wantSystem: []string{"talkative mode"},
			wantUser:   []string{"A heron was just spotted"},
			noSystem:   []string{observe.NothingNew},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var system, user string
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				var req chatRequest
				json.NewDecoder(r.Body).Decode(&req)
				json.Unmarshal(req.Messages[0].Content, &system)
				json.Unmarshal(req.Messages[1].Content, &user)
				reply(w, `"Lovely light on the water."`)
			})

			got, err := client.Generate(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			if got != "Lovely light on the water." {
				t.Errorf("Generate() = %q", got)
			}
			for _, s := range tt.wantSystem {
				if !strings.Contains(system, s) {
					t.Errorf("system prompt missing %q", s)
				}
			}
			for _, s := range tt.noSystem {
				if strings.Contains(system, s) {
					t.Errorf("system prompt should not contain %q", s)
				}
			}
			for _, s := range tt.wantUser {
				if !strings.Contains(user, s) {
					t.Errorf("user prompt %q missing %q", user, s)
				}
			}
		})
	}
}

func TestExtractTopic(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.MaxTokens != 10 {
			t.Errorf("max_tokens = %d", req.MaxTokens)
		}
		reply(w, `"Clock Tower."`)
	})

	got, err := client.ExtractTopic(context.Background(), "That clock tower has seen better days.")
	if err != nil {
		t.Fatal(err)
	}
	if got != "clock tower" {
		t.Errorf("ExtractTopic() = %q, want clock tower", got)
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		reply(w, "ok")
	})

	got, err := client.ExtractTopic(context.Background(), "x")
	if err != nil {
		t.Fatalf("ExtractTopic() error = %v", err)
	}
	if got != "ok" || calls.Load() != 2 {
		t.Errorf("got %q after %d calls", got, calls.Load())
	}
}

func TestAPIErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","code":"invalid_api_key"}}`))
	})

	_, err := client.Generate(context.Background(), observe.GenerateRequest{Description: "x"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if !apiErr.IsUnauthorized() || apiErr.IsRetryable() || apiErr.Code != "invalid_api_key" {
		t.Errorf("APIError = %+v", apiErr)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.ExtractTopic(context.Background(), "x")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.IsRateLimited() {
		t.Fatalf("error = %v, want rate limit", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestNoChoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	})
	if _, err := client.ExtractTopic(context.Background(), "x"); !errors.Is(err, ErrNoChoices) {
		t.Errorf("error = %v, want ErrNoChoices", err)
	}
}
