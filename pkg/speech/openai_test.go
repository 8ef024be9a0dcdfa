package speech

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type recordingPlayer struct {
	text   string
	format string
	audio  []byte
	err    error
}

func (p *recordingPlayer) PlayAudio(_ context.Context, text, format string, audio []byte) error {
	p.text, p.format, p.audio = text, format, audio
	return p.err
}

func newTestSynth(t *testing.T, player Player, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	o, err := NewOpenAI(player,
		WithBaseURL(server.URL),
		WithAPIKey("test-key"),
		WithRetry(1, time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}
	t.Cleanup(func() { o.Close() })
	return o
}

func TestNewOpenAIValidation(t *testing.T) {
	tests := []struct {
		name    string
		player  Player
		opts    []Option
		wantErr error
	}{
		{"no player", nil, []Option{WithAPIKey("k")}, ErrNoPlayer},
		{"no key", &recordingPlayer{}, nil, ErrNoAPIKey},
		{"no voice", &recordingPlayer{}, []Option{WithAPIKey("k"), WithVoice("")}, ErrNoVoice},
		{"bad speed", &recordingPlayer{}, []Option{WithAPIKey("k"), WithSpeed(9)}, ErrInvalidSpeed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewOpenAI(tt.player, tt.opts...); !errors.Is(err, tt.wantErr) {
				t.Errorf("NewOpenAI() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSpeakPlaysAudio(t *testing.T) {
	player := &recordingPlayer{}
	o := newTestSynth(t, player, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %s", auth)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["input"] != "Nice view." || body["voice"] != VoiceOnyx || body["model"] != ModelTTS1 {
			t.Errorf("payload = %v", body)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3fake"))
	})

	if err := o.Speak(context.Background(), "Nice view."); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if player.text != "Nice view." || player.format != FormatMP3 || string(player.audio) != "ID3fake" {
		t.Errorf("player got %q %q %q", player.text, player.format, player.audio)
	}
	if spoken, failures := o.Stats(); spoken != 1 || failures != 0 {
		t.Errorf("Stats() = %d, %d", spoken, failures)
	}
}

func TestSpeakPlayerError(t *testing.T) {
	playErr := errors.New("robot offline")
	o := newTestSynth(t, &recordingPlayer{err: playErr}, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ID3"))
	})

	if err := o.Speak(context.Background(), "hi"); !errors.Is(err, playErr) {
		t.Errorf("Speak() error = %v, want %v", err, playErr)
	}
	if _, failures := o.Stats(); failures != 1 {
		t.Errorf("failures = %d", failures)
	}
}

func TestSynthesizeRetries(t *testing.T) {
	var calls atomic.Int32
	o := newTestSynth(t, &recordingPlayer{}, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ID3"))
	})

	audio, err := o.Synthesize(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if string(audio) != "ID3" || calls.Load() != 2 {
		t.Errorf("audio %q after %d calls", audio, calls.Load())
	}
}

func TestSynthesizeAPIError(t *testing.T) {
	player := &recordingPlayer{}
	o := newTestSynth(t, player, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"input too long","code":"invalid_request"}}`))
	})

	err := o.Speak(context.Background(), "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Speak() error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != 400 || apiErr.Message != "input too long" || apiErr.IsRetryable() {
		t.Errorf("APIError = %+v", apiErr)
	}
	if player.audio != nil {
		t.Error("player should not be called on synthesis failure")
	}
}
