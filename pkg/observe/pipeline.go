package observe

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-alzar/internal/log"
	"github.com/teslashibe/go-alzar/pkg/commentary"
)

// Default pipeline settings.
const (
	DefaultStageTimeout  = 20 * time.Second
	DefaultRetryDelay    = 500 * time.Millisecond
	DefaultSpeechTimeout = 30 * time.Second
	DefaultMaxTopics     = 20
	maxAttempts          = 2
)

// Deps are the collaborators a pipeline sequences. State, Log, Camera,
// Vision and Language are required; the rest are optional.
type Deps struct {
	State    StateReader
	Log      Appender
	Camera   CameraSource
	Vision   VisionService
	Language LanguageService

	Geo    GeoContext
	Speech SpeechOutput
	Topics TopicExtractor
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStageTimeout bounds each describe/generate attempt.
func WithStageTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.stageTimeout = d
		}
	}
}

// WithRetryDelay sets the pause before the single retry.
func WithRetryDelay(d time.Duration) Option {
	return func(p *Pipeline) {
		if d >= 0 {
			p.retryDelay = d
		}
	}
}

// WithSpeechTimeout bounds speech dispatch.
func WithSpeechTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.speechTimeout = d
		}
	}
}

// WithMaxTopics caps the covered-topic memory.
func WithMaxTopics(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxTopics = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// Pipeline runs observation cycles. It is safe for concurrent use, though the
// scheduler only ever runs one cycle at a time.
type Pipeline struct {
	deps          Deps
	stageTimeout  time.Duration
	retryDelay    time.Duration
	speechTimeout time.Duration
	maxTopics     int
	logger        *slog.Logger

	mu     sync.Mutex
	topics []string
}

// New creates a pipeline.
func New(deps Deps, opts ...Option) (*Pipeline, error) {
	switch {
	case deps.State == nil:
		return nil, errors.New("observe: state reader required")
	case deps.Log == nil:
		return nil, errors.New("observe: commentary log required")
	case deps.Camera == nil:
		return nil, errors.New("observe: camera source required")
	case deps.Vision == nil:
		return nil, errors.New("observe: vision service required")
	case deps.Language == nil:
		return nil, errors.New("observe: language service required")
	}

	p := &Pipeline{
		deps:          deps,
		stageTimeout:  DefaultStageTimeout,
		retryDelay:    DefaultRetryDelay,
		speechTimeout: DefaultSpeechTimeout,
		maxTopics:     DefaultMaxTopics,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = log.OrDefault(p.logger, "observe")
	return p, nil
}

// Run executes one cycle for t.
//
// A non-empty question is echoed as a user entry first. A fatal stage failure
// appends exactly one system entry and no companion entry. Success appends
// exactly one companion entry, then speaks it unless speech is disabled; a
// speech failure adds a system entry but the cycle still counts as completed.
// A generator answer of exactly NothingNew skips the cycle; for a question the
// skip is reported with a system entry.
// Cancellation ends the cycle without any entry.
func (p *Pipeline) Run(ctx context.Context, t Trigger) Outcome {
	start := time.Now()
	snap := p.deps.State.Snapshot()
	logger := p.logger.With("trigger", t.Kind)

	if t.Kind == KindQuestion && t.Question != "" {
		p.deps.Log.Append(commentary.SourceUser, t.Question)
	}

	img, err := p.deps.Camera.Capture(ctx, snap.Camera)
	if err != nil {
		return p.abort(ctx, logger, &StageError{Stage: StageCapture, Attempts: 1, Err: err})
	}

	description, err := p.retry(ctx, StageDescribe, func(ctx context.Context) (string, error) {
		return p.deps.Vision.Describe(ctx, img, t.Question)
	})
	if err != nil {
		return p.abort(ctx, logger, err)
	}

	enriched := description
	if p.deps.Geo != nil {
		enriched = p.deps.Geo.Enrich(ctx, description, snap.GPS)
	}

	req := GenerateRequest{
		Description:   description,
		Context:       enriched,
		Question:      t.Question,
		Mode:          snap.Mode,
		Trigger:       t,
		CoveredTopics: p.Topics(),
	}
	text, err := p.retry(ctx, StageGenerate, func(ctx context.Context) (string, error) {
		return p.deps.Language.Generate(ctx, req)
	})
	if err != nil {
		return p.abort(ctx, logger, err)
	}

	if ctx.Err() != nil {
		return Outcome{Status: StatusCanceled, Err: ctx.Err()}
	}
	text = strings.TrimSpace(text)
	if text == "" || text == NothingNew {
		logger.Debug("nothing new to say", "elapsed", time.Since(start))
		if t.Kind == KindQuestion {
			// a question always gets a visible reply
			p.deps.Log.Append(commentary.SourceSystem, MsgNothingToAdd)
		}
		return Outcome{Status: StatusSkipped}
	}

	entry := p.deps.Log.Append(commentary.SourceCompanion, text)
	out := Outcome{Status: StatusCompleted, Entry: &entry}
	out.Topic = p.recordTopic(ctx, logger, text)

	// mute may have been toggled while the cycle ran
	if p.deps.Speech != nil && p.deps.State.Snapshot().TTSEnabled {
		sctx, cancel := context.WithTimeout(ctx, p.speechTimeout)
		err := p.deps.Speech.Speak(sctx, text)
		cancel()
		if err != nil {
			logger.Warn("speech failed", "error", err)
			p.deps.Log.Append(commentary.SourceSystem, StageSpeak.systemMessage())
			out.Err = &StageError{Stage: StageSpeak, Attempts: 1, Err: err}
		} else {
			out.Spoke = true
		}
	}

	logger.Info("cycle completed", "entry", entry.ID, "spoke", out.Spoke, "elapsed", time.Since(start))
	return out
}

// retry runs fn up to twice, pausing retryDelay between attempts.
func (p *Pipeline) retry(ctx context.Context, stage Stage, fn func(context.Context) (string, error)) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(p.retryDelay):
			case <-ctx.Done():
				return "", &StageError{Stage: stage, Attempts: attempt - 1, Err: ctx.Err()}
			}
		}

		actx, cancel := context.WithTimeout(ctx, p.stageTimeout)
		out, err := fn(actx)
		cancel()
		if err == nil {
			return out, nil
		}
		lastErr = err
		p.logger.Warn("stage attempt failed", "stage", stage, "attempt", attempt, "error", err)
		if ctx.Err() != nil {
			return "", &StageError{Stage: stage, Attempts: attempt, Err: ctx.Err()}
		}
	}
	return "", &StageError{Stage: stage, Attempts: maxAttempts, Err: lastErr}
}

// abort records a fatal stage failure. A canceled cycle records nothing.
func (p *Pipeline) abort(ctx context.Context, logger *slog.Logger, err error) Outcome {
	if ctx.Err() != nil {
		logger.Info("cycle canceled", "error", err)
		return Outcome{Status: StatusCanceled, Err: err}
	}
	var se *StageError
	msg := "observation failed"
	if errors.As(err, &se) {
		msg = se.Stage.systemMessage()
	}
	logger.Warn("cycle aborted", "error", err)
	p.deps.Log.Append(commentary.SourceSystem, msg)
	return Outcome{Status: StatusFailed, Err: err}
}

func (p *Pipeline) recordTopic(ctx context.Context, logger *slog.Logger, text string) string {
	if p.deps.Topics == nil {
		return ""
	}
	tctx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()
	topic, err := p.deps.Topics.ExtractTopic(tctx, text)
	if err != nil {
		logger.Debug("topic extraction failed", "error", err)
		return ""
	}
	topic = strings.ToLower(strings.TrimSpace(topic))
	if topic == "" {
		return ""
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.topics {
		if t == topic {
			return topic
		}
	}
	p.topics = append(p.topics, topic)
	if over := len(p.topics) - p.maxTopics; over > 0 {
		p.topics = append([]string(nil), p.topics[over:]...)
	}
	return topic
}

// Topics returns the covered topics, oldest first.
func (p *Pipeline) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

// ResetTopics forgets every covered topic.
func (p *Pipeline) ResetTopics() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = nil
}
