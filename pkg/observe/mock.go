package observe

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-alzar/pkg/state"
)

// Mock implements every capability interface for testing.
// All methods can be customized via function fields.
type Mock struct {
	// CaptureFunc is called when Capture is invoked.
	// If nil, returns a tiny placeholder frame.
	CaptureFunc func(ctx context.Context, camera state.Camera) (ImageRef, error)

	// DescribeFunc is called when Describe is invoked.
	// If nil, returns a fixed description.
	DescribeFunc func(ctx context.Context, img ImageRef, question string) (string, error)

	// EnrichFunc is called when Enrich is invoked.
	// If nil, returns the description unchanged.
	EnrichFunc func(ctx context.Context, description string, fix *state.GPSFix) string

	// GenerateFunc is called when Generate is invoked.
	// If nil, echoes the enriched context.
	GenerateFunc func(ctx context.Context, req GenerateRequest) (string, error)

	// SpeakFunc is called when Speak is invoked.
	// If nil, returns nil.
	SpeakFunc func(ctx context.Context, text string) error

	// ExtractTopicFunc is called when ExtractTopic is invoked.
	// If nil, returns the first word of the text.
	ExtractTopicFunc func(ctx context.Context, text string) (string, error)

	// Tracking
	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation for verification.
type MockCall struct {
	Method string
	Arg    string
	Time   time.Time
}

// NewMock creates a mock with default behavior for every stage.
func NewMock() *Mock {
	return &Mock{}
}

// Capture implements CameraSource.
func (m *Mock) Capture(ctx context.Context, camera state.Camera) (ImageRef, error) {
	m.recordCall("Capture", string(camera))
	if m.CaptureFunc != nil {
		return m.CaptureFunc(ctx, camera)
	}
	return ImageRef{Camera: camera, JPEG: []byte{0xFF, 0xD8, 0xFF, 0xD9}, CapturedAt: time.Now(), FrameID: 1}, nil
}

// Describe implements VisionService.
func (m *Mock) Describe(ctx context.Context, img ImageRef, question string) (string, error) {
	m.recordCall("Describe", question)
	if m.DescribeFunc != nil {
		return m.DescribeFunc(ctx, img, question)
	}
	return "a quiet park with a bench", nil
}

// Enrich implements GeoContext.
func (m *Mock) Enrich(ctx context.Context, description string, fix *state.GPSFix) string {
	m.recordCall("Enrich", description)
	if m.EnrichFunc != nil {
		return m.EnrichFunc(ctx, description, fix)
	}
	return description
}

// Generate implements LanguageService.
func (m *Mock) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	m.recordCall("Generate", req.Context)
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return "Look, " + req.Context + ".", nil
}

// Speak implements SpeechOutput.
func (m *Mock) Speak(ctx context.Context, text string) error {
	m.recordCall("Speak", text)
	if m.SpeakFunc != nil {
		return m.SpeakFunc(ctx, text)
	}
	return nil
}

// ExtractTopic implements TopicExtractor.
func (m *Mock) ExtractTopic(ctx context.Context, text string) (string, error) {
	m.recordCall("ExtractTopic", text)
	if m.ExtractTopicFunc != nil {
		return m.ExtractTopicFunc(ctx, text)
	}
	for i, r := range text {
		if r == ' ' {
			return text[:i], nil
		}
	}
	return text, nil
}

// recordCall adds a call to the tracking list.
func (m *Mock) recordCall(method, arg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method: method,
		Arg:    arg,
		Time:   time.Now(),
	})
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of calls to a specific method.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Ensure Mock implements all capability interfaces.
var (
	_ CameraSource    = (*Mock)(nil)
	_ VisionService   = (*Mock)(nil)
	_ GeoContext      = (*Mock)(nil)
	_ LanguageService = (*Mock)(nil)
	_ SpeechOutput    = (*Mock)(nil)
	_ TopicExtractor  = (*Mock)(nil)
)
