// Package observe runs one observation cycle:
//
//	capture -> describe -> enrich -> generate -> speak
//
// Each stage is a capability interface supplied by a collaborator. Describe
// and generate are retried once; enrichment and speech are best-effort.
package observe

import (
	"context"
	"time"

	"github.com/teslashibe/go-alzar/pkg/commentary"
	"github.com/teslashibe/go-alzar/pkg/state"
)

// Kind is the origin of a cycle request.
type Kind string

const (
	KindTimer    Kind = "timer"
	KindQuestion Kind = "question"
	KindSpotted  Kind = "spotted"
)

// Trigger is the event that requests a cycle.
type Trigger struct {
	Kind     Kind   `json:"kind"`
	Question string `json:"question,omitempty"`
	Label    string `json:"label,omitempty"` // spotted object, if any
}

// Timer returns a timer-tick trigger.
func Timer() Trigger {
	return Trigger{Kind: KindTimer}
}

// Question returns a user-question trigger. An empty question asks for
// commentary on whatever is in view.
func Question(q string) Trigger {
	return Trigger{Kind: KindQuestion, Question: q}
}

// Spotted returns a spotted-object trigger.
func Spotted(label string) Trigger {
	return Trigger{Kind: KindSpotted, Label: label}
}

// Automatic reports whether the trigger was not initiated by a user.
func (t Trigger) Automatic() bool {
	return t.Kind != KindQuestion
}

// ImageRef references one captured frame.
type ImageRef struct {
	Camera     state.Camera
	JPEG       []byte
	CapturedAt time.Time
	FrameID    uint64
}

// CameraSource captures a frame from the selected camera.
// It returns an error wrapping ErrCaptureUnavailable when no frame is available.
type CameraSource interface {
	Capture(ctx context.Context, camera state.Camera) (ImageRef, error)
}

// VisionService describes an image, optionally answering a question about it.
type VisionService interface {
	Describe(ctx context.Context, img ImageRef, question string) (string, error)
}

// GeoContext adds location context to a description. It never fails; on any
// problem it returns the description unchanged.
type GeoContext interface {
	Enrich(ctx context.Context, description string, fix *state.GPSFix) string
}

// GenerateRequest is everything the language stage sees.
type GenerateRequest struct {
	Description   string // raw vision output
	Context       string // description after enrichment
	Question      string
	Mode          state.Mode
	Trigger       Trigger
	CoveredTopics []string
}

// LanguageService turns an enriched description into commentary.
// Returning NothingNew means there is nothing worth saying.
type LanguageService interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// SpeechOutput speaks a line of commentary.
type SpeechOutput interface {
	Speak(ctx context.Context, text string) error
}

// TopicExtractor reduces a commentary line to a short subject used for dedup.
type TopicExtractor interface {
	ExtractTopic(ctx context.Context, text string) (string, error)
}

// StateReader provides point-in-time state snapshots.
type StateReader interface {
	Snapshot() state.RobotState
}

// Appender appends entries to the commentary log.
type Appender interface {
	Append(src commentary.Source, text string) commentary.Entry
}

// NothingNew is the sentinel generator answer for "nothing worth saying".
const NothingNew = "NOTHING_NEW"

// MsgNothingToAdd answers a question the generator had nothing new for.
const MsgNothingToAdd = "Nothing new to add about that."

// Status is the terminal status of a cycle.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Outcome reports how a cycle ended.
type Outcome struct {
	Status Status
	Entry  *commentary.Entry // companion entry on success
	Topic  string
	Spoke  bool
	Err    error // *StageError on failure, speech error on a completed cycle
}

// Succeeded reports whether the cycle produced a companion entry.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusCompleted
}
