package observe

import (
	"errors"
	"fmt"
)

// Sentinel errors for stage failures.
var (
	// ErrCaptureUnavailable is returned when no frame can be captured.
	ErrCaptureUnavailable = errors.New("observe: capture unavailable")

	// ErrVisionService is returned when the vision call fails.
	ErrVisionService = errors.New("observe: vision service error")

	// ErrGeneration is returned when language generation fails.
	ErrGeneration = errors.New("observe: generation error")

	// ErrSpeech is returned when speech dispatch fails.
	ErrSpeech = errors.New("observe: speech error")
)

// Stage names a pipeline stage.
type Stage string

const (
	StageCapture  Stage = "capture"
	StageDescribe Stage = "describe"
	StageEnrich   Stage = "enrich"
	StageGenerate Stage = "generate"
	StageSpeak    Stage = "speak"
)

// sentinel returns the error class for a stage.
func (s Stage) sentinel() error {
	switch s {
	case StageCapture:
		return ErrCaptureUnavailable
	case StageDescribe:
		return ErrVisionService
	case StageGenerate:
		return ErrGeneration
	case StageSpeak:
		return ErrSpeech
	}
	return nil
}

// systemMessage is the log line shown when a stage aborts the cycle.
func (s Stage) systemMessage() string {
	switch s {
	case StageCapture:
		return "camera unavailable"
	case StageDescribe:
		return "vision service unavailable"
	case StageGenerate:
		return "language service unavailable"
	case StageSpeak:
		return "speech output unavailable"
	}
	return string(s) + " failed"
}

// StageError wraps a stage failure with the number of attempts made.
// It matches both the stage's sentinel and the underlying cause.
type StageError struct {
	Stage    Stage
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("observe: %s failed after %d attempt(s): %v", e.Stage, e.Attempts, e.Err)
}

// Unwrap returns the stage sentinel and the cause.
func (e *StageError) Unwrap() []error {
	if s := e.Stage.sentinel(); s != nil {
		return []error{s, e.Err}
	}
	return []error{e.Err}
}
