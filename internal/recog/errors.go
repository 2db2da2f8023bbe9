package recog

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineUnavailable is reported when the OCR engine cannot run on this host.
	ErrEngineUnavailable = errors.New("ocr engine not available")
	// ErrCurtainActive is reported when a screen curtain hides the screen content.
	ErrCurtainActive = errors.New("screen curtain active")
	// ErrAlreadyInResult is reported when focus is already inside a recognition result.
	ErrAlreadyInResult = errors.New("already in a recognition result")
	// ErrAborted marks a run that stopped because of Abort or preemption.
	ErrAborted = errors.New("recognition aborted")
)

// ConversionError reports that image info could not be built for the
// given dimensions.
type ConversionError struct {
	Width  int
	Height int
	Reason string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("image conversion error: %dx%d: %s", e.Width, e.Height, e.Reason)
}

// SubmissionError wraps a synchronous rejection by the engine.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("recognition submission failed: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// RecognitionError wraps a failure the engine delivered asynchronously.
// Page is the zero-based page index, or -1 for single-shot recognition.
type RecognitionError struct {
	Page int
	Err  error
}

func (e *RecognitionError) Error() string {
	if e.Page < 0 {
		return fmt.Sprintf("recognition failed: %v", e.Err)
	}
	return fmt.Sprintf("recognition of page %d failed: %v", e.Page+1, e.Err)
}

func (e *RecognitionError) Unwrap() error { return e.Err }
