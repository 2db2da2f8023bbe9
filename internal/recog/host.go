package recog

import (
	"context"
	"image"
	"time"
)

// Engine performs single-image recognition.
//
// Recognize returns an error when the engine rejects the request outright;
// done is then never called. Otherwise done is called exactly once, usually
// from a goroutine owned by the engine. When ctx is cancelled before the
// result is delivered, done receives ctx.Err().
type Engine interface {
	Available() bool
	ImageInfo(left, top, width, height int) (ImageInfo, error)
	Recognize(ctx context.Context, pixels *image.NRGBA, info ImageInfo, done func(*Result, error)) error
}

// Announcer delivers user-facing messages.
type Announcer interface {
	// Say interrupts and speaks text immediately.
	Say(text string)
	// Queue speaks text after whatever is currently being spoken.
	Queue(text string)
}

// Dispatcher runs functions on the host's single UI goroutine.
type Dispatcher interface {
	Defer(fn func())
}

// ImageLoader decodes page images.
type ImageLoader interface {
	Load(path string) (image.Image, error)
}

// ScreenCapturer takes a screenshot of the whole screen.
type ScreenCapturer interface {
	Capture() (image.Image, error)
}

// FocusInspector reports whether focus is inside a recognition result view.
type FocusInspector interface {
	InRecognitionResult() bool
}

// CurtainDetector reports whether a screen curtain is active.
type CurtainDetector interface {
	CurtainActive() bool
}

// ResultAcceptor presents a successful single-shot result to the user.
type ResultAcceptor interface {
	Accept(res *Result)
}

// Kind distinguishes the two recognition flavours in observations.
type Kind string

const (
	KindScreen Kind = "screen"
	KindFiles  Kind = "files"
)

// Status is the terminal status of a recognition.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusAborted  Status = "aborted"
	StatusRejected Status = "rejected"
)

// Observer receives lifecycle notifications, typically for metrics.
type Observer interface {
	RecognitionStarted(kind Kind)
	PageRecognized(kind Kind, textLen int)
	RecognitionFinished(kind Kind, status Status, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) RecognitionStarted(Kind)                         {}
func (nopObserver) PageRecognized(Kind, int)                        {}
func (nopObserver) RecognitionFinished(Kind, Status, time.Duration) {}

// User-facing messages.
const (
	MsgAlreadyInResult   = "Already in a content recognition result"
	MsgEngineUnavailable = "OCR engine not available"
	MsgCurtainActive     = "Please disable screen curtain before using OCR."
	MsgConversionError   = "Internal conversion error"
	MsgCaptureFailed     = "Screen capture failed"
	MsgRecognitionFailed = "Recognition failed"
)
