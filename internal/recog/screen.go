package recog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/naocr/internal/imageio"
)

// ScreenOptions configures one live-screen recognition.
type ScreenOptions struct {
	OnStart  func()
	OnFinish func(success bool, arg any)
	Arg      any
}

// ScreenDeps bundles the host collaborators of a ScreenRecognizer.
type ScreenDeps struct {
	Engine     Engine
	Slot       *Slot
	Capturer   ScreenCapturer
	Focus      FocusInspector
	Curtain    CurtainDetector
	Acceptor   ResultAcceptor
	Announcer  Announcer
	Dispatcher Dispatcher
	Observer   Observer
	Logger     *slog.Logger
}

// ScreenRecognizer recognizes a screenshot of the whole screen.
type ScreenRecognizer struct {
	deps ScreenDeps
}

// NewScreenRecognizer wires a recognizer. Observer and Logger may be nil.
func NewScreenRecognizer(deps ScreenDeps) *ScreenRecognizer {
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &ScreenRecognizer{deps: deps}
}

// RecognizeLiveScreen starts recognition of the current screen and returns
// immediately. It returns false when a precondition fails or the request
// could not be submitted; opts.OnFinish then reports the failure if the
// operation had already started.
func (r *ScreenRecognizer) RecognizeLiveScreen(opts ScreenOptions) bool {
	d := r.deps
	if err := r.checkPreconditions(); err != nil {
		d.Logger.Debug("Live screen recognition rejected", "reason", err)
		d.Observer.RecognitionFinished(KindScreen, StatusRejected, 0)
		return false
	}

	started := time.Now()
	d.Observer.RecognitionStarted(KindScreen)
	if opts.OnStart != nil {
		opts.OnStart()
	}

	finish := func(success bool) {
		if opts.OnFinish != nil {
			opts.OnFinish(success, opts.Arg)
		}
	}

	shot, err := d.Capturer.Capture()
	if err != nil {
		d.Logger.Error("Screen capture failed", "error", err)
		d.Announcer.Say(MsgCaptureFailed)
		d.Observer.RecognitionFinished(KindScreen, StatusFailed, time.Since(started))
		finish(false)
		return false
	}
	width, height := imageio.Dimensions(shot)
	info, err := d.Engine.ImageInfo(0, 0, width, height)
	if err != nil {
		d.Logger.Error("Image info conversion failed", "error", err, "width", width, "height", height)
		d.Announcer.Say(MsgConversionError)
		d.Observer.RecognitionFinished(KindScreen, StatusFailed, time.Since(started))
		finish(false)
		return false
	}
	pixels := imageio.PixelBuffer(shot)

	ctx, lease := d.Slot.Acquire(context.Background(), string(KindScreen))
	done := func(res *Result, err error) {
		if err != nil {
			lease.Release()
			if errors.Is(err, context.Canceled) {
				d.Logger.Debug("Live screen recognition preempted")
				d.Observer.RecognitionFinished(KindScreen, StatusAborted, time.Since(started))
				d.Dispatcher.Defer(func() { finish(false) })
				return
			}
			var subErr *SubmissionError
			if !errors.As(err, &subErr) {
				err = &RecognitionError{Page: -1, Err: err}
			}
			d.Logger.Error(MsgRecognitionFailed, "error", err)
			d.Observer.RecognitionFinished(KindScreen, StatusFailed, time.Since(started))
			d.Dispatcher.Defer(func() {
				d.Announcer.Queue(MsgRecognitionFailed)
				finish(false)
			})
			return
		}
		d.Observer.PageRecognized(KindScreen, res.TextLen)
		d.Dispatcher.Defer(func() {
			d.Acceptor.Accept(res)
			lease.Release()
			d.Observer.RecognitionFinished(KindScreen, StatusSuccess, time.Since(started))
			finish(true)
		})
	}

	if err := d.Engine.Recognize(ctx, pixels, info, done); err != nil {
		done(nil, &SubmissionError{Err: err})
		return false
	}
	return true
}

func (r *ScreenRecognizer) checkPreconditions() error {
	d := r.deps
	if d.Focus.InRecognitionResult() {
		d.Announcer.Say(MsgAlreadyInResult)
		return ErrAlreadyInResult
	}
	if !d.Engine.Available() {
		d.Announcer.Say(MsgEngineUnavailable)
		return ErrEngineUnavailable
	}
	if d.Curtain.CurtainActive() {
		d.Announcer.Say(MsgCurtainActive)
		return ErrCurtainActive
	}
	return nil
}
