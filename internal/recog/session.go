package recog

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/naocr/internal/imageio"
	"github.com/google/uuid"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// FileOptions configures one multi-page run.
type FileOptions struct {
	OnStart  func(source string)
	OnFinish func(Outcome)
	// OnProgress is called with the number of finished pages before each
	// submission attempt, at most once per ProgressInterval. It runs on
	// whichever goroutine drives the run, usually an engine goroutine.
	OnProgress       func(done, total int)
	ProgressInterval time.Duration
	Arg              any
}

// Outcome is delivered once per run. Result and Offsets are set on success,
// Err on failure; both nil means the run was aborted or had no pages.
type Outcome struct {
	Source  string
	Result  *Result
	Offsets []PageOffset
	Err     error
	Arg     any
}

// Aborted reports whether the run ended without a result or an error.
func (o Outcome) Aborted() bool { return o.Result == nil && o.Err == nil }

// SessionDeps bundles the host collaborators of a Session.
type SessionDeps struct {
	Engine     Engine
	Slot       *Slot
	Loader     ImageLoader
	Announcer  Announcer
	Dispatcher Dispatcher
	Observer   Observer
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Session recognizes an ordered list of page images one page at a time and
// merges the pages into one result.
type Session struct {
	deps SessionDeps

	mu  sync.Mutex
	run *run
}

// run holds the state of one RecognizeFiles call. Its mutable fields are
// only touched by the goroutine currently driving the page chain.
type run struct {
	id      string
	source  string
	opts    FileOptions
	total   int
	started time.Time
	// gen is the slot generation of the run's latest claim.
	gen uint64

	pending      []image.Image
	lines        []Line
	offsets      []PageOffset
	lastInfo     ImageInfo
	lastProgress time.Time

	aborted  atomic.Bool
	finished atomic.Bool
}

type submission int

const (
	submitted submission = iota
	exhausted
	aborted
	failed
)

// pageCompleted is the event that drives a run forward.
type pageCompleted struct {
	run    *run
	lease  *Lease
	page   int
	result *Result
	err    error
}

// NewSession wires a session. Observer, Logger and Clock may be nil.
func NewSession(deps SessionDeps) *Session {
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Session{deps: deps}
}

// State reports whether a run is in progress.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return StateIdle
	}
	return StateRunning
}

// Abort asks the current run to stop before its next page. The page being
// recognized is allowed to finish.
func (s *Session) Abort() {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r != nil {
		r.aborted.Store(true)
		s.deps.Logger.Debug("Abort requested", "run_id", r.id, "source", r.source)
	}
}

// RecognizeFiles starts recognizing images in order and returns once the
// first page has been submitted. opts.OnFinish is called exactly once.
func (s *Session) RecognizeFiles(source string, images []string, opts FileOptions) {
	d := s.deps
	if !d.Engine.Available() {
		d.Logger.Warn("OCR engine not available", "source", source)
		d.Announcer.Queue(MsgEngineUnavailable)
		d.Observer.RecognitionFinished(KindFiles, StatusRejected, 0)
		if opts.OnFinish != nil {
			opts.OnFinish(Outcome{Source: source, Arg: opts.Arg})
		}
		return
	}

	gen := d.Slot.CancelActive()

	now := d.Clock()
	r := &run{
		id:           uuid.NewString(),
		source:       source,
		opts:         opts,
		total:        len(images),
		started:      now,
		gen:          gen,
		lastProgress: now,
	}
	s.mu.Lock()
	prev := s.run
	s.run = r
	s.mu.Unlock()
	if prev != nil {
		prev.aborted.Store(true)
	}
	d.Observer.RecognitionStarted(KindFiles)

	r.pending = make([]image.Image, 0, len(images))
	for i, path := range images {
		img, err := d.Loader.Load(path)
		if err != nil {
			err = fmt.Errorf("loading page %d (%s): %w", i+1, path, err)
			d.Logger.Error(MsgRecognitionFailed, "run_id", r.id, "source", source, "error", err)
			s.finish(r, Outcome{Source: source, Err: err, Arg: opts.Arg}, StatusFailed, false)
			return
		}
		r.pending = append(r.pending, img)
	}
	d.Logger.Debug("Multi-page recognition started", "run_id", r.id, "source", source, "pages", r.total)

	if opts.OnStart != nil {
		opts.OnStart(source)
	}

	switch s.submitNext(r) {
	case submitted, failed:
	case aborted:
		s.finish(r, Outcome{Source: source, Arg: opts.Arg}, StatusAborted, false)
	case exhausted:
		s.finish(r, Outcome{Source: source, Arg: opts.Arg}, StatusRejected, false)
	}
}

// submitNext reports progress when due and submits the next pending page.
func (s *Session) submitNext(r *run) submission {
	if r.aborted.Load() {
		return aborted
	}

	remaining := len(r.pending)
	now := s.deps.Clock()
	if now.Sub(r.lastProgress) >= r.opts.ProgressInterval {
		r.lastProgress = now
		if r.opts.OnProgress != nil {
			r.opts.OnProgress(r.total-remaining, r.total)
		}
	}
	if remaining == 0 {
		return exhausted
	}

	page := r.total - remaining
	img := r.pending[0]
	r.pending[0] = nil
	r.pending = r.pending[1:]

	width, height := imageio.Dimensions(img)
	info, err := s.deps.Engine.ImageInfo(0, 0, width, height)
	if err != nil {
		s.handle(pageCompleted{run: r, page: page, err: err})
		return failed
	}
	pixels := imageio.PixelBuffer(img)

	ctx, lease, ok := s.deps.Slot.AcquireSince(context.Background(), string(KindFiles)+":"+r.source, r.gen)
	if !ok {
		s.deps.Logger.Debug("Run replaced by a newer recognition", "run_id", r.id, "page", page+1)
		return aborted
	}
	r.gen = lease.gen
	s.deps.Logger.Debug("Submitting page", "run_id", r.id, "page", page+1, "pages", r.total)
	err = s.deps.Engine.Recognize(ctx, pixels, info, func(res *Result, err error) {
		s.handle(pageCompleted{run: r, lease: lease, page: page, result: res, err: err})
	})
	if err != nil {
		s.handle(pageCompleted{run: r, lease: lease, page: page, err: &SubmissionError{Err: err}})
		return failed
	}
	return submitted
}

// handle processes one page completion. It may run on an engine goroutine,
// so user-visible effects go through the dispatcher.
func (s *Session) handle(ev pageCompleted) {
	r := ev.run
	d := s.deps
	if ev.lease != nil {
		ev.lease.Release()
	}

	if ev.err != nil {
		if errors.Is(ev.err, context.Canceled) {
			d.Logger.Debug("Page recognition preempted", "run_id", r.id, "page", ev.page+1)
			s.finish(r, Outcome{Source: r.source, Arg: r.opts.Arg}, StatusAborted, true)
			return
		}
		err := ev.err
		var convErr *ConversionError
		var subErr *SubmissionError
		if !errors.As(err, &convErr) && !errors.As(err, &subErr) {
			err = &RecognitionError{Page: ev.page, Err: err}
		}
		d.Logger.Error(MsgRecognitionFailed, "run_id", r.id, "source", r.source, "page", ev.page+1, "error", err)
		s.finish(r, Outcome{Source: r.source, Err: err, Arg: r.opts.Arg}, StatusFailed, true)
		return
	}

	start := 0
	if n := len(r.offsets); n > 0 {
		start = r.offsets[n-1].End
	}
	r.offsets = append(r.offsets, NewPageOffset(start, ev.result.TextLen))
	r.lines = append(r.lines, ev.result.Lines...)
	r.lastInfo = ev.result.Info
	d.Observer.PageRecognized(KindFiles, ev.result.TextLen)

	switch s.submitNext(r) {
	case submitted, failed:
	case aborted:
		s.finish(r, Outcome{Source: r.source, Arg: r.opts.Arg}, StatusAborted, true)
	case exhausted:
		combined := NewResult(r.lines, r.lastInfo)
		s.finish(r, Outcome{Source: r.source, Result: combined, Offsets: r.offsets, Arg: r.opts.Arg}, StatusSuccess, true)
	}
}

// finish delivers the outcome of r and resets the session. Failures are
// announced together with the delivery. Later calls for the same run are
// ignored.
func (s *Session) finish(r *run, out Outcome, status Status, deferred bool) {
	if !r.finished.CompareAndSwap(false, true) {
		return
	}
	elapsed := s.deps.Clock().Sub(r.started)
	s.deps.Observer.RecognitionFinished(KindFiles, status, elapsed)
	s.deps.Logger.Info("Multi-page recognition finished",
		"run_id", r.id,
		"source", r.source,
		"status", string(status),
		"pages", len(r.offsets),
		"elapsed", elapsed.Round(time.Millisecond),
	)

	deliver := func() {
		if status == StatusFailed {
			s.deps.Announcer.Queue(MsgRecognitionFailed)
		}
		if r.opts.OnFinish != nil {
			r.opts.OnFinish(out)
		}
		s.reset(r)
	}
	if deferred {
		s.deps.Dispatcher.Defer(deliver)
		return
	}
	deliver()
}

// reset returns the session to idle if r is still its current run.
func (s *Session) reset(r *run) {
	s.mu.Lock()
	if s.run == r {
		s.run = nil
	}
	s.mu.Unlock()
	r.pending = nil
	r.lines = nil
	r.offsets = nil
}
