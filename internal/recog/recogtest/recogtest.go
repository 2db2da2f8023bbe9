// Package recogtest provides deterministic fakes of the recog host ports.
package recogtest

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/naocr/internal/recog"
)

// ErrNoJob is returned by Engine.Next when no submission arrives in time.
var ErrNoJob = errors.New("recogtest: no job submitted")

// Job is one submitted recognition.
type Job struct {
	Index  int
	Pixels *image.NRGBA
	Info   recog.ImageInfo

	ctx  context.Context
	done func(*recog.Result, error)
	once sync.Once
	stop func() bool
}

// Complete delivers the job's result. Only the first delivery counts; later
// calls, including cancellation, are ignored.
func (j *Job) Complete(res *recog.Result, err error) bool {
	delivered := false
	j.once.Do(func() {
		delivered = true
		if j.stop != nil {
			j.stop()
		}
		j.done(res, err)
	})
	return delivered
}

// Cancelled reports whether the job's context has been cancelled.
func (j *Job) Cancelled() bool { return j.ctx.Err() != nil }

// Engine is a controllable recog.Engine. Without Script, submitted jobs wait
// for the test to complete them; with Script, each job completes on its own
// goroutine with the scripted result.
type Engine struct {
	Unavailable bool
	// InfoErr, when set, is returned by ImageInfo.
	InfoErr error
	// SubmitErr, when set, is consulted for each submission by index.
	SubmitErr func(index int) error
	// Script, when set, completes every job asynchronously.
	Script func(index int, info recog.ImageInfo) (*recog.Result, error)

	mu    sync.Mutex
	count int
	jobs  chan *Job
	all   []*Job
}

// NewEngine returns an available engine with manual job completion.
func NewEngine() *Engine {
	return &Engine{jobs: make(chan *Job, 256)}
}

func (e *Engine) Available() bool { return !e.Unavailable }

func (e *Engine) ImageInfo(left, top, width, height int) (recog.ImageInfo, error) {
	if e.InfoErr != nil {
		return recog.ImageInfo{}, e.InfoErr
	}
	return recog.NewImageInfo(left, top, width, height, 1)
}

func (e *Engine) Recognize(ctx context.Context, pixels *image.NRGBA, info recog.ImageInfo, done func(*recog.Result, error)) error {
	e.mu.Lock()
	idx := e.count
	e.count++
	e.mu.Unlock()

	if e.SubmitErr != nil {
		if err := e.SubmitErr(idx); err != nil {
			return err
		}
	}

	j := &Job{Index: idx, Pixels: pixels, Info: info, ctx: ctx, done: done}
	j.stop = context.AfterFunc(ctx, func() { j.Complete(nil, ctx.Err()) })

	e.mu.Lock()
	e.all = append(e.all, j)
	e.mu.Unlock()

	if e.Script != nil {
		go func() {
			res, err := e.Script(idx, info)
			j.Complete(res, err)
		}()
		return nil
	}
	e.jobs <- j
	return nil
}

// Next waits for the next manually completed submission.
func (e *Engine) Next(timeout time.Duration) (*Job, error) {
	select {
	case j := <-e.jobs:
		return j, nil
	case <-time.After(timeout):
		return nil, ErrNoJob
	}
}

// Submissions returns how many recognitions were submitted, including ones
// the engine rejected.
func (e *Engine) Submissions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

// Jobs returns every accepted job in submission order.
func (e *Engine) Jobs() []*Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Job(nil), e.all...)
}

// ResultOfLen returns a one-line result whose TextLen is n (n >= 1).
func ResultOfLen(n int) *recog.Result {
	if n < 1 {
		return recog.NewResult(nil, recog.ImageInfo{Width: 1, Height: 1, ResizeFactor: 1})
	}
	line := recog.Line{Words: []recog.Word{{Text: strings.Repeat("x", n-1)}}}
	return recog.NewResult([]recog.Line{line}, recog.ImageInfo{Width: 1, Height: 1, ResizeFactor: 1})
}

// PageResult builds a result with one line per entry, words split on spaces.
func PageResult(info recog.ImageInfo, lines ...string) *recog.Result {
	out := make([]recog.Line, 0, len(lines))
	for _, l := range lines {
		var words []recog.Word
		for _, w := range strings.Fields(l) {
			words = append(words, recog.Word{Text: w})
		}
		out = append(out, recog.Line{Words: words})
	}
	return recog.NewResult(out, info)
}

// Announcer records announcements.
type Announcer struct {
	mu     sync.Mutex
	said   []string
	queued []string
}

func (a *Announcer) Say(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.said = append(a.said, text)
}

func (a *Announcer) Queue(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queued = append(a.queued, text)
}

// Said returns the immediate announcements.
func (a *Announcer) Said() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.said...)
}

// Queued returns the queued announcements.
func (a *Announcer) Queued() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.queued...)
}

// Dispatcher holds deferred functions until Drain is called.
type Dispatcher struct {
	mu      sync.Mutex
	pending []func()
}

func (d *Dispatcher) Defer(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, fn)
}

// Pending returns the number of functions waiting to run.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Drain runs the deferred functions in order, including ones they defer.
func (d *Dispatcher) Drain() int {
	n := 0
	for {
		d.mu.Lock()
		if len(d.pending) == 0 {
			d.mu.Unlock()
			return n
		}
		fn := d.pending[0]
		d.pending = d.pending[1:]
		d.mu.Unlock()
		fn()
		n++
	}
}

// Loader returns a blank image for every path unless Errs names it.
type Loader struct {
	Size image.Point
	Errs map[string]error

	mu     sync.Mutex
	loaded []string
}

func (l *Loader) Load(path string) (image.Image, error) {
	l.mu.Lock()
	l.loaded = append(l.loaded, path)
	l.mu.Unlock()
	if err, ok := l.Errs[path]; ok {
		return nil, err
	}
	size := l.Size
	if size == (image.Point{}) {
		size = image.Pt(16, 8)
	}
	return image.NewNRGBA(image.Rectangle{Max: size}), nil
}

// Loaded returns the paths passed to Load.
func (l *Loader) Loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.loaded...)
}

// Host answers the focus, curtain, capture and acceptance ports.
type Host struct {
	InResult   bool
	Curtain    bool
	Shot       image.Image
	CaptureErr error

	mu       sync.Mutex
	accepted []*recog.Result
}

func (h *Host) InRecognitionResult() bool { return h.InResult }

func (h *Host) CurtainActive() bool { return h.Curtain }

func (h *Host) Capture() (image.Image, error) {
	if h.CaptureErr != nil {
		return nil, h.CaptureErr
	}
	if h.Shot != nil {
		return h.Shot, nil
	}
	return image.NewNRGBA(image.Rect(0, 0, 64, 48)), nil
}

func (h *Host) Accept(res *recog.Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.accepted = append(h.accepted, res)
}

// Accepted returns the results handed to Accept.
func (h *Host) Accepted() []*recog.Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*recog.Result(nil), h.accepted...)
}

// Observer records lifecycle notifications.
type Observer struct {
	mu       sync.Mutex
	Started  []recog.Kind
	Pages    []int
	Finished []recog.Status
}

func (o *Observer) RecognitionStarted(kind recog.Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Started = append(o.Started, kind)
}

func (o *Observer) PageRecognized(_ recog.Kind, textLen int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Pages = append(o.Pages, textLen)
}

func (o *Observer) RecognitionFinished(_ recog.Kind, status recog.Status, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Finished = append(o.Finished, status)
}

// Statuses returns a copy of the finished statuses.
func (o *Observer) Statuses() []recog.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]recog.Status(nil), o.Finished...)
}

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
