// Package progress reports page progress of multi-page recognition runs.
package progress

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/naocr/internal/recog"
)

// Reporter receives page progress of one run.
type Reporter interface {
	// Update is called with the number of finished pages.
	Update(done, total int)
	// Finish is called once with the outcome of the run.
	Finish(out recog.Outcome)
}

// Func adapts r to recog.FileOptions.OnProgress.
func Func(r Reporter) func(done, total int) {
	return r.Update
}

// Nop discards all progress.
type Nop struct{}

func (Nop) Update(int, int)      {}
func (Nop) Finish(recog.Outcome) {}

// Console draws a progress bar on a terminal.
type Console struct {
	writer   io.Writer
	prefix   string
	width  int
	now    func() time.Time

	mu      sync.Mutex
	started time.Time
	drawn   bool
}

// NewConsole creates a console reporter writing to w, or stderr if nil.
func NewConsole(w io.Writer, prefix string) *Console {
	if w == nil {
		w = os.Stderr
	}
	return &Console{writer: w, prefix: prefix, width: 40, now: time.Now}
}

// WithWidth sets the bar width. Non-positive widths keep the default.
func (c *Console) WithWidth(width int) *Console {
	if width > 0 {
		c.width = width
	}
	return c
}

func (c *Console) Update(done, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.started.IsZero() {
		c.started = now
	}
	if total <= 0 {
		return
	}
	c.drawn = true
	_, _ = fmt.Fprint(c.writer, c.line(done, total, now.Sub(c.started)))
}

func (c *Console) line(done, total int, elapsed time.Duration) string {
	done = min(max(done, 0), total)
	filled := c.width * done / total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", c.width-filled)
	status := fmt.Sprintf("\r%s[%s] %d/%d pages (%.1f%%)", c.prefix, bar, done, total, float64(done)/float64(total)*100)
	if done > 0 && elapsed > 0 {
		status += fmt.Sprintf(" %.2f pages/s", float64(done)/elapsed.Seconds())
	}
	return status
}

func (c *Console) Finish(out recog.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.drawn {
		_, _ = fmt.Fprintln(c.writer)
	}
	elapsed := time.Duration(0)
	if !c.started.IsZero() {
		elapsed = c.now().Sub(c.started).Round(time.Millisecond)
	}
	switch {
	case out.Err != nil:
		_, _ = fmt.Fprintf(c.writer, "%sFailed after %v: %v\n", c.prefix, elapsed, out.Err)
	case out.Result == nil:
		_, _ = fmt.Fprintf(c.writer, "%sAborted after %v\n", c.prefix, elapsed)
	default:
		_, _ = fmt.Fprintf(c.writer, "%sCompleted %d pages in %v\n", c.prefix, len(out.Offsets), elapsed)
	}
}

// Log reports progress through slog.
type Log struct {
	logger *slog.Logger
	level  slog.Level
	prefix string
	every  int

	mu   sync.Mutex
	last int
}

// NewLog creates a log reporter. A nil logger uses slog.Default.
func NewLog(logger *slog.Logger, level slog.Level, prefix string) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger, level: level, prefix: prefix, every: 1, last: -1}
}

// WithEvery logs only every n pages, plus the final one.
func (l *Log) WithEvery(n int) *Log {
	l.every = max(n, 1)
	return l
}

func (l *Log) Update(done, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last >= 0 && done-l.last < l.every && done != total {
		return
	}
	l.last = done
	l.logger.Log(nil, l.level, l.prefix+"Recognition progress", "done", done, "total", total)
}

func (l *Log) Finish(out recog.Outcome) {
	switch {
	case out.Err != nil:
		l.logger.Log(nil, slog.LevelError, l.prefix+"Recognition failed", "source", out.Source, "error", out.Err)
	case out.Result == nil:
		l.logger.Log(nil, l.level, l.prefix+"Recognition aborted", "source", out.Source)
	default:
		l.logger.Log(nil, l.level, l.prefix+"Recognition completed", "source", out.Source, "pages", len(out.Offsets), "text_len", out.Result.TextLen)
	}
}

// Multi fans progress out to several reporters.
type Multi struct {
	reporters []Reporter
}

// NewMulti combines reporters.
func NewMulti(reporters ...Reporter) *Multi {
	return &Multi{reporters: reporters}
}

func (m *Multi) Update(done, total int) {
	for _, r := range m.reporters {
		r.Update(done, total)
	}
}

func (m *Multi) Finish(out recog.Outcome) {
	for _, r := range m.reporters {
		r.Finish(out)
	}
}
