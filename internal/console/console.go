// Package console provides command line implementations of the recog host
// ports.
package console

import (
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/MeKo-Tech/naocr/internal/imageio"
	"github.com/MeKo-Tech/naocr/internal/output"
	"github.com/MeKo-Tech/naocr/internal/recog"
)

// Announcer writes user-facing messages to a writer, one per line. Say and
// Queue only differ in the log record they emit.
type Announcer struct {
	w      io.Writer
	logger *slog.Logger
	mu     sync.Mutex
}

// NewAnnouncer writes to w, or stderr when w is nil.
func NewAnnouncer(w io.Writer, logger *slog.Logger) *Announcer {
	if w == nil {
		w = os.Stderr
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Announcer{w: w, logger: logger}
}

func (a *Announcer) Say(text string) {
	a.logger.Debug("Announcement", "mode", "say", "text", text)
	a.write(text)
}

func (a *Announcer) Queue(text string) {
	a.logger.Debug("Announcement", "mode", "queue", "text", text)
	a.write(text)
}

func (a *Announcer) write(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = fmt.Fprintln(a.w, text)
}

// FileCapture stands in for a screen grabber by loading an image file.
type FileCapture struct {
	Path string
}

// Capture decodes the configured image.
func (c FileCapture) Capture() (image.Image, error) {
	img, _, err := imageio.LoadImage(c.Path)
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", c.Path, err)
	}
	return img, nil
}

// NoCurtain reports that no screen curtain is active.
type NoCurtain struct{}

func (NoCurtain) CurtainActive() bool { return false }

// NoFocus reports that focus is never inside a recognition result.
type NoFocus struct{}

func (NoFocus) InRecognitionResult() bool { return false }

// Printer renders accepted results to a writer.
type Printer struct {
	w      io.Writer
	format string
	source string

	mu  sync.Mutex
	err error
}

// NewPrinter renders in format, one of output.Formats.
func NewPrinter(w io.Writer, format, source string) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{w: w, format: format, source: source}
}

// Accept prints a single-image result.
func (p *Printer) Accept(res *recog.Result) {
	p.print(p.source, res, nil)
}

// PrintOutcome prints the merged result of a multi-page run.
func (p *Printer) PrintOutcome(out recog.Outcome) error {
	if out.Result == nil {
		return nil
	}
	p.print(out.Source, out.Result, out.Offsets)
	return p.Err()
}

// Err returns the first rendering or write error.
func (p *Printer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Printer) print(source string, res *recog.Result, offsets []recog.PageOffset) {
	p.mu.Lock()
	defer p.mu.Unlock()

	doc, err := output.NewDocument(source, res, offsets)
	if err == nil {
		var s string
		if s, err = output.Render(doc, p.format); err == nil {
			_, err = fmt.Fprintln(p.w, s)
		}
	}
	if err != nil && p.err == nil {
		p.err = err
	}
}
