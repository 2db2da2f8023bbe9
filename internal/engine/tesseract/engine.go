// Package tesseract adapts a Tesseract OCR backend to the asynchronous
// recog.Engine contract.
package tesseract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/MeKo-Tech/naocr/internal/recog"
	"github.com/disintegration/imaging"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Options configures the engine.
type Options struct {
	// Language is a "+" separated list of BCP 47 tags or tesseract codes.
	Language       string
	TessdataPrefix string
	// Images whose longer side is below MinDimension are scaled up to it and
	// images above MaxDimension are scaled down. Zero disables either bound.
	MinDimension int
	MaxDimension int
	PageSegMode  int
	Logger       *slog.Logger
}

// DefaultOptions returns the defaults used by the CLI.
func DefaultOptions() Options {
	return Options{
		Language:     "eng",
		MinDimension: 1000,
		MaxDimension: 4000,
		PageSegMode:  3,
	}
}

// box is one word as reported by the backend, in backend image coordinates.
type box struct {
	Text       string
	Rect       image.Rectangle
	Confidence float64
	Block      int
	Par        int
	Line       int
	Word       int
}

// request carries one page to the backend.
type request struct {
	PNG            []byte
	Languages      string
	TessdataPrefix string
	PageSegMode    int
}

type backend interface {
	available() (string, bool)
	words(req request) ([]box, error)
}

// Engine runs each recognition on its own goroutine.
type Engine struct {
	opts      Options
	languages string
	logger    *slog.Logger
	backend   backend

	probe     sync.Once
	available bool
}

// New builds an engine. Languages are validated eagerly.
func New(opts Options) (*Engine, error) {
	return newWithBackend(opts, defaultBackend())
}

func newWithBackend(opts Options, b backend) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Language == "" {
		opts.Language = "eng"
	}
	if opts.MinDimension < 0 || opts.MaxDimension < 0 {
		return nil, fmt.Errorf("invalid dimension bounds: min=%d max=%d", opts.MinDimension, opts.MaxDimension)
	}
	if opts.MaxDimension > 0 && opts.MinDimension > opts.MaxDimension {
		return nil, fmt.Errorf("min_dimension %d exceeds max_dimension %d", opts.MinDimension, opts.MaxDimension)
	}
	langs, err := Languages(opts.Language)
	if err != nil {
		return nil, err
	}
	return &Engine{opts: opts, languages: langs, logger: opts.Logger, backend: b}, nil
}

// Languages converts a "+" separated language list into tesseract codes.
// BCP 47 tags map to their ISO 639-3 code; codes containing an underscore
// (such as chi_sim) are passed through.
func Languages(list string) (string, error) {
	parts := strings.Split(list, "+")
	codes := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.Contains(p, "_") {
			codes = append(codes, p)
			continue
		}
		tag, err := language.Parse(p)
		if err != nil {
			return "", fmt.Errorf("invalid OCR language %q: %w", p, err)
		}
		base, _ := tag.Base()
		codes = append(codes, base.ISO3())
	}
	if len(codes) == 0 {
		return "", errors.New("no OCR language configured")
	}
	return strings.Join(codes, "+"), nil
}

// Available reports whether the backend can run. The result is probed once.
func (e *Engine) Available() bool {
	e.probe.Do(func() {
		version, ok := e.backend.available()
		e.available = ok
		if ok {
			e.logger.Debug("Tesseract backend available", "version", version, "languages", e.languages)
		} else {
			e.logger.Warn("Tesseract backend not available")
		}
	})
	return e.available
}

// ImageInfo returns the geometry of a recognition together with the factor
// the image will be scaled by.
func (e *Engine) ImageInfo(left, top, width, height int) (recog.ImageInfo, error) {
	return recog.NewImageInfo(left, top, width, height, e.resizeFactor(width, height))
}

func (e *Engine) resizeFactor(width, height int) float64 {
	longer := max(width, height)
	if longer <= 0 {
		return 1
	}
	if e.opts.MinDimension > 0 && longer < e.opts.MinDimension {
		return float64(e.opts.MinDimension) / float64(longer)
	}
	if e.opts.MaxDimension > 0 && longer > e.opts.MaxDimension {
		return float64(e.opts.MaxDimension) / float64(longer)
	}
	return 1
}

// Recognize starts recognition of pixels and returns immediately. done is
// called exactly once; if ctx is cancelled first it receives ctx.Err() and
// the backend result is discarded.
func (e *Engine) Recognize(ctx context.Context, pixels *image.NRGBA, info recog.ImageInfo, done func(*recog.Result, error)) error {
	if !e.Available() {
		return recog.ErrEngineUnavailable
	}
	if pixels == nil || pixels.Bounds().Empty() {
		return &recog.ConversionError{Reason: "empty pixel buffer"}
	}
	if info.ResizeFactor <= 0 {
		return &recog.ConversionError{Width: info.Width, Height: info.Height, Reason: "non-positive resize factor"}
	}

	var once sync.Once
	deliver := func(res *recog.Result, err error) {
		once.Do(func() { done(res, err) })
	}
	stop := context.AfterFunc(ctx, func() { deliver(nil, ctx.Err()) })

	go func() {
		res, err := e.recognize(pixels, info)
		stop()
		if ctx.Err() != nil {
			deliver(nil, ctx.Err())
			return
		}
		deliver(res, err)
	}()
	return nil
}

func (e *Engine) recognize(pixels *image.NRGBA, info recog.ImageInfo) (*recog.Result, error) {
	img := image.Image(pixels)
	if info.ResizeFactor != 1 {
		w := int(float64(pixels.Bounds().Dx())*info.ResizeFactor + 0.5)
		h := int(float64(pixels.Bounds().Dy())*info.ResizeFactor + 0.5)
		img = imaging.Resize(pixels, max(w, 1), max(h, 1), imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode page image: %w", err)
	}

	boxes, err := e.backend.words(request{
		PNG:            buf.Bytes(),
		Languages:      e.languages,
		TessdataPrefix: e.opts.TessdataPrefix,
		PageSegMode:    e.opts.PageSegMode,
	})
	if err != nil {
		return nil, err
	}
	return recog.NewResult(groupLines(boxes, info), info), nil
}

// groupLines orders words by block, paragraph, line and word number and maps
// their boxes back to the original image coordinates.
func groupLines(boxes []box, info recog.ImageInfo) []recog.Line {
	sorted := make([]box, 0, len(boxes))
	for _, b := range boxes {
		b.Text = norm.NFC.String(strings.TrimSpace(b.Text))
		if b.Text != "" {
			sorted = append(sorted, b)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Block != b.Block {
			return a.Block < b.Block
		}
		if a.Par != b.Par {
			return a.Par < b.Par
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Word < b.Word
	})

	var lines []recog.Line
	var key [3]int
	for i, b := range sorted {
		k := [3]int{b.Block, b.Par, b.Line}
		if i == 0 || k != key {
			lines = append(lines, recog.Line{})
			key = k
		}
		cur := &lines[len(lines)-1]
		cur.Words = append(cur.Words, toWord(b, info))
	}
	return lines
}

func toWord(b box, info recog.ImageInfo) recog.Word {
	scale := func(v int) int { return int(float64(v)/info.ResizeFactor + 0.5) }
	return recog.Word{
		Text:       b.Text,
		Left:       info.Left + scale(b.Rect.Min.X),
		Top:        info.Top + scale(b.Rect.Min.Y),
		Width:      scale(b.Rect.Dx()),
		Height:     scale(b.Rect.Dy()),
		Confidence: b.Confidence / 100,
	}
}
