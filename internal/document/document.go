// Package document turns PDF files into ordered page images.
package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/naocr/internal/imageio"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrNoImages is returned when a PDF contains no decodable page images.
var ErrNoImages = errors.New("no page images found")

// ErrEncrypted is returned when a PDF cannot be opened with the given
// credentials.
var ErrEncrypted = errors.New("pdf is encrypted")

// Credentials unlock an encrypted PDF. Either password may be empty.
type Credentials struct {
	UserPassword  string `json:"user_password,omitempty"`
	OwnerPassword string `json:"owner_password,omitempty"`
}

func (c Credentials) configuration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.UserPW = c.UserPassword
	conf.OwnerPW = c.OwnerPassword
	return conf
}

// ExtractPages writes the embedded images of pdfPath into outDir and
// returns their paths ordered by page, then by position within the page.
// pageRange uses the "1-3,5" syntax; empty selects every page.
func ExtractPages(ctx context.Context, pdfPath, pageRange, outDir string) ([]string, error) {
	return ExtractPagesWith(ctx, pdfPath, pageRange, outDir, Credentials{})
}

// ExtractPagesWith is ExtractPages for PDFs that need a password.
func ExtractPagesWith(ctx context.Context, pdfPath, pageRange, outDir string, creds Credentials) ([]string, error) {
	spans, err := ParsePageRange(pageRange)
	if err != nil {
		return nil, fmt.Errorf("invalid page range %q: %w", pageRange, err)
	}

	f, err := os.Open(pdfPath) //nolint:gosec // G304: user-provided PDF path
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	var selected []string
	for _, span := range spans {
		selected = append(selected, span.String())
	}

	sink := &pageSink{dir: outDir, logger: slog.Default()}
	digest := func(img model.Image, _ bool, _ int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return sink.add(img.PageNr, img.Name, img.FileType, img)
	}
	if err := api.ExtractImages(f, selected, digest, creds.configuration()); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if isEncryptionError(err) {
			return nil, fmt.Errorf("%s: %w: %v", filepath.Base(pdfPath), ErrEncrypted, err)
		}
		return nil, fmt.Errorf("extract images from %s: %w", filepath.Base(pdfPath), err)
	}

	paths := sink.paths()
	if len(paths) == 0 {
		return nil, fmt.Errorf("%s: %w", filepath.Base(pdfPath), ErrNoImages)
	}
	return paths, nil
}

// pdfcpu reports wrong or missing passwords as plain errors.
func isEncryptionError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "password") ||
		strings.Contains(msg, "encrypt") ||
		strings.Contains(msg, "decrypt")
}

type extracted struct {
	page int
	seq  int
	path string
}

// pageSink stores extracted images on disk and remembers their order.
type pageSink struct {
	dir    string
	logger *slog.Logger
	items  []extracted
}

func (s *pageSink) add(page int, name, fileType string, r io.Reader) error {
	ext := "." + strings.ToLower(strings.TrimPrefix(fileType, "."))
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	file := fmt.Sprintf("page_%04d_%03d%s", page, len(s.items), ext)
	if !imageio.IsSupportedImage(file) {
		s.logger.Debug("Skipping undecodable PDF image", "page", page, "name", name, "type", fileType)
		return nil
	}

	path := filepath.Join(s.dir, file)
	out, err := os.Create(path) //nolint:gosec // G304: path built from the output directory
	if err != nil {
		return fmt.Errorf("create %s: %w", file, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return fmt.Errorf("write %s: %w", file, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", file, err)
	}
	s.items = append(s.items, extracted{page: page, seq: len(s.items), path: path})
	return nil
}

func (s *pageSink) paths() []string {
	sort.SliceStable(s.items, func(i, j int) bool {
		if s.items[i].page != s.items[j].page {
			return s.items[i].page < s.items[j].page
		}
		return s.items[i].seq < s.items[j].seq
	})
	out := make([]string, len(s.items))
	for i, it := range s.items {
		out[i] = it.path
	}
	return out
}

// MaxPageNumber bounds the page numbers a range may name.
const MaxPageNumber = 100_000

// PageSpan is an inclusive range of one-based page numbers.
type PageSpan struct {
	First int
	Last  int
}

// String renders the span in pdfcpu's page selection syntax.
func (p PageSpan) String() string {
	if p.First == p.Last {
		return strconv.Itoa(p.First)
	}
	return fmt.Sprintf("%d-%d", p.First, p.Last)
}

// ParsePageRange parses a page range string like "1-5" or "1,3,5". Spans
// are returned as written; they are not expanded into single pages.
func ParsePageRange(pageRange string) ([]PageSpan, error) {
	if strings.TrimSpace(pageRange) == "" {
		return nil, nil
	}

	var spans []PageSpan
	for _, part := range strings.Split(pageRange, ",") {
		span, err := parseRangeToken(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		spans = append(spans, span)
	}
	return spans, nil
}

// parseRangeToken parses a single page ("3") or an inclusive range ("1-5").
func parseRangeToken(part string) (PageSpan, error) {
	startStr, endStr, isRange := strings.Cut(part, "-")
	if !isRange {
		endStr = startStr
	}
	start, err := pageNumber(startStr)
	if err != nil {
		return PageSpan{}, err
	}
	end, err := pageNumber(endStr)
	if err != nil {
		return PageSpan{}, err
	}
	if start > end {
		return PageSpan{}, fmt.Errorf("start page %d greater than end page %d", start, end)
	}
	return PageSpan{First: start, Last: end}, nil
}

func pageNumber(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid page number: %q", s)
	}
	if n < 1 {
		return 0, fmt.Errorf("page numbers start at 1, got %d", n)
	}
	if n > MaxPageNumber {
		return 0, fmt.Errorf("page number %d exceeds %d", n, MaxPageNumber)
	}
	return n, nil
}
