// Package output renders recognition results as text, JSON or CSV.
package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/naocr/internal/recog"
)

// Supported formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Formats lists the accepted values of the output format setting.
var Formats = []string{FormatText, FormatJSON, FormatCSV}

// ValidFormat reports whether f names a supported format.
func ValidFormat(f string) bool {
	for _, s := range Formats {
		if s == f {
			return true
		}
	}
	return false
}

// Page is one page of a combined document.
type Page struct {
	Index int    `json:"index"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Document is the serializable view of a recognition result.
type Document struct {
	Source  string          `json:"source,omitempty"`
	Text    string          `json:"text"`
	TextLen int             `json:"text_len"`
	Info    recog.ImageInfo `json:"image_info"`
	Pages   []Page          `json:"pages,omitempty"`
	Lines   []recog.Line    `json:"lines"`
}

// NewDocument builds a document. offsets may be nil for single-image
// results.
func NewDocument(source string, res *recog.Result, offsets []recog.PageOffset) (*Document, error) {
	if res == nil {
		return nil, errors.New("nil result")
	}
	doc := &Document{
		Source:  source,
		Text:    res.Text(),
		TextLen: res.TextLen,
		Info:    res.Info,
		Lines:   res.Lines,
	}
	if len(offsets) > 0 {
		texts := recog.SplitPages(res, offsets)
		doc.Pages = make([]Page, len(offsets))
		for i, o := range offsets {
			doc.Pages[i] = Page{Index: i, Start: o.Start, End: o.End, Text: texts[i]}
		}
	}
	return doc, nil
}

// Render serializes doc in the given format.
func Render(doc *Document, format string) (string, error) {
	switch format {
	case FormatText, "":
		return ToPlainText(doc)
	case FormatJSON:
		return ToJSON(doc)
	case FormatCSV:
		return ToCSV(doc)
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

// ToJSON serializes doc to pretty JSON.
func ToJSON(doc *Document) (string, error) {
	if doc == nil {
		return "", errors.New("nil document")
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToPlainText returns the recognized text. Multi-page documents get a form
// feed between pages.
func ToPlainText(doc *Document) (string, error) {
	if doc == nil {
		return "", errors.New("nil document")
	}
	if len(doc.Pages) < 2 {
		return doc.Text, nil
	}
	parts := make([]string, 0, len(doc.Pages))
	for _, p := range doc.Pages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\f"), nil
}

// ToCSV exports one row per word with its page, box and confidence.
func ToCSV(doc *Document) (string, error) {
	if doc == nil {
		return "", errors.New("nil document")
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"page", "line", "x", "y", "w", "h", "conf", "text"})

	pos := 0
	for li, line := range doc.Lines {
		page := 0
		if len(doc.Pages) > 0 {
			page = pageAt(doc.Pages, pos)
		}
		for _, word := range line.Words {
			_ = w.Write([]string{
				strconv.Itoa(page + 1),
				strconv.Itoa(li + 1),
				strconv.Itoa(word.Left),
				strconv.Itoa(word.Top),
				strconv.Itoa(word.Width),
				strconv.Itoa(word.Height),
				fmt.Sprintf("%.3f", word.Confidence),
				word.Text,
			})
		}
		pos += len([]rune(line.Text())) + 1
	}
	w.Flush()
	return buf.String(), w.Error()
}

func pageAt(pages []Page, pos int) int {
	offsets := make([]recog.PageOffset, len(pages))
	for i, p := range pages {
		offsets[i] = recog.PageOffset{Start: p.Start, End: p.End}
	}
	if i := recog.PageAt(offsets, pos); i >= 0 {
		return i
	}
	return len(pages) - 1
}
