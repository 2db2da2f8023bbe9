package recog

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// PageOffset marks the [Start, End) text range one page occupies inside a
// combined result.
type PageOffset struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// NewPageOffset returns the offset of a page of the given text length that
// begins at start.
func NewPageOffset(start, length int) PageOffset {
	return PageOffset{Start: start, End: start + length}
}

// Len returns the text length covered by the offset.
func (o PageOffset) Len() int { return o.End - o.Start }

// Word is a single recognized word in image coordinates.
type Word struct {
	Text       string  `json:"text"`
	Left       int     `json:"left"`
	Top        int     `json:"top"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
}

// Line is one line of recognized words.
type Line struct {
	Words []Word `json:"words"`
}

// Text joins the words of the line with single spaces.
func (l Line) Text() string {
	parts := make([]string, 0, len(l.Words))
	for _, w := range l.Words {
		parts = append(parts, w.Text)
	}
	return strings.Join(parts, " ")
}

// ImageInfo describes the screen or image area a recognition ran on and the
// factor the engine scaled it by.
type ImageInfo struct {
	Left         int     `json:"left"`
	Top          int     `json:"top"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	ResizeFactor float64 `json:"resize_factor"`
}

// NewImageInfo validates the geometry and returns the image info.
func NewImageInfo(left, top, width, height int, factor float64) (ImageInfo, error) {
	if width <= 0 || height <= 0 {
		return ImageInfo{}, &ConversionError{Width: width, Height: height, Reason: "non-positive dimensions"}
	}
	if factor <= 0 {
		return ImageInfo{}, &ConversionError{Width: width, Height: height, Reason: "non-positive resize factor"}
	}
	return ImageInfo{Left: left, Top: top, Width: width, Height: height, ResizeFactor: factor}, nil
}

// Result is a line/word recognition result. TextLen is the rune length of
// Text().
type Result struct {
	Lines   []Line    `json:"lines"`
	Info    ImageInfo `json:"image_info"`
	TextLen int       `json:"text_len"`
}

// NewResult builds a result and computes its text length.
func NewResult(lines []Line, info ImageInfo) *Result {
	r := &Result{Lines: lines, Info: info}
	r.TextLen = utf8.RuneCountInString(r.Text())
	return r
}

// Text renders the result with every line terminated by a newline.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	for _, l := range r.Lines {
		b.WriteString(l.Text())
		b.WriteByte('\n')
	}
	return b.String()
}

// PageAt returns the index of the page whose range contains pos, or -1.
func PageAt(offsets []PageOffset, pos int) int {
	i := sort.Search(len(offsets), func(i int) bool { return offsets[i].End > pos })
	if i == len(offsets) || pos < offsets[i].Start {
		return -1
	}
	return i
}

// SplitPages slices the combined text of res back into per-page text using
// the recorded offsets.
func SplitPages(res *Result, offsets []PageOffset) []string {
	runes := []rune(res.Text())
	pages := make([]string, 0, len(offsets))
	for _, o := range offsets {
		start, end := clamp(o.Start, 0, len(runes)), clamp(o.End, 0, len(runes))
		if end < start {
			end = start
		}
		pages = append(pages, string(runes[start:end]))
	}
	return pages
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
