//go:build cgo

package tesseract

import (
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

type gosseractBackend struct{}

func defaultBackend() backend { return gosseractBackend{} }

func (gosseractBackend) available() (version string, ok bool) {
	defer func() {
		if recover() != nil {
			version, ok = "", false
		}
	}()
	version = gosseract.Version()
	return version, version != ""
}

// words runs one recognition on a fresh client; clients are not safe for
// concurrent use.
func (gosseractBackend) words(req request) ([]box, error) {
	client := gosseract.NewClient()
	defer func() { _ = client.Close() }()

	if req.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(req.TessdataPrefix); err != nil {
			return nil, fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := client.SetLanguage(req.Languages); err != nil {
		return nil, fmt.Errorf("set language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PageSegMode(req.PageSegMode)); err != nil {
		return nil, fmt.Errorf("set page segmentation mode: %w", err)
	}
	if err := client.SetImageFromBytes(req.PNG); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}

	raw, err := client.GetBoundingBoxesVerbose()
	if err != nil {
		return nil, fmt.Errorf("recognize words: %w", err)
	}
	out := make([]box, 0, len(raw))
	for _, b := range raw {
		out = append(out, box{
			Text:       b.Word,
			Rect:       b.Box,
			Confidence: b.Confidence,
			Block:      b.BlockNum,
			Par:        b.ParNum,
			Line:       b.LineNum,
			Word:       b.WordNum,
		})
	}
	return out, nil
}
