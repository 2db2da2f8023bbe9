package console

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/naocr/internal/output"
	"github.com/MeKo-Tech/naocr/internal/recog"
	"github.com/MeKo-Tech/naocr/internal/recog/recogtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnouncer(t *testing.T) {
	var buf bytes.Buffer
	a := NewAnnouncer(&buf, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.Say(recog.MsgCurtainActive)
	a.Queue(recog.MsgRecognitionFailed)
	assert.Equal(t, recog.MsgCurtainActive+"\n"+recog.MsgRecognitionFailed+"\n", buf.String())
}

func TestFileCapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "screen.png")
	img := image.NewNRGBA(image.Rect(0, 0, 12, 7))
	img.Set(1, 1, color.White)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	shot, err := FileCapture{Path: path}.Capture()
	require.NoError(t, err)
	assert.Equal(t, 12, shot.Bounds().Dx())

	_, err = FileCapture{Path: filepath.Join(t.TempDir(), "none.png")}.Capture()
	assert.Error(t, err)
}

func TestStubs(t *testing.T) {
	assert.False(t, NoCurtain{}.CurtainActive())
	assert.False(t, NoFocus{}.InRecognitionResult())
}

func TestPrinter(t *testing.T) {
	info := recog.ImageInfo{Width: 1, Height: 1, ResizeFactor: 1}

	t.Run("single result as text", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewPrinter(&buf, output.FormatText, "screen")
		p.Accept(recogtest.PageResult(info, "hello there"))
		require.NoError(t, p.Err())
		assert.Equal(t, "hello there\n\n", buf.String())
	})

	t.Run("outcome as json", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewPrinter(&buf, output.FormatJSON, "")
		res := recogtest.PageResult(info, "a", "bb")
		err := p.PrintOutcome(recog.Outcome{Source: "doc", Result: res, Offsets: []recog.PageOffset{{Start: 0, End: 2}, {Start: 2, End: 5}}})
		require.NoError(t, err)

		var doc output.Document
		require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
		assert.Equal(t, "doc", doc.Source)
		require.Len(t, doc.Pages, 2)
		assert.Equal(t, "bb\n", doc.Pages[1].Text)
	})

	t.Run("aborted outcome prints nothing", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewPrinter(&buf, output.FormatText, "")
		require.NoError(t, p.PrintOutcome(recog.Outcome{}))
		assert.Empty(t, buf.String())
	})

	t.Run("bad format", func(t *testing.T) {
		p := NewPrinter(io.Discard, "xml", "")
		p.Accept(recogtest.PageResult(info, "x"))
		assert.Error(t, p.Err())
	})
}
