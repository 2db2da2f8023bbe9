package server

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MeKo-Tech/naocr/internal/metrics"
	"github.com/MeKo-Tech/naocr/internal/recog"
	"github.com/MeKo-Tech/naocr/internal/recog/recogtest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

type testServer struct {
	*Server
	engine *recogtest.Engine
	reg    *prometheus.Registry
	http   *httptest.Server
}

// newTestServer starts a server around engine. A nil loader uses the real
// image loader.
func newTestServer(t *testing.T, engine *recogtest.Engine, loader recog.ImageLoader) *testServer {
	t.Helper()
	return newTestServerWith(t, Config{TimeoutSec: 5}, engine, loader)
}

func newTestServerWith(t *testing.T, cfg Config, engine *recogtest.Engine, loader recog.ImageLoader) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	srv, err := NewServer(cfg, Deps{
		Engine:   engine,
		Loader:   loader,
		Metrics:  metrics.New(reg),
		Gatherer: reg,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})
	return &testServer{Server: srv, engine: engine, reg: reg, http: ts}
}

// pageScript completes page i with the line "page i+1".
func pageScript(index int, info recog.ImageInfo) (*recog.Result, error) {
	return recogtest.PageResult(info, fmt.Sprintf("page %d", index+1)), nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type upload struct {
	name string
	data []byte
}

// multipartBody builds a form with every upload under the "pages" field.
func multipartBody(t *testing.T, fields map[string]string, uploads ...upload) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, u := range uploads {
		part, err := mw.CreateFormFile("pages", u.name)
		require.NoError(t, err)
		_, err = part.Write(u.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func (ts *testServer) postPages(t *testing.T, fields map[string]string, uploads ...upload) *http.Response {
	t.Helper()
	body, contentType := multipartBody(t, fields, uploads...)
	resp, err := http.Post(ts.http.URL+"/ocr/pages", contentType, body)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}
