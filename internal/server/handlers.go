package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/naocr/internal/document"
	"github.com/MeKo-Tech/naocr/internal/imageio"
	"github.com/MeKo-Tech/naocr/internal/output"
	"github.com/MeKo-Tech/naocr/internal/recog"
)

// maxMemory bounds the part of a multipart upload kept in memory.
const maxMemory = 32 << 20

// statusError carries the HTTP status an error should be reported with.
type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

func badRequest(format string, args ...any) error {
	return &statusError{status: http.StatusBadRequest, err: fmt.Errorf(format, args...)}
}

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	_, busy := s.slot.Owner()
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Engine:  s.engine.Available(),
		Busy:    busy,
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// pagesHandler recognizes the uploaded pages as one document. Images are
// taken from the "pages" form field in upload order; PDFs contribute their
// page images.
func (s *Server) pagesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := requestID(r.Context())
	logger := s.requestLogger(id)

	if !s.engine.Available() {
		s.writeJSON(w, http.StatusServiceUnavailable, PagesResponse{RequestID: id, Error: recog.ErrEngineUnavailable.Error()})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadMB<<20)
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		s.writeJSON(w, http.StatusBadRequest, PagesResponse{RequestID: id, Error: "invalid multipart form: " + err.Error()})
		return
	}
	files := r.MultipartForm.File["pages"]
	if len(files) == 0 {
		s.writeJSON(w, http.StatusBadRequest, PagesResponse{RequestID: id, Error: "no pages uploaded"})
		return
	}

	pageRange := r.FormValue("page_range")
	if pageRange == "" {
		pageRange = s.pageRange
	}
	if _, err := document.ParsePageRange(pageRange); err != nil {
		s.writeJSON(w, http.StatusBadRequest, PagesResponse{RequestID: id, Error: fmt.Sprintf("invalid page_range %q: %v", pageRange, err)})
		return
	}

	dir, err := os.MkdirTemp("", "naocr-upload-*")
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, PagesResponse{RequestID: id, Error: err.Error()})
		return
	}
	defer func() { _ = os.RemoveAll(dir) }()

	creds := document.Credentials{UserPassword: r.FormValue("password")}
	paths, err := s.saveUploads(r.Context(), files, dir, pageRange, creds)
	if err != nil {
		status := http.StatusInternalServerError
		var se *statusError
		if errors.As(err, &se) {
			status = se.status
		}
		s.writeJSON(w, status, PagesResponse{RequestID: id, Error: err.Error()})
		return
	}

	source := r.FormValue("source")
	if source == "" {
		source = files[0].Filename
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	sess := s.newSession(logger)
	outcomes := s.startRun(sess, source, paths, nil)
	select {
	case out := <-outcomes:
		s.writeOutcome(w, id, out)
	case <-ctx.Done():
		sess.Abort()
		logger.Warn("Recognition request ended before the run finished", "source", source, "error", ctx.Err())
		s.writeJSON(w, http.StatusGatewayTimeout, PagesResponse{RequestID: id, Error: ctx.Err().Error()})
	}
}

// startRun starts a run on sess and returns the channel its outcome is
// delivered on.
func (s *Server) startRun(sess *recog.Session, source string, paths []string, progress func(done, total int)) <-chan recog.Outcome {
	outcomes := make(chan recog.Outcome, 1)
	sess.RecognizeFiles(source, paths, recog.FileOptions{
		OnFinish:         func(out recog.Outcome) { outcomes <- out },
		OnProgress:       progress,
		ProgressInterval: s.progressInterval,
	})
	return outcomes
}

// saveUploads stores the uploaded files in dir and returns the page image
// paths in order.
func (s *Server) saveUploads(ctx context.Context, files []*multipart.FileHeader, dir, pageRange string, creds document.Credentials) ([]string, error) {
	var paths []string
	for i, fh := range files {
		if s.metrics != nil {
			s.metrics.UploadSizeBytes.Observe(float64(fh.Size))
		}
		name := filepath.Base(fh.Filename)
		isPDF := strings.EqualFold(filepath.Ext(name), ".pdf")
		if !isPDF && !imageio.IsSupportedImage(name) {
			return nil, &statusError{
				status: http.StatusUnsupportedMediaType,
				err:    fmt.Errorf("unsupported file type: %s", name),
			}
		}

		path := filepath.Join(dir, fmt.Sprintf("%04d_%s", i, name))
		if err := saveUpload(fh, path); err != nil {
			return nil, err
		}
		if !isPDF {
			paths = append(paths, path)
			continue
		}

		pages, err := document.ExtractPagesWith(ctx, path, pageRange, filepath.Join(dir, fmt.Sprintf("pdf_%04d", i)), creds)
		if err != nil {
			return nil, &statusError{status: http.StatusUnprocessableEntity, err: err}
		}
		paths = append(paths, pages...)
	}
	return paths, nil
}

func saveUpload(fh *multipart.FileHeader, path string) error {
	src, err := fh.Open()
	if err != nil {
		return badRequest("open upload %s: %v", fh.Filename, err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(path) //nolint:gosec // G304: path is inside our temp dir
	if err != nil {
		return fmt.Errorf("store upload: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("store upload: %w", err)
	}
	return dst.Close()
}

// writeOutcome maps a run outcome to a response.
func (s *Server) writeOutcome(w http.ResponseWriter, id string, out recog.Outcome) {
	switch {
	case out.Aborted():
		s.writeJSON(w, http.StatusConflict, PagesResponse{RequestID: id, Aborted: true, Error: recog.ErrAborted.Error()})
	case out.Err != nil:
		s.writeJSON(w, outcomeStatus(out.Err), PagesResponse{RequestID: id, Error: out.Err.Error()})
	default:
		doc, err := output.NewDocument(out.Source, out.Result, out.Offsets)
		if err != nil {
			s.writeJSON(w, http.StatusInternalServerError, PagesResponse{RequestID: id, Error: err.Error()})
			return
		}
		s.writeJSON(w, http.StatusOK, PagesResponse{Success: true, RequestID: id, Document: doc})
	}
}

func outcomeStatus(err error) int {
	var convErr *recog.ConversionError
	var imgErr *imageio.ImageProcessingError
	if errors.As(err, &convErr) || errors.As(err, &imgErr) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) requestLogger(id string) *slog.Logger {
	return s.logger.With("request_id", id)
}
