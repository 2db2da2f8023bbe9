package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/naocr/internal/console"
	"github.com/MeKo-Tech/naocr/internal/imageio"
	"github.com/MeKo-Tech/naocr/internal/mainloop"
	"github.com/MeKo-Tech/naocr/internal/metrics"
	"github.com/MeKo-Tech/naocr/internal/output"
	"github.com/MeKo-Tech/naocr/internal/recog"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	engine   recog.Engine
	loader   recog.ImageLoader
	slot     *recog.Slot
	queue    *mainloop.Queue
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	upgrader websocket.Upgrader

	corsOrigin       string
	maxUploadMB      int64
	timeout          time.Duration
	progressInterval time.Duration
	pageRange        string
	baseDir          string
	rateLimiter      *RateLimiter

	stop context.CancelFunc
	done chan struct{}
}

// Config holds server configuration.
type Config struct {
	Host             string
	Port             int
	CORSOrigin       string
	MaxUploadMB      int64
	TimeoutSec       int
	ProgressInterval time.Duration
	// PageRange limits the pages taken from uploaded PDFs.
	PageRange string
	// BaseDir is the directory WebSocket page paths are resolved under.
	// Empty means the working directory.
	BaseDir   string
	RateLimit RateLimitConfig
}

// Deps are the collaborators recognitions run with. Loader defaults to
// imageio.Loader, Gatherer to the default Prometheus registry and Logger to
// slog.Default. Metrics may be nil.
type Deps struct {
	Engine   recog.Engine
	Loader   recog.ImageLoader
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Engine  bool   `json:"engine_available"`
	Busy    bool   `json:"busy"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// PagesResponse is returned by POST /ocr/pages.
type PagesResponse struct {
	Success   bool             `json:"success"`
	RequestID string           `json:"request_id"`
	Document  *output.Document `json:"document,omitempty"`
	Aborted   bool             `json:"aborted,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Version is reported by the health endpoint.
var Version = "dev"

// NewServer creates a server and starts its dispatcher goroutine. Close
// stops it.
func NewServer(config Config, deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	if deps.Loader == nil {
		deps.Loader = imageio.Loader{}
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if config.TimeoutSec <= 0 {
		config.TimeoutSec = 120
	}
	if config.MaxUploadMB <= 0 {
		config.MaxUploadMB = 50
	}
	if config.CORSOrigin == "" {
		config.CORSOrigin = "*"
	}
	baseDir, err := resolveBaseDir(config.BaseDir)
	if err != nil {
		return nil, err
	}

	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		engine:           deps.Engine,
		loader:           deps.Loader,
		slot:             recog.NewSlot(),
		queue:            mainloop.NewQueue(deps.Logger),
		metrics:          deps.Metrics,
		gatherer:         deps.Gatherer,
		logger:           deps.Logger,
		corsOrigin:       config.CORSOrigin,
		maxUploadMB:      config.MaxUploadMB,
		timeout:          time.Duration(config.TimeoutSec) * time.Second,
		progressInterval: config.ProgressInterval,
		pageRange:        config.PageRange,
		baseDir:          baseDir,
		stop:             stop,
		done:             make(chan struct{}),
	}
	if rl := config.RateLimit; rl.Enabled {
		s.rateLimiter = NewRateLimiter(rl.RunsPerMinute, rl.RunsPerHour, rl.MaxRunsPerDay, rl.MaxDataPerDay)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	go func() {
		defer close(s.done)
		if err := s.queue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("Dispatcher stopped", "error", err)
		}
	}()
	return s, nil
}

// Close cancels any running recognition and stops the dispatcher.
func (s *Server) Close() error {
	s.slot.CancelActive()
	s.queue.Close()
	<-s.done
	s.stop()
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/ocr/pages", s.corsMiddleware(s.rateLimitMiddleware(s.pagesHandler)))
	mux.HandleFunc("/ws", s.wsHandler)
	mux.Handle("/metrics", s.metricsHandler())
}

// newSession creates a session sharing the server's recognition slot, so a
// new run anywhere on the server preempts the running one.
func (s *Server) newSession(logger *slog.Logger) *recog.Session {
	deps := recog.SessionDeps{
		Engine:     s.engine,
		Slot:       s.slot,
		Loader:     s.loader,
		Announcer:  console.NewAnnouncer(io.Discard, logger),
		Dispatcher: s.queue,
		Logger:     logger,
	}
	if s.metrics != nil {
		deps.Observer = s.metrics
	}
	return recog.NewSession(deps)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.corsOrigin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || origin == s.corsOrigin
}
