package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/naocr/internal/metrics"
	"github.com/MeKo-Tech/naocr/internal/output"
	"github.com/MeKo-Tech/naocr/internal/recog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// Message types exchanged over /ws.
const (
	MsgRecognize = "recognize"
	MsgAbort     = "abort"
	MsgAccepted  = "accepted"
	MsgProgress  = "progress"
	MsgResult    = "result"
	MsgError     = "error"
	MsgAborted   = "aborted"
)

// ErrOutsideBaseDir rejects a page path that resolves outside the server's
// base directory.
var ErrOutsideBaseDir = errors.New("path outside base directory")

// WebSocketRequest is a client message. Paths name page images under the
// server's base directory, in page order.
type WebSocketRequest struct {
	Type   string   `json:"type"`
	Source string   `json:"source,omitempty"`
	Paths  []string `json:"paths,omitempty"`
}

// Progress is the payload of a progress message.
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// WebSocketMessage is a server message.
type WebSocketMessage struct {
	Type      string           `json:"type"`
	RequestID string           `json:"request_id,omitempty"`
	Progress  *Progress        `json:"progress,omitempty"`
	Document  *output.Document `json:"document,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// wsConn serializes writes to a connection. Progress arrives on engine
// goroutines while outcomes arrive on the dispatcher.
type wsConn struct {
	conn    *websocket.Conn
	client  string
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu     sync.Mutex
	closed chan struct{}
}

func (c *wsConn) send(msg WebSocketMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Debug("WebSocket write failed", "type", msg.Type, "error", err)
		return
	}
	if c.metrics != nil {
		c.metrics.WebsocketMessages.WithLabelValues("sent").Inc()
	}
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

// wsHandler streams multi-page recognitions over a WebSocket. Each
// connection owns one session; a new recognize message replaces the
// connection's running one.
func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	if s.metrics != nil {
		s.metrics.WebsocketConns.Inc()
		defer s.metrics.WebsocketConns.Dec()
	}

	logger := s.requestLogger(uuid.NewString())
	logger.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)

	c := &wsConn{conn: conn, client: getClientIP(r), metrics: s.metrics, logger: logger, closed: make(chan struct{})}
	defer close(c.closed)

	sess := s.newSession(logger)
	defer sess.Abort()

	go c.keepAlive()
	s.readLoop(c, sess)
}

func (c *wsConn) keepAlive() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

func (s *Server) readLoop(c *wsConn, sess *recog.Session) {
	_ = c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			return
		}
		if s.metrics != nil {
			s.metrics.WebsocketMessages.WithLabelValues("received").Inc()
		}
		if messageType == websocket.TextMessage {
			s.handleWebSocketMessage(c, sess, data)
		}
	}
}

func (s *Server) handleWebSocketMessage(c *wsConn, sess *recog.Session, data []byte) {
	var req WebSocketRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.send(WebSocketMessage{Type: MsgError, Error: fmt.Sprintf("failed to parse request: %v", err)})
		return
	}

	switch req.Type {
	case MsgRecognize:
		s.recognizeOverWebSocket(c, sess, req)
	case MsgAbort:
		sess.Abort()
	default:
		c.send(WebSocketMessage{Type: MsgError, Error: "unsupported request type: " + req.Type})
	}
}

func (s *Server) recognizeOverWebSocket(c *wsConn, sess *recog.Session, req WebSocketRequest) {
	id := uuid.NewString()
	if len(req.Paths) == 0 {
		c.send(WebSocketMessage{Type: MsgError, RequestID: id, Error: "no paths given"})
		return
	}
	if !s.engine.Available() {
		c.send(WebSocketMessage{Type: MsgError, RequestID: id, Error: recog.ErrEngineUnavailable.Error()})
		return
	}

	paths := make([]string, len(req.Paths))
	var size int64
	for i, p := range req.Paths {
		resolved, err := resolvePath(s.baseDir, p)
		if err != nil {
			c.logger.Warn("Rejected page path", "path", p, "error", err)
			c.send(WebSocketMessage{Type: MsgError, RequestID: id, Error: fmt.Sprintf("%s: %v", p, err)})
			return
		}
		paths[i] = resolved
		if fi, err := os.Stat(resolved); err == nil {
			size += fi.Size()
		}
	}
	if err := s.checkRateLimit(c.client, size); err != nil {
		c.send(WebSocketMessage{Type: MsgError, RequestID: id, Error: err.Error()})
		return
	}

	source := req.Source
	if source == "" {
		source = req.Paths[0]
	}
	c.send(WebSocketMessage{Type: MsgAccepted, RequestID: id})

	outcomes := s.startRun(sess, source, paths, func(done, total int) {
		c.send(WebSocketMessage{Type: MsgProgress, RequestID: id, Progress: &Progress{Done: done, Total: total}})
	})
	go func() {
		select {
		case out := <-outcomes:
			c.send(outcomeMessage(id, out))
		case <-c.closed:
		}
	}()
}

func outcomeMessage(id string, out recog.Outcome) WebSocketMessage {
	switch {
	case out.Aborted():
		return WebSocketMessage{Type: MsgAborted, RequestID: id}
	case out.Err != nil:
		return WebSocketMessage{Type: MsgError, RequestID: id, Error: out.Err.Error()}
	}
	doc, err := output.NewDocument(out.Source, out.Result, out.Offsets)
	if err != nil {
		return WebSocketMessage{Type: MsgError, RequestID: id, Error: err.Error()}
	}
	return WebSocketMessage{Type: MsgResult, RequestID: id, Document: doc}
}

// resolveBaseDir returns the absolute, symlink-free form of dir. Empty means
// the working directory.
func resolveBaseDir(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("server: base dir: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return abs, nil
}

// resolvePath maps a client path onto base. Relative paths are joined to
// base; absolute ones must already lie beneath it. Symlinks are followed
// when the target exists.
func resolvePath(base, p string) (string, error) {
	if p == "" {
		return "", errors.New("empty path")
	}
	candidate := filepath.Clean(p)
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(base, candidate)
	}
	if !within(base, candidate) {
		return "", ErrOutsideBaseDir
	}
	if resolved, err := filepath.EvalSymlinks(candidate); err == nil {
		if !within(base, resolved) {
			return "", ErrOutsideBaseDir
		}
		candidate = resolved
	}
	return candidate, nil
}

func within(base, p string) bool {
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
