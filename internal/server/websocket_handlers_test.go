package server

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/naocr/internal/recog"
	"github.com/MeKo-Tech/naocr/internal/recog/recogtest"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, ts *testServer) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WebSocketMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testTimeout)))
	var msg WebSocketMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readUntil reads messages until one of the given type arrives and returns
// everything read.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) []WebSocketMessage {
	t.Helper()
	var msgs []WebSocketMessage
	for {
		msg := readMessage(t, conn)
		msgs = append(msgs, msg)
		if msg.Type == msgType {
			return msgs
		}
	}
}

func TestWebSocket_StreamsProgressAndResult(t *testing.T) {
	engine := recogtest.NewEngine()
	engine.Script = pageScript
	ts := newTestServer(t, engine, &recogtest.Loader{})
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(WebSocketRequest{Type: MsgRecognize, Source: "scan", Paths: []string{"a", "b", "c"}}))
	msgs := readUntil(t, conn, MsgResult)

	require.Len(t, msgs, 6)
	assert.Equal(t, MsgAccepted, msgs[0].Type)
	id := msgs[0].RequestID
	require.NotEmpty(t, id)

	for i, msg := range msgs[1:5] {
		assert.Equal(t, MsgProgress, msg.Type)
		assert.Equal(t, id, msg.RequestID)
		assert.Equal(t, &Progress{Done: i, Total: 3}, msg.Progress)
	}

	result := msgs[5]
	assert.Equal(t, id, result.RequestID)
	require.NotNil(t, result.Document)
	assert.Equal(t, "scan", result.Document.Source)
	assert.Equal(t, "page 1\npage 2\npage 3\n", result.Document.Text)
	require.Len(t, result.Document.Pages, 3)
	assert.Equal(t, 14, result.Document.Pages[2].Start)
}

func TestWebSocket_Abort(t *testing.T) {
	engine := recogtest.NewEngine()
	ts := newTestServer(t, engine, &recogtest.Loader{})
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(WebSocketRequest{Type: MsgRecognize, Paths: []string{"a", "b", "c"}}))
	job, err := engine.Next(testTimeout)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(WebSocketRequest{Type: MsgAbort}))
	// Messages are handled in order, so the reply to this one means the
	// abort has been seen.
	require.NoError(t, conn.WriteJSON(WebSocketRequest{Type: "sync"}))
	readUntil(t, conn, MsgError)

	job.Complete(recogtest.ResultOfLen(3), nil)
	msgs := readUntil(t, conn, MsgAborted)
	assert.Nil(t, msgs[len(msgs)-1].Document)

	_, err = engine.Next(50 * time.Millisecond)
	assert.ErrorIs(t, err, recogtest.ErrNoJob, "the page in flight is the last one submitted")
	assert.Equal(t, 1, engine.Submissions())
}

func TestWebSocket_NewRunReplacesRunning(t *testing.T) {
	engine := recogtest.NewEngine()
	ts := newTestServer(t, engine, &recogtest.Loader{})
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(WebSocketRequest{Type: MsgRecognize, Paths: []string{"a", "b"}}))
	first, err := engine.Next(testTimeout)
	require.NoError(t, err)
	firstID := readMessage(t, conn).RequestID

	require.NoError(t, conn.WriteJSON(WebSocketRequest{Type: MsgRecognize, Paths: []string{"c"}}))
	second, err := engine.Next(testTimeout)
	require.NoError(t, err)
	assert.True(t, first.Cancelled())

	second.Complete(recogtest.ResultOfLen(4), nil)

	var abortedID, resultID string
	for abortedID == "" || resultID == "" {
		msg := readMessage(t, conn)
		switch msg.Type {
		case MsgAborted:
			abortedID = msg.RequestID
		case MsgResult:
			resultID = msg.RequestID
		}
	}
	assert.Equal(t, firstID, abortedID)
	assert.NotEqual(t, firstID, resultID)
}

func TestWebSocket_Errors(t *testing.T) {
	engine := recogtest.NewEngine()
	engine.Script = func(index int, info recog.ImageInfo) (*recog.Result, error) {
		return nil, errors.New("engine fault")
	}
	ts := newTestServer(t, engine, &recogtest.Loader{})
	conn := dialWS(t, ts)

	tests := []struct {
		name    string
		payload string
		message string
	}{
		{"invalid json", `{"type":`, "failed to parse request"},
		{"unknown type", `{"type":"dance"}`, "unsupported request type: dance"},
		{"no paths", `{"type":"recognize"}`, "no paths given"},
		{"recognition failure", `{"type":"recognize","paths":["a"]}`, "engine fault"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.payload)))
			msgs := readUntil(t, conn, MsgError)
			assert.Contains(t, msgs[len(msgs)-1].Error, tt.message)
		})
	}
}

func TestWebSocket_EngineUnavailable(t *testing.T) {
	engine := recogtest.NewEngine()
	engine.Unavailable = true
	ts := newTestServer(t, engine, &recogtest.Loader{})
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(WebSocketRequest{Type: MsgRecognize, Paths: []string{"a"}}))
	msg := readMessage(t, conn)
	assert.Equal(t, MsgError, msg.Type)
	assert.Equal(t, recog.ErrEngineUnavailable.Error(), msg.Error)
	assert.Zero(t, engine.Submissions())
}

func TestWebSocket_PathsResolvedUnderBaseDir(t *testing.T) {
	base := t.TempDir()
	engine := recogtest.NewEngine()
	engine.Script = pageScript
	loader := &recogtest.Loader{}
	ts := newTestServerWith(t, Config{TimeoutSec: 5, BaseDir: base}, engine, loader)
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(WebSocketRequest{Type: MsgRecognize, Paths: []string{"scan/p1.png", "./scan/../p2.png"}}))
	readUntil(t, conn, MsgResult)

	assert.Equal(t, []string{
		filepath.Join(ts.baseDir, "scan", "p1.png"),
		filepath.Join(ts.baseDir, "p2.png"),
	}, loader.Loaded())
}

func TestWebSocket_RejectsPathsOutsideBaseDir(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "pages")
	require.NoError(t, os.Mkdir(base, 0o750))
	secret := filepath.Join(root, "secret.png")
	require.NoError(t, os.WriteFile(secret, []byte("x"), 0o600))
	require.NoError(t, os.Symlink(secret, filepath.Join(base, "link.png")))

	engine := recogtest.NewEngine()
	loader := &recogtest.Loader{}
	ts := newTestServerWith(t, Config{TimeoutSec: 5, BaseDir: base}, engine, loader)
	conn := dialWS(t, ts)

	for _, p := range []string{"../secret.png", secret, "/etc/passwd", "link.png", "a/../../secret.png"} {
		t.Run(p, func(t *testing.T) {
			require.NoError(t, conn.WriteJSON(WebSocketRequest{Type: MsgRecognize, Paths: []string{"ok.png", p}}))
			msg := readMessage(t, conn)
			assert.Equal(t, MsgError, msg.Type)
			assert.Contains(t, msg.Error, ErrOutsideBaseDir.Error())
		})
	}
	assert.Empty(t, loader.Loaded())
	assert.Zero(t, engine.Submissions())
}

func TestWebSocket_RateLimited(t *testing.T) {
	engine := recogtest.NewEngine()
	engine.Script = pageScript
	ts := newTestServerWith(t, Config{
		TimeoutSec: 5,
		RateLimit:  RateLimitConfig{Enabled: true, RunsPerMinute: 1},
	}, engine, &recogtest.Loader{})
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(WebSocketRequest{Type: MsgRecognize, Paths: []string{"a"}}))
	readUntil(t, conn, MsgResult)

	require.NoError(t, conn.WriteJSON(WebSocketRequest{Type: MsgRecognize, Paths: []string{"b"}}))
	msg := readMessage(t, conn)
	assert.Equal(t, MsgError, msg.Type)
	assert.Contains(t, msg.Error, "rate limit exceeded")
	assert.Equal(t, 1, engine.Submissions())
}

func TestResolvePath(t *testing.T) {
	base := filepath.Join(string(filepath.Separator), "srv", "pages")
	tests := []struct {
		path string
		want string
		err  bool
	}{
		{"a.png", filepath.Join(base, "a.png"), false},
		{"doc/a.png", filepath.Join(base, "doc", "a.png"), false},
		{filepath.Join(base, "b.png"), filepath.Join(base, "b.png"), false},
		{"doc/../a.png", filepath.Join(base, "a.png"), false},
		{"..", "", true},
		{"../pages-other/a.png", "", true},
		{"/srv/pagesx/a.png", "", true},
		{"/etc/passwd", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := resolvePath(base, tt.path)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
