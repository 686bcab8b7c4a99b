package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solace-labs/sessiond/pkg/session"
	"github.com/solace-labs/sessiond/pkg/transcript"
)

type fakeSession struct {
	history []transcript.Turn
	chunks  []string
	fail    bool
}

func (f *fakeSession) OnConnect(ctx context.Context, sink session.Sink) error {
	if len(f.history) > 0 {
		if err := sink.SendHistory(f.history); err != nil {
			return err
		}
	}
	return sink.SendConnected()
}

func (f *fakeSession) OnUserMessage(ctx context.Context, text string, sink session.Sink) error {
	if strings.TrimSpace(text) == "" {
		return sink.SendError("empty message")
	}
	if f.fail {
		return sink.SendError("generation failed")
	}
	for _, c := range f.chunks {
		if err := sink.SendChunk(c); err != nil {
			return err
		}
	}
	return sink.SendDone()
}

type fakeSessions struct {
	session *fakeSession
	err     error
}

func (f *fakeSessions) Get(sessionID string) (Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func setupGateway(t *testing.T, sessions Sessions) *httptest.Server {
	t.Helper()
	srv, err := NewServer(Config{
		Port:            8090,
		ShutdownTimeout: time.Second,
		Sessions:        sessions,
		Logger:          zerolog.Nop(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?session=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestConnectReplaysHistoryBeforeReady(t *testing.T) {
	ts := setupGateway(t, &fakeSessions{session: &fakeSession{
		history: []transcript.Turn{
			{Seq: 1, Role: transcript.RoleUser, Content: "hello"},
			{Seq: 2, Role: transcript.RoleAssistant, Content: "hi"},
		},
	}})
	conn := dial(t, ts, "alpha")

	frame := readFrame(t, conn)
	require.Equal(t, "history", frame["type"])
	messages := frame["messages"].([]any)
	require.Len(t, messages, 2)
	first := messages[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, "hello", first["content"])

	assert.Equal(t, "connected", readFrame(t, conn)["type"])
}

func TestConnectEmptySessionSkipsHistory(t *testing.T) {
	ts := setupGateway(t, &fakeSessions{session: &fakeSession{}})
	conn := dial(t, ts, "fresh")

	assert.Equal(t, "connected", readFrame(t, conn)["type"])
}

func TestUserMessageStreamsChunksThenDone(t *testing.T) {
	ts := setupGateway(t, &fakeSessions{session: &fakeSession{
		chunks: []string{"Hel", "lo"},
	}})
	conn := dial(t, ts, "alpha")
	require.Equal(t, "connected", readFrame(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(InboundFrame{Type: FrameUserMessage, Text: "hi"}))

	frame := readFrame(t, conn)
	assert.Equal(t, "chunk", frame["type"])
	assert.Equal(t, "Hel", frame["content"])
	frame = readFrame(t, conn)
	assert.Equal(t, "chunk", frame["type"])
	assert.Equal(t, "lo", frame["content"])
	assert.Equal(t, "done", readFrame(t, conn)["type"])
}

func TestGenerationFailureSendsErrorFrame(t *testing.T) {
	ts := setupGateway(t, &fakeSessions{session: &fakeSession{fail: true}})
	conn := dial(t, ts, "alpha")
	require.Equal(t, "connected", readFrame(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(InboundFrame{Type: FrameUserMessage, Text: "hi"}))

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "generation failed", frame["error"])
}

func TestMalformedFrameAnsweredWithError(t *testing.T) {
	ts := setupGateway(t, &fakeSessions{session: &fakeSession{}})
	conn := dial(t, ts, "alpha")
	require.Equal(t, "connected", readFrame(t, conn)["type"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])

	// Connection survives; a valid frame still works.
	require.NoError(t, conn.WriteJSON(InboundFrame{Type: FrameUserMessage, Text: "hi"}))
	assert.Equal(t, "done", readFrame(t, conn)["type"])
}

func TestUnknownFrameTypeAnsweredWithError(t *testing.T) {
	ts := setupGateway(t, &fakeSessions{session: &fakeSession{}})
	conn := dial(t, ts, "alpha")
	require.Equal(t, "connected", readFrame(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(InboundFrame{Type: "subscribe"}))
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["error"], "unknown frame type")
}

func TestInvalidSessionIDRejectsHandshake(t *testing.T) {
	ts := setupGateway(t, &fakeSessions{session: &fakeSession{}})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionResolutionFailure(t *testing.T) {
	ts := setupGateway(t, &fakeSessions{err: fmt.Errorf("boom")})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?session=alpha"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	ts := setupGateway(t, &fakeSessions{session: &fakeSession{}})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

type fakeSearcher struct {
	turns []transcript.Turn
	err   error
}

func (f *fakeSearcher) Search(ctx context.Context, sessionID, query string, limit int) ([]transcript.Turn, error) {
	return f.turns, f.err
}

func TestSearchEndpoint(t *testing.T) {
	srv, err := NewServer(Config{
		Port:     8090,
		Sessions: &fakeSessions{session: &fakeSession{}},
		Searcher: &fakeSearcher{turns: []transcript.Turn{
			{Seq: 4, Role: transcript.RoleUser, Content: "tea please"},
		}},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/search?session=alpha&q=tea")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string][]map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body["results"], 1)
	assert.Equal(t, "tea please", body["results"][0]["content"])

	// Missing query and bad session id are rejected.
	resp, err = http.Get(ts.URL + "/search?session=alpha")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/search?q=tea")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearchDisabledWithoutSearcher(t *testing.T) {
	ts := setupGateway(t, &fakeSessions{session: &fakeSession{}})

	resp, err := http.Get(ts.URL + "/search?session=alpha&q=tea")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJSONFrameShapes(t *testing.T) {
	data, err := json.Marshal(newHistoryFrame([]transcript.Turn{
		{Role: transcript.RoleUser, Content: "hi"},
	}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"history","messages":[{"role":"user","content":"hi"}]}`, string(data))

	data, err = json.Marshal(ChunkFrame{Type: FrameChunk, Content: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"chunk","content":"x"}`, string(data))
}
