package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/solace-labs/sessiond/pkg/transcript"
)

// Client is one websocket connection bound to a session. It implements the
// session actor's sink; the write mutex keeps concurrent frame writers from
// interleaving on the wire.
type Client struct {
	ID          string
	SessionID   string
	ConnectedAt time.Time
	IPAddress   string

	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newClient(id, sessionID, ip string, conn *websocket.Conn) *Client {
	return &Client{
		ID:          id,
		SessionID:   sessionID,
		ConnectedAt: time.Now(),
		IPAddress:   ip,
		conn:        conn,
	}
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// SendHistory replays prior turns, oldest first.
func (c *Client) SendHistory(turns []transcript.Turn) error {
	return c.writeJSON(newHistoryFrame(turns))
}

// SendConnected signals readiness. Always follows any history frame.
func (c *Client) SendConnected() error {
	return c.writeJSON(ConnectedFrame{Type: FrameConnected})
}

// SendChunk forwards one response delta.
func (c *Client) SendChunk(content string) error {
	return c.writeJSON(ChunkFrame{Type: FrameChunk, Content: content})
}

// SendDone terminates a successful response.
func (c *Client) SendDone() error {
	return c.writeJSON(DoneFrame{Type: FrameDone})
}

// SendError reports a failure or protocol error.
func (c *Client) SendError(message string) error {
	return c.writeJSON(ErrorFrame{Type: FrameError, Error: message})
}

func (c *Client) close() error {
	return c.conn.Close()
}
