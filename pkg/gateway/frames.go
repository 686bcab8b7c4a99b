package gateway

import "github.com/solace-labs/sessiond/pkg/transcript"

// Frame types of the session protocol. Inbound carries only user_message;
// everything else is outbound.
const (
	FrameUserMessage = "user_message"
	FrameHistory     = "history"
	FrameConnected   = "connected"
	FrameChunk       = "chunk"
	FrameDone        = "done"
	FrameError       = "error"
)

// InboundFrame is a client frame. Unknown types are answered with an error
// frame, never fatal to the connection.
type InboundFrame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// HistoryMessage is one prior turn in the connect-time snapshot.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HistoryFrame replays recent turns, oldest first. Sent at most once per
// connection, before the connected frame.
type HistoryFrame struct {
	Type     string           `json:"type"`
	Messages []HistoryMessage `json:"messages"`
}

// ConnectedFrame signals the session is ready for messages.
type ConnectedFrame struct {
	Type string `json:"type"`
}

// ChunkFrame carries one streamed response delta.
type ChunkFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// DoneFrame terminates a successful response. Exactly one per completed
// response.
type DoneFrame struct {
	Type string `json:"type"`
}

// ErrorFrame terminates a failed response or reports a protocol error.
type ErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func newHistoryFrame(turns []transcript.Turn) HistoryFrame {
	msgs := make([]HistoryMessage, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, HistoryMessage{Role: string(t.Role), Content: t.Content})
	}
	return HistoryFrame{Type: FrameHistory, Messages: msgs}
}
