package completion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// CompatProvider implements Provider for OpenAI-compatible endpoints (local
// inference servers, proxies). It speaks the chat-completions wire format
// directly and reassembles the event stream itself.
type CompatProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewCompatProvider creates a provider for an OpenAI-compatible endpoint.
// baseURL is the API root, e.g. http://localhost:11434/v1.
func NewCompatProvider(baseURL, apiKey string) *CompatProvider {
	return &CompatProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			// Generation can be slow; the per-call context still applies.
			Timeout: 5 * time.Minute,
		},
	}
}

// Name returns the provider name
func (p *CompatProvider) Name() string {
	return "compat"
}

type compatRequest struct {
	Model       string          `json:"model"`
	Messages    []compatMessage `json:"messages"`
	Stream      bool            `json:"stream,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type compatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type compatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type compatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (p *CompatProvider) buildRequest(req Request, stream bool) compatRequest {
	messages := []compatMessage{}
	if req.SystemPrompt != "" {
		messages = append(messages, compatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, msg := range req.Messages {
		messages = append(messages, compatMessage{Role: msg.Role, Content: msg.Content})
	}

	return compatRequest{
		Model:       req.Model,
		Messages:    messages,
		Stream:      stream,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}

func (p *CompatProvider) newHTTPRequest(ctx context.Context, body interface{}) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	return httpReq, nil
}

// Complete makes a non-streaming call
func (p *CompatProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := p.newHTTPRequest(ctx, p.buildRequest(req, false))
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("completion API error: %s - %s", resp.Status, string(bodyBytes))
	}

	var out compatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	return &Response{Content: out.Choices[0].Message.Content}, nil
}

// Stream makes a streaming call and reassembles the chunked event stream into
// ordered deltas. Logical events split across network reads are buffered until
// complete; individually malformed event frames are skipped, not fatal.
func (p *CompatProvider) Stream(ctx context.Context, req Request) (<-chan Delta, error) {
	httpReq, err := p.newHTTPRequest(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	deltas := make(chan Delta)

	go func() {
		defer close(deltas)

		resp, err := p.client.Do(httpReq)
		if err != nil {
			deltas <- Delta{Err: err}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			deltas <- Delta{Err: fmt.Errorf("completion API error: %s - %s", resp.Status, string(bodyBytes))}
			return
		}

		p.readEvents(resp.Body, deltas)
	}()

	return deltas, nil
}

// readEvents consumes the server-sent event stream from r and emits deltas.
// bufio carries partial lines across read boundaries; an event's data lines
// are accumulated until the blank separator line so an event split across
// reads is reassembled before parsing.
func (p *CompatProvider) readEvents(r io.Reader, deltas chan<- Delta) {
	reader := bufio.NewReader(r)
	var data strings.Builder

	dispatch := func() bool {
		if data.Len() == 0 {
			return true
		}
		payload := data.String()
		data.Reset()

		if payload == "[DONE]" {
			deltas <- Delta{Done: true}
			return false
		}

		var chunk compatChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// One corrupt frame must not abort the whole stream.
			return true
		}
		if len(chunk.Choices) == 0 {
			return true
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			deltas <- Delta{Content: content}
		}
		return true
	}

	for {
		line, err := reader.ReadString('\n')

		if len(line) > 0 {
			trimmed := strings.TrimRight(line, "\r\n")
			switch {
			case trimmed == "":
				if !dispatch() {
					return
				}
			case strings.HasPrefix(trimmed, "data:"):
				data.WriteString(strings.TrimPrefix(strings.TrimPrefix(trimmed, "data:"), " "))
			default:
				// comments and other SSE fields are ignored
			}
		}

		if err == io.EOF {
			// Flush a trailing event that was not followed by a blank line.
			if !dispatch() {
				return
			}
			deltas <- Delta{Err: fmt.Errorf("stream ended without completion marker")}
			return
		}
		if err != nil {
			deltas <- Delta{Err: err}
			return
		}
	}
}
