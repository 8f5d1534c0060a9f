package claude

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jamal-campbell/ai-tax-assistant/internal/core/ports"
)

const anthropicVersion = "2023-06-01"

// Client talks to the Anthropic Messages API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
}

func New(baseURL, apiKey, model string, maxTokens int) *Client {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		maxTokens:  maxTokens,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
	Stream    bool      `json:"stream,omitempty"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) Generate(ctx context.Context, req ports.GenerationRequest) (string, error) {
	payload := messagesRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    systemPrompt,
		Messages:  buildMessages(req),
	}

	var resp messagesResponse
	if err := c.postJSON(ctx, "/v1/messages", payload, &resp, "generate"); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("claude generate: %s: %s", resp.Error.Type, resp.Error.Message)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("claude generate: empty response")
	}
	return sb.String(), nil
}

// Stream yields text increments as the model produces them. The returned
// channel is bounded and closed when the stream ends; a failed stream carries
// the error on its final delta.
func (c *Client) Stream(ctx context.Context, req ports.GenerationRequest) (<-chan ports.GenerationDelta, error) {
	payload := messagesRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    systemPrompt,
		Messages:  buildMessages(req),
		Stream:    true,
	}

	resp, err := c.post(ctx, "/v1/messages", payload, "stream")
	if err != nil {
		return nil, err
	}

	out := make(chan ports.GenerationDelta, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}

			var event streamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue // tolerate unknown frames
			}
			switch event.Type {
			case "content_block_delta":
				if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
					select {
					case out <- ports.GenerationDelta{Text: event.Delta.Text}:
					case <-ctx.Done():
						out <- ports.GenerationDelta{Err: ctx.Err()}
						return
					}
				}
			case "error":
				out <- ports.GenerationDelta{Err: fmt.Errorf("claude stream: %s: %s", event.Err.Type, event.Err.Message)}
				return
			case "message_stop":
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- ports.GenerationDelta{Err: fmt.Errorf("claude stream read: %w", err)}
		}
	}()
	return out, nil
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Err struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Healthy reports whether the client is configured. The Messages API has no
// probe endpoint and a real call costs tokens.
func (c *Client) Healthy(context.Context) bool {
	return c.apiKey != "" && c.model != ""
}
