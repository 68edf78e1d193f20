// Package ollama implements the llm.Client interface against a local Ollama
// server.
package ollama

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"magentic/pkg/llm"
)

// Client wraps the Ollama API client.
type Client struct {
	client *api.Client
	model  string
}

// NewClient creates a client against hostURL (e.g. "http://localhost:11434").
// An unparseable URL falls back to the default local server.
func NewClient(hostURL, model string) llm.Client {
	parsed, err := url.Parse(hostURL)
	if err != nil || parsed.Host == "" {
		parsed, _ = url.Parse("http://localhost:11434")
	}
	return &Client{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  model,
	}
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, in llm.Request) (llm.Response, error) {
	if len(in.Messages) == 0 {
		return llm.Response{}, llm.NewError(llm.ErrorTypeBadPrompt, "message list cannot be empty")
	}

	messages := make([]api.Message, 0, len(in.Messages))
	for i := range in.Messages {
		messages = append(messages, api.Message{
			Role:    string(in.Messages[i].Role),
			Content: in.Messages[i].Content,
		})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}

	var response api.ChatResponse
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.Response{}, classifyError(err)
	}
	if response.Message.Content == "" {
		return llm.Response{}, llm.NewError(llm.ErrorTypeEmptyResponse, "received empty response from Ollama")
	}

	return llm.Response{
		Content:    response.Message.Content,
		StopReason: stopReason(&response),
	}, nil
}

// ModelName implements llm.Client.
func (c *Client) ModelName() string { return c.model }

func stopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}
	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}

func classifyError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return llm.WrapError(llm.ErrorTypeTransient, "Ollama server not reachable", err)
	case strings.Contains(msg, "model") && strings.Contains(msg, "not found"):
		return llm.WrapError(llm.ErrorTypeBadPrompt, "Ollama model not found", err)
	case strings.Contains(msg, "context canceled") || strings.Contains(msg, "timeout"):
		return llm.WrapError(llm.ErrorTypeTransient, "Ollama request interrupted", err)
	default:
		return llm.WrapError(llm.ErrorTypeUnknown, "Ollama API error", err)
	}
}
