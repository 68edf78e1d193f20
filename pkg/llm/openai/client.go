// Package openai implements the llm.Client interface over the OpenAI
// Responses API.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"magentic/pkg/llm"
)

// Client wraps the official OpenAI Go client.
type Client struct {
	client openai.Client
	model  string
}

// NewClient creates a client for the given model.
func NewClient(apiKey, model string) llm.Client {
	return &Client{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Complete implements llm.Client. The Responses API takes a single input
// string, so the conversation is flattened with role prefixes.
func (c *Client) Complete(ctx context.Context, in llm.Request) (llm.Response, error) {
	if len(in.Messages) == 0 {
		return llm.Response{}, llm.NewError(llm.ErrorTypeBadPrompt, "message list cannot be empty")
	}

	var input strings.Builder
	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			fmt.Fprintf(&input, "System: %s\n\n", msg.Content)
		case llm.RoleAssistant:
			fmt.Fprintf(&input, "Assistant: %s\n\n", msg.Content)
		default:
			input.WriteString(msg.Content)
			input.WriteString("\n\n")
		}
	}

	params := responses.ResponseNewParams{
		Model:           c.model,
		MaxOutputTokens: openai.Int(int64(in.MaxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(strings.TrimSpace(input.String()))},
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return llm.Response{}, classifyError(err)
	}
	if resp == nil {
		return llm.Response{}, llm.NewError(llm.ErrorTypeEmptyResponse, "received nil response from OpenAI Responses API")
	}

	content := resp.OutputText()
	if content == "" {
		return llm.Response{}, llm.NewError(llm.ErrorTypeEmptyResponse, "received empty output from OpenAI Responses API")
	}

	return llm.Response{
		Content:    content,
		StopReason: "end_turn",
	}, nil
}

// ModelName implements llm.Client.
func (c *Client) ModelName() string { return c.model }

func classifyError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return llm.WrapError(llm.ErrorTypeRateLimit, "OpenAI rate limit", err)
	case strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		return llm.WrapError(llm.ErrorTypeAuth, "OpenAI auth failure", err)
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid"):
		return llm.WrapError(llm.ErrorTypeBadPrompt, "OpenAI rejected request", err)
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") ||
		strings.Contains(msg, "timeout") || strings.Contains(msg, "EOF"):
		return llm.WrapError(llm.ErrorTypeTransient, "OpenAI transient failure", err)
	default:
		return llm.WrapError(llm.ErrorTypeUnknown, "OpenAI API error", err)
	}
}
