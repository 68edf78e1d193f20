// Package llm defines the completion client interface the planner and
// executor capabilities are built on, plus error classification for retry
// decisions.
package llm

import (
	"context"
)

// Role of a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Default sampling settings for planning and step execution.
const (
	TemperatureDefault = 0.3
	DefaultMaxTokens   = 4096
)

// Message is one turn in a completion request.
type Message struct {
	Role    Role
	Content string
}

// Request is a completion request.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// Response is the result of a completion request.
type Response struct {
	Content    string
	StopReason string // "end_turn", "max_tokens", ...
}

// Client is the interface all provider implementations satisfy.
type Client interface {
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, in Request) (Response, error)

	// ModelName returns the model this client targets.
	ModelName() string
}

// NewRequest builds a request with default sampling settings.
func NewRequest(messages []Message) Request {
	return Request{
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: TemperatureDefault,
	}
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant-role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
