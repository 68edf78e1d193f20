// Package contextmgr manages conversation context for planner and agent
// prompts, with tiktoken-based token budgeting.
package contextmgr

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
)

// Message is one role/content pair in the accumulated context.
type Message struct {
	Role    string
	Content string
}

// TokenCounter counts tokens with a tiktoken codec. All supported models are
// approximated with the GPT-4 encoding, which is close enough for budgeting.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a counter. Codec construction failures degrade to
// the character heuristic rather than erroring.
func NewTokenCounter() *TokenCounter {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{codec: codec}
}

// Count returns the token count for text, falling back to len/4 when no
// codec is available.
func (tc *TokenCounter) Count(text string) int {
	if tc.codec == nil {
		return len(text) / 4
	}
	n, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// Truncate shortens text to roughly fit limit tokens. Truncation is by
// characters, proportional to the overshoot, with a safety margin.
func (tc *TokenCounter) Truncate(text string, limit int) string {
	current := tc.Count(text)
	if current <= limit {
		return text
	}
	ratio := float64(limit) / float64(current)
	charLimit := int(float64(len(text)) * ratio * 0.9)
	if charLimit >= len(text) {
		return text
	}
	if charLimit < 0 {
		charLimit = 0
	}
	// Back the cut off to a rune boundary so multi-byte text stays valid.
	for charLimit > 0 && !utf8.RuneStart(text[charLimit]) {
		charLimit--
	}
	return text[:charLimit] + "..."
}

// Manager accumulates conversation messages and renders them into a prompt
// bounded by a token budget. Oldest messages are evicted first.
type Manager struct {
	messages []Message
	counter  *TokenCounter
	budget   int
}

// NewManager creates a manager with the given token budget. A budget < 1
// disables eviction.
func NewManager(budget int) *Manager {
	return &Manager{
		counter: NewTokenCounter(),
		budget:  budget,
	}
}

// Add appends a role/content pair to the context.
func (m *Manager) Add(role, content string) {
	m.messages = append(m.messages, Message{Role: role, Content: content})
}

// Messages returns a copy of the current context.
func (m *Manager) Messages() []Message {
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// TokenCount returns the token footprint of the rendered context.
func (m *Manager) TokenCount() int {
	return m.counter.Count(m.render())
}

// Compact drops oldest messages until the rendered context fits the budget.
// The most recent message is always kept, truncated if necessary.
func (m *Manager) Compact() {
	if m.budget < 1 {
		return
	}
	for len(m.messages) > 1 && m.TokenCount() > m.budget {
		m.messages = m.messages[1:]
	}
	if len(m.messages) == 1 && m.TokenCount() > m.budget {
		m.messages[0].Content = m.counter.Truncate(m.messages[0].Content, m.budget)
	}
}

// Render compacts and returns the conversation formatted for a prompt.
func (m *Manager) Render() string {
	m.Compact()
	return m.render()
}

func (m *Manager) render() string {
	var b strings.Builder
	for i := range m.messages {
		fmt.Fprintf(&b, "%s: %s\n", m.messages[i].Role, m.messages[i].Content)
	}
	return b.String()
}

// Clear resets the context.
func (m *Manager) Clear() {
	m.messages = nil
}
