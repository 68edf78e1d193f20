package anthropic

import (
	"testing"

	"magentic/pkg/llm"
)

func TestPrepareMessagesExtractsSystem(t *testing.T) {
	system, alternating, err := prepareMessages([]llm.Message{
		llm.SystemMessage("you are a planner"),
		llm.UserMessage("plan this"),
	})
	if err != nil {
		t.Fatalf("prepareMessages failed: %v", err)
	}
	if system != "you are a planner" {
		t.Errorf("unexpected system prompt: %q", system)
	}
	if len(alternating) != 1 || alternating[0].Role != llm.RoleUser {
		t.Errorf("expected single user message, got %+v", alternating)
	}
}

func TestPrepareMessagesMergesConsecutiveRoles(t *testing.T) {
	_, alternating, err := prepareMessages([]llm.Message{
		llm.UserMessage("part one"),
		llm.UserMessage("part two"),
	})
	if err != nil {
		t.Fatalf("prepareMessages failed: %v", err)
	}
	if len(alternating) != 1 {
		t.Fatalf("expected merge into 1 message, got %d", len(alternating))
	}
	if alternating[0].Content != "part one\n\npart two" {
		t.Errorf("unexpected merged content: %q", alternating[0].Content)
	}
}

func TestPrepareMessagesRejectsAssistantEnd(t *testing.T) {
	_, _, err := prepareMessages([]llm.Message{
		llm.UserMessage("hi"),
		llm.AssistantMessage("hello"),
	})
	if err == nil {
		t.Error("expected error when last message is not user role")
	}
}

func TestPrepareMessagesRejectsEmpty(t *testing.T) {
	if _, _, err := prepareMessages(nil); err == nil {
		t.Error("expected error for empty message list")
	}
}
