package proto

import (
	"testing"
)

func TestEventRoundTrip(t *testing.T) {
	ev := NewEvent(EventTypePlanApprovalRequest, "user-1")
	ev.SetPayload("request_id", "a_123")
	ev.SetPayload("question", "proceed?")

	data, err := ev.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}

	parsed, err := EventFromJSON(data)
	if err != nil {
		t.Fatalf("EventFromJSON failed: %v", err)
	}
	if parsed.Type != EventTypePlanApprovalRequest {
		t.Errorf("expected type %s, got %s", EventTypePlanApprovalRequest, parsed.Type)
	}
	if parsed.UserID != "user-1" {
		t.Errorf("expected user-1, got %s", parsed.UserID)
	}
	if got := parsed.PayloadString("request_id"); got != "a_123" {
		t.Errorf("expected request_id a_123, got %q", got)
	}
}

func TestEventValidate(t *testing.T) {
	ev := NewEvent(EventTypeFinalResult, "user-1")
	if err := ev.Validate(); err != nil {
		t.Errorf("valid event rejected: %v", err)
	}

	bad := NewEvent(EventType("bogus"), "user-1")
	if err := bad.Validate(); err == nil {
		t.Error("expected validation error for unknown event type")
	}

	noUser := NewEvent(EventTypeFinalResult, "")
	if err := noUser.Validate(); err == nil {
		t.Error("expected validation error for missing user_id")
	}
}

func TestPlanStatusTerminal(t *testing.T) {
	cases := map[PlanStatus]bool{
		PlanStatusCreated:   false,
		PlanStatusQueued:    false,
		PlanStatusRunning:   false,
		PlanStatusCompleted: true,
		PlanStatusFailed:    true,
		PlanStatusCancelled: true,
	}
	for status, terminal := range cases {
		if status.IsTerminal() != terminal {
			t.Errorf("%s: expected IsTerminal()=%v", status, terminal)
		}
	}
}

func TestParseApprovalStatus(t *testing.T) {
	status, err := ParseApprovalStatus("approved")
	if err != nil {
		t.Fatalf("lowercase status should normalize: %v", err)
	}
	if status != ApprovalStatusApproved {
		t.Errorf("expected APPROVED, got %s", status)
	}

	if _, err := ParseApprovalStatus("maybe"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestGeneratedIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateApprovalID()
		if seen[id] {
			t.Fatalf("duplicate approval ID: %s", id)
		}
		seen[id] = true
	}
}
