// Package proto defines the event envelope and status enums shared between
// the orchestration core and the transport edges.
package proto

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// EventType identifies an outbound event on a user's channel.
type EventType string

const (
	EventTypePlanApprovalRequest EventType = "plan_approval_request"
	EventTypeAgentMessage        EventType = "agent_message"
	EventTypeClarificationReq    EventType = "user_clarification_request"
	EventTypeFinalResult         EventType = "final_result_message"
	EventTypeStepUpdate          EventType = "step_update"
)

// ValidateEventType reports whether a string names a known event type.
func ValidateEventType(s string) (EventType, bool) {
	switch EventType(s) {
	case EventTypePlanApprovalRequest, EventTypeAgentMessage, EventTypeClarificationReq,
		EventTypeFinalResult, EventTypeStepUpdate:
		return EventType(s), true
	default:
		return "", false
	}
}

func (t EventType) String() string { return string(t) }

// Event is the envelope published to a user's outbound channel. Delivery is
// fire-and-forget; the payload map carries the type-specific fields.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	UserID    string         `json:"user_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

func NewEvent(eventType EventType, userID string) *Event {
	return &Event{
		ID:        generateID("ev"),
		Type:      eventType,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Payload:   make(map[string]any),
	}
}

func (e *Event) SetPayload(key string, value any) {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
}

func (e *Event) GetPayload(key string) (any, bool) {
	if e.Payload == nil {
		return nil, false
	}
	v, ok := e.Payload[key]
	return v, ok
}

// PayloadString extracts a string payload field, empty if absent or not a
// string.
func (e *Event) PayloadString(key string) string {
	if v, ok := e.GetPayload(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (e *Event) ToJSON() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

func EventFromJSON(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return &e, nil
}

func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event ID is required")
	}
	if e.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if _, ok := ValidateEventType(string(e.Type)); !ok {
		return fmt.Errorf("invalid event type: %s", e.Type)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// PlanStatus is the overall status of an orchestration run.
type PlanStatus string

const (
	PlanStatusCreated   PlanStatus = "created"
	PlanStatusQueued    PlanStatus = "queued"
	PlanStatusRunning   PlanStatus = "running"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusFailed    PlanStatus = "failed"
	PlanStatusCancelled PlanStatus = "cancelled"
)

func (s PlanStatus) String() string { return string(s) }

// IsTerminal reports whether a plan in this status will never change again.
func (s PlanStatus) IsTerminal() bool {
	switch s {
	case PlanStatusCompleted, PlanStatusFailed, PlanStatusCancelled:
		return true
	default:
		return false
	}
}

// ParsePlanStatus normalizes and validates a plan status string.
func ParsePlanStatus(s string) (PlanStatus, error) {
	switch PlanStatus(strings.ToLower(s)) {
	case PlanStatusCreated, PlanStatusQueued, PlanStatusRunning,
		PlanStatusCompleted, PlanStatusFailed, PlanStatusCancelled:
		return PlanStatus(strings.ToLower(s)), nil
	default:
		return "", fmt.Errorf("unknown plan status: %s", s)
	}
}

// ApprovalStatus is the state of a pending plan-approval record.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING_APPROVAL"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusRejected ApprovalStatus = "REJECTED"
	// ApprovalStatusExpired is the terminal state reached when no human
	// decision arrives before the configured deadline.
	ApprovalStatusExpired ApprovalStatus = "EXPIRED"
)

func (s ApprovalStatus) String() string { return string(s) }

// IsResolved reports whether the record has reached a terminal state.
func (s ApprovalStatus) IsResolved() bool {
	return s == ApprovalStatusApproved || s == ApprovalStatusRejected || s == ApprovalStatusExpired
}

// ParseApprovalStatus normalizes and validates an approval status string.
func ParseApprovalStatus(s string) (ApprovalStatus, error) {
	switch ApprovalStatus(strings.ToUpper(s)) {
	case ApprovalStatusPending, ApprovalStatusApproved, ApprovalStatusRejected, ApprovalStatusExpired:
		return ApprovalStatus(strings.ToUpper(s)), nil
	default:
		return "", fmt.Errorf("unknown approval status: %s", s)
	}
}

var (
	idCounter int64
	idMu      sync.Mutex
)

func generateID(prefix string) string {
	idMu.Lock()
	defer idMu.Unlock()
	idCounter++
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), idCounter)
}

// GenerateApprovalID creates a unique ID for a plan-approval record.
func GenerateApprovalID() string { return generateID("a") }

// GenerateClarificationID creates a unique ID for a clarification request.
func GenerateClarificationID() string { return generateID("c") }
