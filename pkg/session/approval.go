package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"magentic/pkg/plan"
	"magentic/pkg/proto"
)

// Decision is the terminal resolution of an approval record.
type Decision struct {
	Status   proto.ApprovalStatus
	Feedback string
}

// ApprovalRecord tracks one plan awaiting human approval. It is resolved at
// most once; the planner goroutine suspends on Wait until then.
type ApprovalRecord struct {
	ID        string
	Plan      *plan.MPlan
	CreatedAt time.Time

	mu       sync.Mutex
	status   proto.ApprovalStatus
	feedback string
	done     chan struct{}
}

// NewApprovalRecord creates a pending record for p.
func NewApprovalRecord(p *plan.MPlan) *ApprovalRecord {
	return &ApprovalRecord{
		ID:        proto.GenerateApprovalID(),
		Plan:      p,
		CreatedAt: time.Now().UTC(),
		status:    proto.ApprovalStatusPending,
		done:      make(chan struct{}),
	}
}

// Status returns the record's current status.
func (r *ApprovalRecord) Status() proto.ApprovalStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Resolve moves the record to a terminal status and releases the waiter.
// Resolving an already-resolved record is a no-op returning false.
func (r *ApprovalRecord) Resolve(status proto.ApprovalStatus, feedback string) bool {
	if !status.IsResolved() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.IsResolved() {
		return false
	}
	r.status = status
	r.feedback = feedback
	close(r.done)
	return true
}

// Wait suspends until the record resolves, the timeout elapses, or ctx is
// done. On timeout the record transitions to the terminal EXPIRED status so
// a late approval becomes a stale no-op. timeout < 1 waits indefinitely.
func (r *ApprovalRecord) Wait(ctx context.Context, timeout time.Duration) (Decision, error) {
	var expiry <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expiry = timer.C
	}

	select {
	case <-r.done:
	case <-expiry:
		if r.Resolve(proto.ApprovalStatusExpired, "approval timed out") {
			return r.decision(), nil
		}
		// Lost the race to a real resolution; fall through to it.
	case <-ctx.Done():
		r.Resolve(proto.ApprovalStatusExpired, "orchestration cancelled")
		return Decision{}, fmt.Errorf("approval %s abandoned: %w", r.ID, ctx.Err())
	}
	return r.decision(), nil
}

func (r *ApprovalRecord) decision() Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Decision{Status: r.status, Feedback: r.feedback}
}
