// Package session holds the per-user orchestration state: the live agent
// team, pending approval records, and the clarification rendezvous the proxy
// agent suspends on. The store multiplexes sessions across concurrent users.
package session

import (
	"context"
	"fmt"
	"sync"

	"magentic/pkg/logx"
)

// Rendezvous matches suspended clarification waiters with answers delivered
// later by an external event. Each request id carries exactly one waiter and
// is resolved at most once; the entry is removed as soon as it is consumed.
type Rendezvous struct {
	mu      sync.Mutex
	waiters map[string]chan string
	logger  *logx.Logger
}

// NewRendezvous creates an empty rendezvous table.
func NewRendezvous() *Rendezvous {
	return &Rendezvous{
		waiters: make(map[string]chan string),
		logger:  logx.NewLogger("rendezvous"),
	}
}

// Expect registers requestID and returns the one-shot channel its answer
// will arrive on. Must be called before the request is published so an
// answer can never race past its waiter.
func (r *Rendezvous) Expect(requestID string) <-chan string {
	ch := make(chan string, 1)
	r.mu.Lock()
	r.waiters[requestID] = ch
	r.mu.Unlock()
	return ch
}

// Await blocks until the answer for requestID arrives on ch or ctx is done.
// The entry is removed either way.
func (r *Rendezvous) Await(ctx context.Context, requestID string, ch <-chan string) (string, error) {
	select {
	case answer := <-ch:
		return answer, nil
	case <-ctx.Done():
		r.Cancel(requestID)
		return "", fmt.Errorf("clarification %s abandoned: %w", requestID, ctx.Err())
	}
}

// PostAnswer delivers an answer to the waiter for requestID. Idempotent:
// unknown or already-resolved ids are a no-op returning false, since
// duplicate delivery from the transport is possible.
func (r *Rendezvous) PostAnswer(requestID, answer string) bool {
	r.mu.Lock()
	ch, ok := r.waiters[requestID]
	if ok {
		delete(r.waiters, requestID)
	}
	r.mu.Unlock()
	if !ok {
		r.logger.Debug("answer for unknown or resolved request %s ignored", requestID)
		return false
	}
	// Buffered, and each id has exactly one channel, so this never blocks.
	ch <- answer
	return true
}

// Cancel removes requestID without delivering an answer.
func (r *Rendezvous) Cancel(requestID string) {
	r.mu.Lock()
	delete(r.waiters, requestID)
	r.mu.Unlock()
}

// Pending returns the number of unresolved requests.
func (r *Rendezvous) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}
