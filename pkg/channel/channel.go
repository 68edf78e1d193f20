// Package channel delivers outbound events to users. Delivery is
// fire-and-forget: orchestration progress never depends on a listener being
// connected, and delivery failures are logged, not raised.
package channel

import (
	"magentic/pkg/proto"
)

// Publisher sends an event toward its user's outbound channel. Publish must
// not block orchestration and must not fail it.
type Publisher interface {
	Publish(event *proto.Event)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(event *proto.Event)

// Publish calls f(event).
func (f PublisherFunc) Publish(event *proto.Event) { f(event) }

// Discard is a Publisher that drops every event. Useful in tests and for
// headless runs.
var Discard Publisher = PublisherFunc(func(*proto.Event) {})

// Tee fans one event out to several publishers, in order.
func Tee(publishers ...Publisher) Publisher {
	return PublisherFunc(func(event *proto.Event) {
		for _, p := range publishers {
			p.Publish(event)
		}
	})
}
