// Package events relays change notifications returned by the registration
// engine to external transports. The engine never publishes directly; its
// callers hand the returned events to a Publisher.
package events

import (
	"context"

	"github.com/pickup-scheduler/internal/domain"
)

// Publisher relays change events to one transport. Implementations log
// delivery failures instead of failing the originating request.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event)
}

// Fanout relays each event to every configured publisher
type Fanout struct {
	publishers []Publisher
}

// NewFanout creates a fan-out over the given publishers
func NewFanout(publishers ...Publisher) *Fanout {
	return &Fanout{publishers: publishers}
}

// Publish relays the event to all publishers
func (f *Fanout) Publish(ctx context.Context, event domain.Event) {
	for _, p := range f.publishers {
		p.Publish(ctx, event)
	}
}

// PublishAll relays a batch of events in order
func (f *Fanout) PublishAll(ctx context.Context, evts []domain.Event) {
	for _, e := range evts {
		f.Publish(ctx, e)
	}
}
