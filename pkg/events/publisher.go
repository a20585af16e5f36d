package events

import "context"

// EventPublisher mirrors relayed frames to other relay nodes.
type EventPublisher interface {
	PublishRelayed(ctx context.Context, env *RelayedEnvelope) error
}

// PublisherFunc adapts a function to EventPublisher. A nil PublisherFunc discards every
// envelope, which is what a single-node relay wants.
type PublisherFunc func(ctx context.Context, env *RelayedEnvelope) error

// Discard is the publisher of a relay without a backplane.
var Discard EventPublisher = PublisherFunc(nil)

// PublishRelayed calls f when it is set.
func (f PublisherFunc) PublishRelayed(ctx context.Context, env *RelayedEnvelope) error {
	if f == nil {
		return nil
	}
	return f(ctx, env)
}
