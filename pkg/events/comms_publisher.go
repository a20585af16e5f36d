package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/walletconnect/pkg/commsutil"
	"github.com/morezero/walletconnect/pkg/serializer"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// Origin is stamped on every mirrored frame so the publishing node can skip its own
	// frames. Overrides RelayedEnvelope.Origin when set.
	Origin string
}

// CommsPublisher mirrors relayed frames onto the topic subjects of the NATS backplane. The
// message body is the raw envelope text so NATS-transport peers can read it directly.
type CommsPublisher struct {
	nc     *comms.Conn
	origin string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	p := &CommsPublisher{nc: nc}
	if opts != nil {
		p.origin = opts.Origin
	}
	return p
}

// PublishRelayed publishes env.Frame on the subject for env.Topic.
func (p *CommsPublisher) PublishRelayed(_ context.Context, env *RelayedEnvelope) error {
	origin := env.Origin
	if p.origin != "" {
		origin = p.origin
	}

	msg := comms.NewMsg(commsutil.BuildTopicSubject(env.Topic))
	msg.Data = []byte(env.Frame)
	if origin != "" {
		msg.Header.Set(commsutil.HeaderOrigin, origin)
	}

	if err := p.nc.PublishMsg(msg); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, msg.Subject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Mirrored frame for topic %s", commsPublisherLogPrefix, env.Topic))
	return nil
}

// SubscribeRelayed delivers every pub frame on the backplane to handler, skipping frames
// stamped with self as their origin. Frames from NATS peers carry no origin and are delivered.
func SubscribeRelayed(nc *comms.Conn, self string, handler func(*RelayedEnvelope)) (*comms.Subscription, error) {
	sub, err := nc.Subscribe(commsutil.SubjectAllTopics, func(m *comms.Msg) {
		origin := m.Header.Get(commsutil.HeaderOrigin)
		if self != "" && origin == self {
			return
		}
		env, err := serializer.ParseEnvelope(string(m.Data))
		if err != nil || env.Type != serializer.TypePub {
			slog.Warn(fmt.Sprintf("%s - dropping invalid frame on %s: %v", commsPublisherLogPrefix, m.Subject, err))
			return
		}
		handler(&RelayedEnvelope{
			Origin:    origin,
			Topic:     env.Topic,
			Frame:     string(m.Data),
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", commsPublisherLogPrefix, commsutil.SubjectAllTopics, err)
	}
	return sub, nil
}
