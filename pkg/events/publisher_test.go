package events

import (
	"context"
	"errors"
	"testing"
)

const publisherTestPrefix = "events:publisher_test"

func TestDiscard(t *testing.T) {
	if err := Discard.PublishRelayed(context.Background(), &RelayedEnvelope{Topic: "abc", Frame: "{}"}); err != nil {
		t.Errorf("%s - Discard returned %v", publisherTestPrefix, err)
	}
}

func TestPublisherFunc(t *testing.T) {
	var seen []*RelayedEnvelope
	boom := errors.New("backplane down")
	pub := PublisherFunc(func(_ context.Context, env *RelayedEnvelope) error {
		seen = append(seen, env)
		if env.Topic == "fail" {
			return boom
		}
		return nil
	})

	ok := &RelayedEnvelope{Origin: "node-a", Topic: "abc", Frame: `{"topic":"abc","type":"pub","payload":"x"}`}
	if err := pub.PublishRelayed(context.Background(), ok); err != nil {
		t.Errorf("%s - unexpected error %v", publisherTestPrefix, err)
	}
	if err := pub.PublishRelayed(context.Background(), &RelayedEnvelope{Topic: "fail"}); !errors.Is(err, boom) {
		t.Errorf("%s - error = %v, want %v", publisherTestPrefix, err, boom)
	}
	if len(seen) != 2 || seen[0] != ok {
		t.Errorf("%s - callback saw %+v", publisherTestPrefix, seen)
	}
}
