package events

import (
	"context"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/walletconnect/pkg/commsutil"
)

const pubFrame = `{"topic":"abc","type":"pub","payload":"x"}`

// startTestServer starts an in-process NATS server for testing.
func startTestServer(t *testing.T, port int) (*comms.Conn, func()) {
	t.Helper()

	opts := &commsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := commsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("events:comms_publisher_integration_test - failed to create server: %v", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("events:comms_publisher_integration_test - server failed to start")
	}

	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("events:comms_publisher_integration_test - failed to connect: %v", err)
	}

	cleanup := func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	}

	return nc, cleanup
}

func TestCommsPublisher_PublishRelayed_TopicSubject(t *testing.T) {
	nc, cleanup := startTestServer(t, 14230)
	defer cleanup()

	publisher := NewCommsPublisher(nc, &CommsPublisherOpts{Origin: "node-a"})

	received := make(chan *comms.Msg, 1)
	sub, err := nc.Subscribe(commsutil.BuildTopicSubject("abc"), func(msg *comms.Msg) {
		received <- msg
	})
	if err != nil {
		t.Fatalf("events:comms_publisher_integration_test - failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	err = publisher.PublishRelayed(context.Background(), &RelayedEnvelope{Topic: "abc", Frame: pubFrame})
	if err != nil {
		t.Fatalf("events:comms_publisher_integration_test - PublishRelayed failed: %v", err)
	}
	nc.Flush()

	select {
	case got := <-received:
		if string(got.Data) != pubFrame {
			t.Errorf("events:comms_publisher_integration_test - Data = %q, want raw frame", got.Data)
		}
		if o := got.Header.Get(commsutil.HeaderOrigin); o != "node-a" {
			t.Errorf("events:comms_publisher_integration_test - origin = %q, want node-a", o)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("events:comms_publisher_integration_test - timeout waiting for frame")
	}
}

func TestSubscribeRelayed_SkipsOwnOrigin(t *testing.T) {
	nc, cleanup := startTestServer(t, 14231)
	defer cleanup()

	received := make(chan *RelayedEnvelope, 4)
	sub, err := SubscribeRelayed(nc, "node-a", func(env *RelayedEnvelope) { received <- env })
	if err != nil {
		t.Fatalf("events:comms_publisher_integration_test - SubscribeRelayed failed: %v", err)
	}
	defer sub.Unsubscribe()

	self := NewCommsPublisher(nc, &CommsPublisherOpts{Origin: "node-a"})
	other := NewCommsPublisher(nc, &CommsPublisherOpts{Origin: "node-b"})
	peer := NewCommsPublisher(nc, nil)

	for _, p := range []*CommsPublisher{self, other, peer} {
		if err := p.PublishRelayed(context.Background(), &RelayedEnvelope{Topic: "abc", Frame: pubFrame}); err != nil {
			t.Fatalf("events:comms_publisher_integration_test - PublishRelayed failed: %v", err)
		}
	}
	if err := nc.Publish(commsutil.BuildTopicSubject("abc"), []byte("not a frame")); err != nil {
		t.Fatalf("events:comms_publisher_integration_test - Publish failed: %v", err)
	}
	nc.Flush()

	var origins []string
	deadline := time.After(2 * time.Second)
	for len(origins) < 2 {
		select {
		case env := <-received:
			if env.Topic != "abc" || env.Frame != pubFrame {
				t.Errorf("events:comms_publisher_integration_test - unexpected envelope %+v", env)
			}
			origins = append(origins, env.Origin)
		case <-deadline:
			t.Fatalf("events:comms_publisher_integration_test - got %v, want node-b and peer frames", origins)
		}
	}
	if origins[0] != "node-b" || origins[1] != "" {
		t.Errorf("events:comms_publisher_integration_test - origins = %v, want [node-b \"\"]", origins)
	}

	select {
	case env := <-received:
		t.Errorf("events:comms_publisher_integration_test - unexpected extra envelope %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNewCommsPublisher_NilOpts(t *testing.T) {
	nc, cleanup := startTestServer(t, 14232)
	defer cleanup()

	publisher := NewCommsPublisher(nc, nil)
	if publisher == nil {
		t.Fatal("events:comms_publisher_integration_test - expected non-nil publisher")
	}
	if publisher.origin != "" {
		t.Errorf("events:comms_publisher_integration_test - origin = %q, want empty", publisher.origin)
	}
}
