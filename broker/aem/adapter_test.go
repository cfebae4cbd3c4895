package aem

import (
	"context"
	"errors"
	"testing"

	"github.com/Azure/go-amqp"
	"github.com/google/go-cmp/cmp"

	"github.com/makibytes/aem/broker/amqpcommon"
	"github.com/makibytes/aem/broker/backends"
)

func TestQueueAdapterSend(t *testing.T) {
	conn := newFakeConnection()
	f := newServiceFixture(t, ServiceConfig{Name: "messaging"}, conn)
	f.start(t)

	a := NewQueueAdapter(f.service)
	if err := a.Send(context.Background(), backends.SendOptions{Queue: "orders", Message: []byte("m")}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	want := []published{{Address: "queue://orders", Data: "m", To: "queue://orders"}}
	if diff := cmp.Diff(want, conn.published); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}
	if n := f.validation.count(); n != 0 {
		t.Errorf("validation requests = %d, want 0", n)
	}
}

func TestQueueAdapterReceive(t *testing.T) {
	conn := newFakeConnection()
	conn.next = amqp.NewMessage([]byte("hello"))
	conn.next.ApplicationProperties = map[string]any{"k": "v"}
	f := newServiceFixture(t, ServiceConfig{Name: "messaging"}, conn)
	f.start(t)

	a := NewQueueAdapter(f.service)
	msg, err := a.Receive(context.Background(), backends.ReceiveOptions{Queue: "orders", Acknowledge: false, Timeout: 1})
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(msg.Data) != "hello" {
		t.Errorf("Data = %q, want %q", msg.Data, "hello")
	}
	if msg.Properties != nil {
		t.Errorf("Properties = %v, want nil without WithApplicationProperties", msg.Properties)
	}

	want := []amqpcommon.ReceiveOptions{{Address: "queue://orders", Timeout: 1, LinkName: "aem-receiver"}}
	if diff := cmp.Diff(want, conn.receives); diff != "" {
		t.Errorf("receive options mismatch (-want +got):\n%s", diff)
	}
}

func TestTopicAdapterSubscribeTimeout(t *testing.T) {
	f := newServiceFixture(t, ServiceConfig{Name: "messaging"}, newFakeConnection())
	f.start(t)

	_, err := NewTopicAdapter(f.service).Subscribe(context.Background(), backends.SubscribeOptions{Topic: "orders/created"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Subscribe = %v, want deadline exceeded", err)
	}
	if got := f.conn.receives[0]; got.Address != "topic://orders/created" || !got.Acknowledge {
		t.Errorf("receive options = %+v, want acknowledged topic receive", got)
	}
}

func TestTopicAdapterPublishAndClose(t *testing.T) {
	conn := newFakeConnection()
	f := newServiceFixture(t, ServiceConfig{Name: "messaging"}, conn)
	f.start(t)

	a := NewTopicAdapter(f.service)
	if err := a.Publish(context.Background(), backends.PublishOptions{Topic: "t", Message: []byte("m")}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if f.service.State() != StateStopped {
		t.Errorf("State = %v, want stopped", f.service.State())
	}
	if len(conn.published) != 1 || conn.closed != 1 {
		t.Errorf("published/closed = %d/%d, want 1/1", len(conn.published), conn.closed)
	}
}
