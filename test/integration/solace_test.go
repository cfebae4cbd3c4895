//go:build integration

package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Azure/go-amqp"
	"github.com/google/uuid"

	"github.com/makibytes/aem/broker/aem/binding"
	"github.com/makibytes/aem/broker/aem/client"
	"github.com/makibytes/aem/broker/amqpcommon"
)

func startSolace(t *testing.T) *BrokerContainer {
	t.Helper()
	ctx := context.Background()
	broker, err := StartSolace(ctx)
	if err != nil {
		t.Skipf("Solace container not available: %v", err)
	}
	t.Cleanup(func() { broker.Terminate(ctx) })
	return broker
}

func TestSolaceQueueProvisioning(t *testing.T) {
	broker := startSolace(t)
	ctx := context.Background()

	mgmt, err := client.NewManagementClient(binding.NewEndpointView(broker.Binding()),
		BasicAuth{User: broker.User, Password: broker.Password})
	if err != nil {
		t.Fatalf("NewManagementClient: %v", err)
	}

	queue := "it-" + uuid.NewString()[:8]
	dmq := queue + "-dmq"
	if err := mgmt.CreateQueue(ctx, dmq, nil); err != nil {
		t.Fatalf("CreateQueue(dmq): %v", err)
	}
	if err := mgmt.CreateQueue(ctx, queue, map[string]any{client.DeadMessageQueueAttribute: dmq}); err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}
	// creating again is a no-op
	if err := mgmt.CreateQueue(ctx, queue, nil); err != nil {
		t.Fatalf("CreateQueue again: %v", err)
	}

	desc, ok := mgmt.GetQueue(ctx, queue)
	if !ok {
		t.Fatal("queue not found after creation")
	}
	if desc.Attributes["deadMsgQueue"] != dmq || desc.Attributes["permission"] != "consume" {
		t.Errorf("attributes = %v", desc.Attributes)
	}

	for range 2 {
		if err := mgmt.CreateQueueSubscription(ctx, queue, "topic://it/orders/>"); err != nil {
			t.Fatalf("CreateQueueSubscription: %v", err)
		}
	}
	list, err := mgmt.GetQueueSubscription(ctx, queue)
	if err != nil {
		t.Fatalf("GetQueueSubscription: %v", err)
	}
	if len(list.Data) != 1 || list.Data[0].SubscriptionTopic != "it/orders/>" {
		t.Errorf("subscriptions = %+v", list.Data)
	}

	if err := mgmt.RemoveQueue(ctx, queue); err != nil {
		t.Fatalf("RemoveQueue: %v", err)
	}
	if err := mgmt.RemoveQueue(ctx, dmq); err != nil {
		t.Fatalf("RemoveQueue(dmq): %v", err)
	}
	if _, ok := mgmt.GetQueue(ctx, queue); ok {
		t.Error("queue still present after removal")
	}
}

func TestSolaceTopicToQueueRoundTrip(t *testing.T) {
	broker := startSolace(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	mgmt, err := client.NewManagementClient(binding.NewEndpointView(broker.Binding()),
		BasicAuth{User: broker.User, Password: broker.Password})
	if err != nil {
		t.Fatalf("NewManagementClient: %v", err)
	}
	queue := "it-" + uuid.NewString()[:8]
	if err := mgmt.CreateQueue(ctx, queue, nil); err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}
	t.Cleanup(func() { mgmt.RemoveQueue(context.Background(), queue) }) //nolint:errcheck
	if err := mgmt.CreateQueueSubscription(ctx, queue, "it/"+queue+"/>"); err != nil {
		t.Fatalf("CreateQueueSubscription: %v", err)
	}

	var session *amqp.Session
	err = WaitForBroker(func() error {
		conn, sess, err := amqpcommon.Connect(ctx, amqpcommon.ConnArguments{
			Server: broker.URL, User: "default", Password: "default",
		}, nil)
		if err != nil {
			return err
		}
		t.Cleanup(func() { conn.Close() }) //nolint:errcheck
		session = sess
		return nil
	}, 30*time.Second)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	sender, err := session.NewSender(ctx, "topic://it/"+queue+"/created", nil)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	err = sender.Send(ctx, amqpcommon.NewMessage(amqpcommon.SendArguments{
		Message:   []byte("hello"),
		MessageID: "it-1",
		Durable:   true,
	}), nil)
	sender.Close(ctx) //nolint:errcheck
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	msg, err := amqpcommon.ReceiveMessage(ctx, session, amqpcommon.ReceiveOptions{
		Address:     "queue://" + queue,
		Timeout:     10,
		Acknowledge: true,
		LinkName:    fmt.Sprintf("it-%s", queue),
	})
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	if string(msg.GetData()) != "hello" {
		t.Errorf("data = %q, want %q", msg.GetData(), "hello")
	}
}
