package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestMemoryPublisherRecordsInOrder(t *testing.T) {
	pub := NewMemoryPublisher()
	ctx := context.Background()

	seq := []string{TypeExecutionStarted, TypeNodeStarted, TypeNodeSucceeded, TypeExecutionCompleted}
	for _, typ := range seq {
		err := pub.Publish(ctx, &Event{ExecutionID: "exec-1", Type: typ})
		if err != nil {
			t.Fatalf("publish %s: %v", typ, err)
		}
	}
	if err := pub.Publish(ctx, &Event{ExecutionID: "exec-2", Type: TypeExecutionStarted}); err != nil {
		t.Fatalf("publish other execution: %v", err)
	}

	got := pub.Types("exec-1")
	if len(got) != len(seq) {
		t.Fatalf("recorded %d events, want %d", len(got), len(seq))
	}
	for i, typ := range seq {
		if got[i] != typ {
			t.Errorf("event[%d] = %s, want %s", i, got[i], typ)
		}
	}

	for _, e := range pub.Events() {
		if e.Timestamp.IsZero() {
			t.Errorf("event %s missing timestamp", e.Type)
		}
	}
}

func TestPublishRejectsMissingExecutionID(t *testing.T) {
	pub := NewMemoryPublisher()
	if err := pub.Publish(context.Background(), &Event{Type: TypeNodeStarted}); err == nil {
		t.Fatal("expected error for event without execution_id")
	}
	if err := pub.Publish(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil event")
	}
}

func TestHubBroadcastReachesSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil)
	go hub.Run(ctx)

	sub1 := hub.Subscribe("exec-1")
	sub2 := hub.Subscribe("exec-1")
	other := hub.Subscribe("exec-2")
	defer sub1.Close()
	defer sub2.Close()
	defer other.Close()

	hub.Broadcast("exec-1", []byte(`{"type":"node.started"}`))

	for i, sub := range []*Subscription{sub1, sub2} {
		select {
		case data := <-sub.C:
			if string(data) != `{"type":"node.started"}` {
				t.Errorf("subscriber %d got %s", i, data)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never received broadcast", i)
		}
	}

	select {
	case data := <-other.C:
		t.Fatalf("exec-2 subscriber received foreign broadcast: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubClosesChannelOnUnsubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil)
	go hub.Run(ctx)

	sub := hub.Subscribe("exec-1")
	sub.Close()

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatal("expected closed channel after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after Close")
	}

	// Second close is a no-op.
	sub.Close()
}

func TestHubPublisherDeliversEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil)
	go hub.Run(ctx)

	sub := hub.Subscribe("exec-1")
	defer sub.Close()

	pub := NewHubPublisher(hub)
	err := pub.Publish(ctx, &Event{
		ExecutionID: "exec-1",
		Type:        TypeNodeSucceeded,
		NodeID:      "fetch",
		Data:        map[string]interface{}{"items": 3},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case data := <-sub.C:
		var got Event
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal broadcast: %v", err)
		}
		if got.Type != TypeNodeSucceeded || got.NodeID != "fetch" {
			t.Errorf("got event %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no broadcast received")
	}
}

func TestExecutionFromChannel(t *testing.T) {
	tests := []struct {
		channel string
		want    string
	}{
		{"flow:events:exec-123", "exec-123"},
		{"flow:events:", ""},
		{"flow:events:a:b", ""},
		{"other:events:exec-123", ""},
	}
	for _, tt := range tests {
		if got := executionFromChannel(tt.channel); got != tt.want {
			t.Errorf("executionFromChannel(%q) = %q, want %q", tt.channel, got, tt.want)
		}
	}
}
