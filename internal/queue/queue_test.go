package queue

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	messages, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	want := Message{Type: "proof", Body: []byte(`{"student_id":"s1"}`)}
	if err := q.Publish(ctx, want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-messages:
		if got.Type != want.Type || !bytes.Equal(got.Body, want.Body) {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("message never delivered")
	}
}

func TestInMemoryPublishBlockedByCancel(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())

	// Fill the buffer; the next publish has nowhere to go.
	if err := q.Publish(ctx, Message{Type: "proof"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	cancel()
	if err := q.Publish(ctx, Message{Type: "proof"}); err == nil {
		t.Fatal("publish on cancelled context succeeded")
	}
}

func TestConsumeClosesOnCancel(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())

	messages, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	cancel()

	select {
	case _, ok := <-messages:
		if ok {
			t.Fatal("unexpected message after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel never closed")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	cases := []Message{
		{Type: "proof", Body: []byte("plain")},
		{Type: "proof", Body: []byte("body|with|pipes")},
		{Type: "proof", Body: nil},
	}
	for _, msg := range cases {
		got := deserialize(serialize(msg))
		if got.Type != msg.Type || string(got.Body) != string(msg.Body) {
			t.Fatalf("round trip changed %+v into %+v", msg, got)
		}
	}
}

func TestDeserializeWithoutSeparator(t *testing.T) {
	got := deserialize("no separator here")
	if got.Type != "" || string(got.Body) != "no separator here" {
		t.Fatalf("got %+v", got)
	}
}
