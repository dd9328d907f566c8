package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupNotifier(t *testing.T) *Notifier {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewWithClient(client)
}

func TestPublishSubscribe(t *testing.T) {
	notifier := setupNotifier(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := notifier.Subscribe(ctx, "questions")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	notifier.Publish(ctx, "questions", "created", "q_1")

	select {
	case event := <-events:
		if event.Topic != "questions" {
			t.Errorf("expected topic questions, got %s", event.Topic)
		}
		if event.Kind != "created" {
			t.Errorf("expected kind created, got %s", event.Kind)
		}
		if event.ID != "q_1" {
			t.Errorf("expected id q_1, got %s", event.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeTopicIsolation(t *testing.T) {
	notifier := setupNotifier(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := notifier.Subscribe(ctx, "answers:q_1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	notifier.Publish(ctx, "answers:q_2", "created", "a_other")
	notifier.Publish(ctx, "answers:q_1", "created", "a_mine")

	select {
	case event := <-events:
		if event.ID != "a_mine" {
			t.Errorf("expected a_mine, got %s", event.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeStopsOnCancel(t *testing.T) {
	notifier := setupNotifier(t)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := notifier.Subscribe(ctx, "questions")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected channel to close without events")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestNilNotifierIsSafe(t *testing.T) {
	var notifier *Notifier

	notifier.Publish(context.Background(), "questions", "created", "q_1")
	if err := notifier.Close(); err != nil {
		t.Errorf("Close on nil notifier: %v", err)
	}
	if _, err := notifier.Subscribe(context.Background(), "questions"); err == nil {
		t.Error("expected error subscribing on nil notifier")
	}
}
