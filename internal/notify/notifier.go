// Package notify broadcasts change events over Redis pub/sub so connected
// clients can refresh without polling.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "quorum:events:"

// Event is a single change notification.
type Event struct {
	Topic   string    `json:"topic"`
	Kind    string    `json:"kind"`
	ID      string    `json:"id"`
	Emitted time.Time `json:"emitted"`
}

// Notifier publishes and subscribes to change events. A nil Notifier is
// valid and drops everything, so callers need no Redis guard.
type Notifier struct {
	client *redis.Client
}

// New connects to Redis for pub/sub use.
func New(redisURL string) (*Notifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Notifier{client: client}, nil
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(client *redis.Client) *Notifier {
	return &Notifier{client: client}
}

// Publish emits an event on a topic. Failures are logged, not returned;
// change notification is best effort.
func (n *Notifier) Publish(ctx context.Context, topic, kind, id string) {
	if n == nil {
		return
	}
	event := Event{
		Topic:   topic,
		Kind:    kind,
		ID:      id,
		Emitted: time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("notify: marshal event: %v", err)
		return
	}
	if err := n.client.Publish(ctx, channelPrefix+topic, payload).Err(); err != nil {
		log.Printf("notify: publish %s: %v", topic, err)
	}
}

// Subscribe listens on one or more topics. Events arrive on the returned
// channel until ctx is cancelled.
func (n *Notifier) Subscribe(ctx context.Context, topics ...string) (<-chan Event, error) {
	if n == nil {
		return nil, fmt.Errorf("notifier not configured")
	}
	channels := make([]string, len(topics))
	for i, topic := range topics {
		channels[i] = channelPrefix + topic
	}

	sub := n.client.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Printf("notify: unmarshal event: %v", err)
					continue
				}
				select {
				case out <- event:
				default:
					// Slow consumer, drop rather than block the pump.
				}
			}
		}
	}()
	return out, nil
}

// Close releases the Redis connection.
func (n *Notifier) Close() error {
	if n == nil {
		return nil
	}
	return n.client.Close()
}
