package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Subscriber listens for upload events published by any API instance.
type Subscriber struct {
	client *redis.Client
}

func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe confirms the pattern subscription, then delivers messages until
// ctx is done or the connection goes away.
func (s *Subscriber) Subscribe(ctx context.Context, patterns []string, handler func(channel string, payload []byte)) error {
	sub := s.client.PSubscribe(ctx, patterns...)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe %v: %w", patterns, err)
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("psubscribe %v: channel closed", patterns)
			}
			handler(msg.Channel, []byte(msg.Payload))
		}
	}
}
