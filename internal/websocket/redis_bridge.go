package websocket

import (
	"context"
)

// Subscriber delivers pub/sub messages; *redis.Subscriber implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, patterns []string, handler func(channel string, payload []byte)) error
}

// RedisBridge relays messages published by any API instance to the
// clients connected to this one.
type RedisBridge struct {
	subscriber Subscriber
	hub        *Hub
}

func NewRedisBridge(subscriber Subscriber, hub *Hub) *RedisBridge {
	return &RedisBridge{subscriber: subscriber, hub: hub}
}

// Run blocks until ctx is done or the subscription fails.
func (b *RedisBridge) Run(ctx context.Context, patterns []string) error {
	return b.subscriber.Subscribe(ctx, patterns, func(channel string, payload []byte) {
		b.hub.Broadcast(channel, payload)
	})
}
