package redis

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// UploadChannelPattern matches every per-user upload event channel.
const UploadChannelPattern = "uploads:*"

func UploadChannel(userID string) string {
	return "uploads:" + userID
}

type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// PublishJSON marshals v and publishes it on channel.
func (p *Publisher) PublishJSON(ctx context.Context, channel string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.Publish(ctx, channel, payload)
}
