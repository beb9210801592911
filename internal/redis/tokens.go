package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// TokenDenyList remembers revoked access tokens by jti until they would
// have expired anyway.
type TokenDenyList struct {
	client *goredis.Client
}

func NewTokenDenyList(client *goredis.Client) *TokenDenyList {
	return &TokenDenyList{client: client}
}

func revokedKey(jti string) string {
	return "auth:revoked:" + jti
}

func (d *TokenDenyList) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return d.client.Set(ctx, revokedKey(jti), 1, ttl).Err()
}

func (d *TokenDenyList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := d.client.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
