package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Publish 向频道发布消息
func Publish(ctx context.Context, channel string, data []byte) error {
	return Rdb.Publish(ctx, channel, data).Err()
}

// PSubscribe 按模式订阅频道
func PSubscribe(ctx context.Context, patterns ...string) *redis.PubSub {
	return Rdb.PSubscribe(ctx, patterns...)
}
