package bridge

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisSink journals dispatches into one capped Redis stream per event
// name, a rolling window downstream workers can replay.
type RedisSink struct {
	rdb       *redis.Client
	keyPrefix string
	maxLen    int64
}

func NewRedisSink(addr, password string, db int, keyPrefix string) *RedisSink {
	if keyPrefix == "" {
		keyPrefix = "bot:events:"
	}
	return &RedisSink{
		rdb:       redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		keyPrefix: keyPrefix,
		maxLen:    100_000,
	}
}

func (s *RedisSink) Emit(ctx context.Context, event string, shardID int, seq int64, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: s.keyPrefix + event,
		Values: map[string]any{
			"shard":   shardID,
			"seq":     seq,
			"payload": string(payload),
		},
		Approx: true,
		MaxLen: s.maxLen,
	}
	return s.rdb.XAdd(ctx, args).Err()
}

func (s *RedisSink) Close() error {
	return s.rdb.Close()
}
