package repository

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const pushTokenKeyPrefix = "ipi:push_tokens:"

// PushTokenRepository stores FCM registration tokens as a Redis set per user
type PushTokenRepository struct {
	rdb *redis.Client
}

func NewPushTokenRepository(rdb *redis.Client) *PushTokenRepository {
	return &PushTokenRepository{rdb: rdb}
}

func (r *PushTokenRepository) Add(ctx context.Context, authUser, token string) error {
	return r.rdb.SAdd(ctx, pushTokenKeyPrefix+authUser, token).Err()
}

func (r *PushTokenRepository) Remove(ctx context.Context, authUser string, tokens ...string) error {
	if len(tokens) == 0 {
		return nil
	}
	members := make([]interface{}, len(tokens))
	for i, t := range tokens {
		members[i] = t
	}
	return r.rdb.SRem(ctx, pushTokenKeyPrefix+authUser, members...).Err()
}

func (r *PushTokenRepository) List(ctx context.Context, authUser string) ([]string, error) {
	return r.rdb.SMembers(ctx, pushTokenKeyPrefix+authUser).Result()
}
