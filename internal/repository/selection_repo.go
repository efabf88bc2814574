package repository

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

const selectionKeyPrefix = "ipi:selected_device:"

// SelectionRepository is the durable "last selected device" slot, one key per user
type SelectionRepository struct {
	rdb *redis.Client
}

func NewSelectionRepository(rdb *redis.Client) *SelectionRepository {
	return &SelectionRepository{rdb: rdb}
}

func (r *SelectionRepository) Load(ctx context.Context, owner string) (string, error) {
	id, err := r.rdb.Get(ctx, selectionKeyPrefix+owner).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}

func (r *SelectionRepository) Save(ctx context.Context, owner, deviceID string) error {
	return r.rdb.Set(ctx, selectionKeyPrefix+owner, deviceID, 0).Err()
}

func (r *SelectionRepository) Clear(ctx context.Context, owner string) error {
	return r.rdb.Del(ctx, selectionKeyPrefix+owner).Err()
}
