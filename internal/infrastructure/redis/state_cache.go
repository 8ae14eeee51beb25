package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/SICKMADE/hobbydork-site-sub001/internal/domain"
)

// RedisStateCache is a fast-path cache of auction status used to reject bids
// on closed auctions before touching MySQL. Advisory only: the authoritative
// guard is the conditional write in the bid repository.
type RedisStateCache struct {
	client *redis.Client
}

func NewRedisStateCache(client *redis.Client) *RedisStateCache {
	return &RedisStateCache{client: client}
}

func (r *RedisStateCache) SetStatus(ctx context.Context, auctionID string, status domain.AuctionStatus) error {
	key := fmt.Sprintf("auction:%s:status", auctionID)
	return r.client.Set(ctx, key, int(status), 0).Err()
}

func (r *RedisStateCache) GetStatus(ctx context.Context, auctionID string) (domain.AuctionStatus, bool, error) {
	key := fmt.Sprintf("auction:%s:status", auctionID)

	result, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return domain.AuctionOpen, false, nil
		}
		return domain.AuctionOpen, false, err
	}

	status, err := strconv.Atoi(result)
	if err != nil {
		return domain.AuctionOpen, false, err
	}

	return domain.AuctionStatus(status), true, nil
}
