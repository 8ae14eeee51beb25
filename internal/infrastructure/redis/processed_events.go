package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// processedEventTTL bounds the dedup window. Gateways redeliver for days at
// most; a week of ids is enough to absorb that.
const processedEventTTL = 7 * 24 * time.Hour

// ProcessedEventStore records gateway webhook event ids so duplicate
// deliveries become no-ops.
type ProcessedEventStore struct {
	client *redis.Client
}

func NewProcessedEventStore(client *redis.Client) *ProcessedEventStore {
	return &ProcessedEventStore{client: client}
}

func (s *ProcessedEventStore) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	key := fmt.Sprintf("payment_event:%s", eventID)
	return s.client.SetNX(ctx, key, 1, processedEventTTL).Result()
}
