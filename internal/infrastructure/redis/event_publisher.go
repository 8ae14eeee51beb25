package redis

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"github.com/SICKMADE/hobbydork-site-sub001/internal/domain"
)

const auctionEventsChannel = "auction_events"

// EventPublisherImpl feeds the external notification system over redis
// pub/sub. Delivery beyond this channel is not this service's concern.
type EventPublisherImpl struct {
	client *redis.Client
}

func NewEventPublisher(client *redis.Client) *EventPublisherImpl {
	return &EventPublisherImpl{client: client}
}

func (r *EventPublisherImpl) PublishAuctionEvent(ctx context.Context, event *domain.AuctionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, auctionEventsChannel, data).Err()
}
