package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/SICKMADE/hobbydork-site-sub001/internal/domain"
	"github.com/SICKMADE/hobbydork-site-sub001/pkg/logger"
)

// WebhookHandler receives the gateway's asynchronous confirmations. Duplicate
// deliveries are short-circuited by the processed-event store, and every
// record update below is itself a conditional no-op on repeat, so redelivery
// can never double-apply.
type WebhookHandler struct {
	auctions  domain.AuctionRepository
	bids      domain.BidRepository
	processed domain.ProcessedEventStore
	log       logger.Logger
}

func NewWebhookHandler(
	auctions domain.AuctionRepository,
	bids domain.BidRepository,
	processed domain.ProcessedEventStore,
	log logger.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		auctions:  auctions,
		bids:      bids,
		processed: processed,
		log:       log,
	}
}

const (
	eventAuthorizationConfirmed = "authorization.confirmed"
	eventAuthorizationFailed    = "authorization.failed"
	eventCaptureConfirmed       = "capture.confirmed"
)

type gatewayEvent struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	AuthorizationID string `json:"authorization_id"`
}

func (h *WebhookHandler) HandlePaymentEvent(c echo.Context) error {
	var event gatewayEvent
	if err := c.Bind(&event); err != nil {
		return respondError(c, domain.E(domain.KindInvalidArgument, "invalid event body"))
	}
	if event.ID == "" || event.Type == "" || event.AuthorizationID == "" {
		return respondError(c, domain.E(domain.KindInvalidArgument, "event id, type and authorization_id are required"))
	}

	ctx := c.Request().Context()

	fresh, err := h.processed.MarkProcessed(ctx, event.ID)
	if err != nil {
		h.log.Error("webhook dedup store unavailable", "event_id", event.ID, "error", err)
		return respondError(c, err)
	}
	if !fresh {
		return c.JSON(http.StatusOK, map[string]string{"status": "duplicate"})
	}

	switch event.Type {
	case eventAuthorizationConfirmed:
		h.applyAuthorizationConfirmed(c, event)
	case eventAuthorizationFailed:
		h.applyBidTransition(c, event, domain.BidAuthorized, domain.BidFailed)
	case eventCaptureConfirmed:
		h.applyBidTransition(c, event, domain.BidAuthorized, domain.BidCaptured)
	default:
		h.log.Warn("unhandled gateway event type", "event_id", event.ID, "type", event.Type)
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "processed"})
}

// applyAuthorizationConfirmed settles which record the authorization belongs
// to: a blind auction's listing fee, or a bid hold.
func (h *WebhookHandler) applyAuthorizationConfirmed(c echo.Context, event gatewayEvent) {
	ctx := c.Request().Context()

	matched, err := h.auctions.MarkListingFeePaid(ctx, event.AuthorizationID)
	if err != nil {
		h.log.Error("failed to record listing-fee confirmation", "event_id", event.ID, "error", err)
		return
	}
	if matched {
		return
	}

	// Not a listing fee: a late confirmation may resurrect a bid hold that an
	// earlier failure event had marked FAILED.
	bid, err := h.bids.GetByAuthorization(ctx, event.AuthorizationID)
	if err != nil {
		if domain.KindOf(err) != domain.KindNotFound {
			h.log.Error("failed to look up bid for confirmation", "event_id", event.ID, "error", err)
		} else {
			h.log.Warn("confirmation for unknown authorization", "event_id", event.ID,
				"authorization_id", event.AuthorizationID)
		}
		return
	}
	if _, err := h.bids.UpdateStatus(ctx, bid.ID, domain.BidFailed, domain.BidAuthorized); err != nil {
		h.log.Error("failed to record authorization confirmation", "bid_id", bid.ID, "error", err)
	}
}

func (h *WebhookHandler) applyBidTransition(c echo.Context, event gatewayEvent, from, to domain.BidStatus) {
	ctx := c.Request().Context()

	bid, err := h.bids.GetByAuthorization(ctx, event.AuthorizationID)
	if err != nil {
		if domain.KindOf(err) != domain.KindNotFound {
			h.log.Error("failed to look up bid for gateway event", "event_id", event.ID, "error", err)
		} else {
			h.log.Warn("gateway event for unknown authorization", "event_id", event.ID,
				"authorization_id", event.AuthorizationID)
		}
		return
	}

	if _, err := h.bids.UpdateStatus(ctx, bid.ID, from, to); err != nil {
		h.log.Error("failed to apply gateway event", "bid_id", bid.ID, "type", event.Type, "error", err)
	}
}
