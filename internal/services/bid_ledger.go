package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/SICKMADE/hobbydork-site-sub001/internal/domain"
	"github.com/SICKMADE/hobbydork-site-sub001/pkg/logger"
)

// BidLedger owns the append-only bid record per auction. Every append is a
// conditional write against the auction row, so bids cannot land in a closed
// auction no matter how the scheduler races with bidders.
type BidLedger struct {
	auctions         domain.AuctionRepository
	bids             domain.BidRepository
	gateway          domain.PaymentGateway
	stateCache       domain.AuctionStateCache
	events           domain.EventPublisher
	authorizeTimeout time.Duration
	log              logger.Logger
}

func NewBidLedger(
	auctions domain.AuctionRepository,
	bids domain.BidRepository,
	gateway domain.PaymentGateway,
	stateCache domain.AuctionStateCache,
	events domain.EventPublisher,
	authorizeTimeout time.Duration,
	log logger.Logger,
) *BidLedger {
	return &BidLedger{
		auctions:         auctions,
		bids:             bids,
		gateway:          gateway,
		stateCache:       stateCache,
		events:           events,
		authorizeTimeout: authorizeTimeout,
		log:              log,
	}
}

// PlaceBid appends an open-bid auction bid. No payment coupling.
func (l *BidLedger) PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (*domain.Bid, error) {
	if !amount.IsPositive() {
		return nil, domain.E(domain.KindInvalidArgument, "bid amount must be positive")
	}

	if err := l.rejectIfCached(ctx, auctionID); err != nil {
		return nil, err
	}

	auction, err := l.auctions.Get(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if auction.Kind != domain.KindOpenBid {
		return nil, domain.E(domain.KindInvalidArgument, "auction does not take open bids")
	}

	bid := &domain.Bid{
		ID:        uuid.NewString(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		Status:    domain.BidNone,
		CreatedAt: time.Now(),
	}

	ok, err := l.bids.InsertIfOpen(ctx, bid)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.E(domain.KindFailedPrecondition, "auction is no longer open")
	}

	bidsAcceptedTotal.WithLabelValues(string(domain.KindOpenBid)).Inc()
	l.publishAccepted(ctx, bid)
	return bid, nil
}

// SubmitBlindBid authorizes funds for the bid amount (manual capture), then
// appends the bid. The ledger never records a blind bid without a successful
// hold; if the guarded append then fails, the hold is cancelled so no orphaned
// authorization survives. Returns the bid and the authorization client secret.
func (l *BidLedger) SubmitBlindBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (*domain.Bid, string, error) {
	if !amount.IsPositive() {
		return nil, "", domain.E(domain.KindInvalidArgument, "bid amount must be positive")
	}

	if err := l.rejectIfCached(ctx, auctionID); err != nil {
		return nil, "", err
	}

	auction, err := l.auctions.Get(ctx, auctionID)
	if err != nil {
		return nil, "", err
	}
	if auction.Kind != domain.KindBlindBid {
		return nil, "", domain.E(domain.KindInvalidArgument, "auction does not take sealed bids")
	}
	if auction.Status != domain.AuctionOpen {
		return nil, "", domain.E(domain.KindFailedPrecondition, "auction is no longer open")
	}

	authCtx, cancel := context.WithTimeout(ctx, l.authorizeTimeout)
	defer cancel()
	auth, err := l.gateway.Authorize(authCtx, amount, map[string]string{
		"purpose":    "blind_bid",
		"auction_id": auctionID,
		"bidder_id":  bidderID,
	})
	if err != nil {
		gatewayFailuresTotal.WithLabelValues("authorize").Inc()
		return nil, "", err
	}

	bid := &domain.Bid{
		ID:              uuid.NewString(),
		AuctionID:       auctionID,
		BidderID:        bidderID,
		Amount:          amount,
		AuthorizationID: auth.ID,
		Status:          domain.BidAuthorized,
		CreatedAt:       time.Now(),
	}

	ok, err := l.bids.InsertIfOpen(ctx, bid)
	if err != nil {
		l.releaseHold(auth.ID)
		return nil, "", err
	}
	if !ok {
		l.releaseHold(auth.ID)
		return nil, "", domain.E(domain.KindFailedPrecondition, "auction is no longer open")
	}

	bidsAcceptedTotal.WithLabelValues(string(domain.KindBlindBid)).Inc()
	return bid, auth.ClientSecret, nil
}

// Highest returns the winning candidate for the auction's current epoch:
// maximum amount among bids placed by the end time, earliest bid winning ties.
// Read only during closing; sealed amounts are never exposed before that.
func (l *BidLedger) Highest(ctx context.Context, auction *domain.Auction) (*domain.Bid, error) {
	return l.bids.Highest(ctx, auction.ID, auction.EndsAt)
}

func (l *BidLedger) rejectIfCached(ctx context.Context, auctionID string) error {
	status, ok, err := l.stateCache.GetStatus(ctx, auctionID)
	if err != nil {
		// Cache trouble never blocks bidding; the conditional insert decides.
		l.log.Warn("state cache read failed", "auction_id", auctionID, "error", err)
		return nil
	}
	if ok && status == domain.AuctionClosed {
		return domain.E(domain.KindFailedPrecondition, "auction is no longer open")
	}
	return nil
}

// releaseHold is the saga compensation for a failed append after a successful
// authorization. Best effort: a miss is picked up by gateway-side hold expiry.
func (l *BidLedger) releaseHold(authorizationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), l.authorizeTimeout)
	defer cancel()
	if err := l.gateway.Cancel(ctx, authorizationID); err != nil {
		gatewayFailuresTotal.WithLabelValues("cancel").Inc()
		l.log.Error("failed to release hold after rejected bid", "authorization_id", authorizationID, "error", err)
	}
}

func (l *BidLedger) publishAccepted(ctx context.Context, bid *domain.Bid) {
	event := &domain.AuctionEvent{
		Type:      domain.EventBidAccepted,
		AuctionID: bid.AuctionID,
		BidderID:  bid.BidderID,
		Amount:    bid.Amount,
		Timestamp: bid.CreatedAt,
	}
	if err := l.events.PublishAuctionEvent(ctx, event); err != nil {
		l.log.Warn("failed to publish bid event", "auction_id", bid.AuctionID, "error", err)
	}
}
