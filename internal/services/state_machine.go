package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/SICKMADE/hobbydork-site-sub001/internal/domain"
	"github.com/SICKMADE/hobbydork-site-sub001/internal/fees"
	"github.com/SICKMADE/hobbydork-site-sub001/pkg/logger"
)

// AuctionStateMachine owns the auction lifecycle: creation, closing with
// winner selection, admin rerun. Every OPEN-dependent mutation goes through a
// conditional write, so exactly one closer per epoch performs the winner
// computation and payment side effects.
type AuctionStateMachine struct {
	auctions      domain.AuctionRepository
	bids          domain.BidRepository
	gateway       domain.PaymentGateway
	stateCache    domain.AuctionStateCache
	events        domain.EventPublisher
	flatFee       decimal.Decimal
	defaultWindow time.Duration
	log           logger.Logger
}

func NewAuctionStateMachine(
	auctions domain.AuctionRepository,
	bids domain.BidRepository,
	gateway domain.PaymentGateway,
	stateCache domain.AuctionStateCache,
	events domain.EventPublisher,
	flatFee decimal.Decimal,
	defaultWindow time.Duration,
	log logger.Logger,
) *AuctionStateMachine {
	return &AuctionStateMachine{
		auctions:      auctions,
		bids:          bids,
		gateway:       gateway,
		stateCache:    stateCache,
		events:        events,
		flatFee:       flatFee,
		defaultWindow: defaultWindow,
		log:           log,
	}
}

// Create opens an open-bid auction. The upfront fee is computed from the
// seller tier; ineligible tiers are rejected here.
func (m *AuctionStateMachine) Create(ctx context.Context, sellerID string, tier domain.SellerTier, startingPrice decimal.Decimal, title string, endsAt time.Time) (*domain.Auction, error) {
	if title == "" {
		return nil, domain.E(domain.KindInvalidArgument, "title is required")
	}
	if !startingPrice.IsPositive() {
		return nil, domain.E(domain.KindInvalidArgument, "starting price must be positive")
	}

	fee, err := fees.UpfrontFee(tier, startingPrice)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if endsAt.IsZero() {
		endsAt = now.Add(m.defaultWindow)
	}
	if !endsAt.After(now) {
		return nil, domain.E(domain.KindInvalidArgument, "end time must be in the future")
	}

	auction := &domain.Auction{
		ID:            uuid.NewString(),
		SellerID:      sellerID,
		Title:         title,
		Kind:          domain.KindOpenBid,
		Status:        domain.AuctionOpen,
		StartingPrice: startingPrice,
		UpfrontFee:    fee,
		AfterSaleFee:  fees.AfterSaleFee(),
		Epoch:         1,
		CreatedAt:     now,
		EndsAt:        endsAt,
		UpdatedAt:     now,
	}

	if err := m.auctions.Create(ctx, auction); err != nil {
		return nil, err
	}

	m.cacheStatus(ctx, auction.ID, domain.AuctionOpen)
	m.log.Info("auction created", "auction_id", auction.ID, "seller_id", sellerID, "tier", tier, "fee", fee)
	return auction, nil
}

// CreateBlind opens a sealed-bid auction. A flat listing fee is authorized up
// front (manual capture); the returned client secret lets the seller confirm
// it. FlatFeePaid flips when the gateway confirms out of band.
func (m *AuctionStateMachine) CreateBlind(ctx context.Context, sellerID, title, description, imageURL string) (*domain.Auction, string, error) {
	if title == "" {
		return nil, "", domain.E(domain.KindInvalidArgument, "title is required")
	}

	auth, err := m.gateway.Authorize(ctx, m.flatFee, map[string]string{
		"purpose":   "listing_fee",
		"seller_id": sellerID,
	})
	if err != nil {
		gatewayFailuresTotal.WithLabelValues("authorize").Inc()
		return nil, "", err
	}

	now := time.Now()
	auction := &domain.Auction{
		ID:                        uuid.NewString(),
		SellerID:                  sellerID,
		Title:                     title,
		Description:               description,
		ImageURL:                  imageURL,
		Kind:                      domain.KindBlindBid,
		Status:                    domain.AuctionOpen,
		StartingPrice:             decimal.Zero,
		UpfrontFee:                m.flatFee,
		AfterSaleFee:              fees.AfterSaleFee(),
		FlatFeePaid:               false,
		ListingFeeAuthorizationID: auth.ID,
		Epoch:                     1,
		CreatedAt:                 now,
		EndsAt:                    now.Add(m.defaultWindow),
		UpdatedAt:                 now,
	}

	if err := m.auctions.Create(ctx, auction); err != nil {
		if cancelErr := m.gateway.Cancel(ctx, auth.ID); cancelErr != nil {
			gatewayFailuresTotal.WithLabelValues("cancel").Inc()
			m.log.Error("failed to release listing-fee hold", "authorization_id", auth.ID, "error", cancelErr)
		}
		return nil, "", err
	}

	m.cacheStatus(ctx, auction.ID, domain.AuctionOpen)
	m.log.Info("blind auction created", "auction_id", auction.ID, "seller_id", sellerID)
	return auction, auth.ClientSecret, nil
}

// Close ends the auction's current epoch. Idempotent: an already-closed
// auction (including one closed by a concurrent racer) is returned as-is with
// no side effects. Only the compare-and-swap winner captures the winning hold
// and releases the losing ones.
func (m *AuctionStateMachine) Close(ctx context.Context, auctionID string) (*domain.Auction, error) {
	auction, err := m.auctions.Get(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if auction.Status == domain.AuctionClosed {
		return auction, nil
	}

	now := time.Now()
	if now.Before(auction.EndsAt) {
		return nil, domain.E(domain.KindFailedPrecondition, "auction has not ended yet")
	}

	winner, err := m.bids.Highest(ctx, auctionID, auction.EndsAt)
	if err != nil {
		return nil, err
	}

	commit := domain.CloseCommit{
		AuctionID: auctionID,
		Epoch:     auction.Epoch,
		ClosedAt:  now,
	}
	if winner != nil {
		commit.WinnerID = winner.BidderID
		commit.WinningBidID = winner.ID
		commit.WinningBidAmount = winner.Amount
	}

	won, err := m.auctions.CloseIfOpen(ctx, commit)
	if err != nil {
		return nil, err
	}
	if !won {
		// Lost the race: someone else closed this epoch and ran the side
		// effects. Return their result.
		return m.auctions.Get(ctx, auctionID)
	}

	auction.Status = domain.AuctionClosed
	auction.ClosedAt = &now
	auction.UpdatedAt = now
	if winner != nil {
		auction.WinnerID = winner.BidderID
		auction.WinningBidID = winner.ID
		auction.WinningBidAmount = winner.Amount
	}

	auctionsClosedTotal.Inc()
	m.cacheStatus(ctx, auctionID, domain.AuctionClosed)
	m.publishClosed(ctx, auction)

	if auction.Kind == domain.KindBlindBid {
		m.settle(ctx, auction, winner)
	}

	m.log.Info("auction closed", "auction_id", auctionID, "epoch", auction.Epoch,
		"winner_id", auction.WinnerID, "winning_amount", auction.WinningBidAmount)
	return auction, nil
}

// CloseWithWinner forces the given bid to win, bypassing highest-bid
// selection. On an OPEN auction it closes it; on a CLOSED one it reassigns the
// winner. Payment side effects follow the same rules as Close: only
// still-AUTHORIZED holds move.
func (m *AuctionStateMachine) CloseWithWinner(ctx context.Context, auctionID, bidID string) (*domain.Auction, error) {
	bid, err := m.bids.Get(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if bid.AuctionID != auctionID {
		return nil, domain.Errorf(domain.KindInvalidArgument, "bid %s does not belong to auction %s", bidID, auctionID)
	}

	auction, err := m.auctions.Get(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if auction.Status == domain.AuctionOpen {
		won, err := m.auctions.CloseIfOpen(ctx, domain.CloseCommit{
			AuctionID:        auctionID,
			Epoch:            auction.Epoch,
			ClosedAt:         now,
			WinnerID:         bid.BidderID,
			WinningBidID:     bid.ID,
			WinningBidAmount: bid.Amount,
		})
		if err != nil {
			return nil, err
		}
		if won {
			auction.Status = domain.AuctionClosed
			auction.ClosedAt = &now
			auction.WinnerID = bid.BidderID
			auction.WinningBidID = bid.ID
			auction.WinningBidAmount = bid.Amount
			auction.UpdatedAt = now

			auctionsClosedTotal.Inc()
			m.cacheStatus(ctx, auctionID, domain.AuctionClosed)
			m.publishClosed(ctx, auction)
			if auction.Kind == domain.KindBlindBid {
				m.settle(ctx, auction, bid)
			}
			return auction, nil
		}
		// A concurrent close won the epoch; fall through and reassign.
		auction, err = m.auctions.Get(ctx, auctionID)
		if err != nil {
			return nil, err
		}
	}

	if auction.WinningBidID == bid.ID {
		return auction, nil
	}

	previousWinningBidID := auction.WinningBidID
	ok, err := m.auctions.SetWinner(ctx, auctionID, bid.BidderID, bid.ID, bid.Amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.E(domain.KindFailedPrecondition, "auction is not closed")
	}

	auction.WinnerID = bid.BidderID
	auction.WinningBidID = bid.ID
	auction.WinningBidAmount = bid.Amount

	if auction.Kind == domain.KindBlindBid {
		m.CaptureHold(ctx, bid)
		if previousWinningBidID != "" {
			if previous, err := m.bids.Get(ctx, previousWinningBidID); err == nil {
				m.ReleaseHold(ctx, previous)
			}
		}
	}

	m.log.Info("winner overridden", "auction_id", auctionID, "bid_id", bidID, "bidder_id", bid.BidderID)
	return auction, nil
}

// Rerun starts a new epoch: status back to OPEN, winner fields cleared, new
// end time. With ClearBids, still-held authorizations are released and the bid
// collection is wiped so prior bids cannot affect the new epoch's close.
func (m *AuctionStateMachine) Rerun(ctx context.Context, cmd domain.RerunCommand) (*domain.Auction, error) {
	if !cmd.NewEndsAt.After(time.Now()) {
		return nil, domain.E(domain.KindInvalidArgument, "new end time must be in the future")
	}

	if _, err := m.auctions.Get(ctx, cmd.AuctionID); err != nil {
		return nil, err
	}

	if cmd.ClearBids {
		held, err := m.bids.ListByStatus(ctx, cmd.AuctionID, domain.BidAuthorized)
		if err != nil {
			return nil, err
		}
		for _, bid := range held {
			if err := m.gateway.Cancel(ctx, bid.AuthorizationID); err != nil {
				gatewayFailuresTotal.WithLabelValues("cancel").Inc()
				// Deleting the bid now would orphan the hold. Abort and let
				// the admin retry the rerun.
				return nil, domain.Wrap(domain.KindPaymentGateway, "failed to release hold before clearing bids", err)
			}
		}
		if err := m.bids.DeleteForAuction(ctx, cmd.AuctionID); err != nil {
			return nil, err
		}
	}

	if err := m.auctions.Reopen(ctx, cmd.AuctionID, cmd.NewEndsAt, cmd.PreserveFeePaid); err != nil {
		return nil, err
	}

	m.cacheStatus(ctx, cmd.AuctionID, domain.AuctionOpen)
	m.log.Info("auction rerun", "auction_id", cmd.AuctionID, "clear_bids", cmd.ClearBids,
		"reason", cmd.Reason, "note", cmd.Note)
	return m.auctions.Get(ctx, cmd.AuctionID)
}

// CaptureHold captures a winning authorization, at most once: the status row
// guard stops a second capture even across scheduler retries. Gateway
// failures leave the bid AUTHORIZED for a later retry pass.
func (m *AuctionStateMachine) CaptureHold(ctx context.Context, bid *domain.Bid) {
	if bid.Status != domain.BidAuthorized || bid.AuthorizationID == "" {
		return
	}
	if err := m.gateway.Capture(ctx, bid.AuthorizationID); err != nil {
		gatewayFailuresTotal.WithLabelValues("capture").Inc()
		m.log.Error("capture failed, will retry on a later pass",
			"bid_id", bid.ID, "authorization_id", bid.AuthorizationID, "error", err)
		return
	}
	holdsCapturedTotal.Inc()
	if _, err := m.bids.UpdateStatus(ctx, bid.ID, domain.BidAuthorized, domain.BidCaptured); err != nil {
		m.log.Error("failed to record capture", "bid_id", bid.ID, "error", err)
	}
}

// ReleaseHold cancels a losing authorization. Cancel is idempotent at the
// gateway, so racing with an async confirmation is harmless.
func (m *AuctionStateMachine) ReleaseHold(ctx context.Context, bid *domain.Bid) {
	if bid.Status != domain.BidAuthorized || bid.AuthorizationID == "" {
		return
	}
	if err := m.gateway.Cancel(ctx, bid.AuthorizationID); err != nil {
		gatewayFailuresTotal.WithLabelValues("cancel").Inc()
		m.log.Error("cancel failed, will retry on a later pass",
			"bid_id", bid.ID, "authorization_id", bid.AuthorizationID, "error", err)
		return
	}
	holdsReleasedTotal.Inc()
	if _, err := m.bids.UpdateStatus(ctx, bid.ID, domain.BidAuthorized, domain.BidCancelled); err != nil {
		m.log.Error("failed to record cancel", "bid_id", bid.ID, "error", err)
	}
}

// settle runs the blind-auction money movement after a close commit: capture
// the winner's hold, release everyone else's. Failures are logged and retried
// by the scheduler; they never unwind the CLOSED status.
func (m *AuctionStateMachine) settle(ctx context.Context, auction *domain.Auction, winner *domain.Bid) {
	if winner != nil {
		m.CaptureHold(ctx, winner)
	}

	held, err := m.bids.ListByStatus(ctx, auction.ID, domain.BidAuthorized)
	if err != nil {
		m.log.Error("failed to list held bids for settlement", "auction_id", auction.ID, "error", err)
		return
	}
	for _, bid := range held {
		if winner != nil && bid.ID == winner.ID {
			continue
		}
		m.ReleaseHold(ctx, bid)
	}
}

func (m *AuctionStateMachine) cacheStatus(ctx context.Context, auctionID string, status domain.AuctionStatus) {
	if err := m.stateCache.SetStatus(ctx, auctionID, status); err != nil {
		m.log.Warn("failed to cache auction status", "auction_id", auctionID, "error", err)
	}
}

func (m *AuctionStateMachine) publishClosed(ctx context.Context, auction *domain.Auction) {
	event := &domain.AuctionEvent{
		Type:      domain.EventAuctionClosed,
		AuctionID: auction.ID,
		BidderID:  auction.WinnerID,
		Amount:    auction.WinningBidAmount,
		Timestamp: time.Now(),
	}
	if err := m.events.PublishAuctionEvent(ctx, event); err != nil {
		m.log.Warn("failed to publish close event", "auction_id", auction.ID, "error", err)
	}
}
