package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/SICKMADE/hobbydork-site-sub001/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	auctions *memAuctionRepo
	bids     *memBidRepo
	gateway  *fakeGateway
	cache    *memStateCache
	events   *memPublisher
	machine  *AuctionStateMachine
	ledger   *BidLedger
}

func newFixture() *fixture {
	auctions := newMemAuctionRepo()
	bids := newMemBidRepo(auctions)
	gateway := &fakeGateway{}
	cache := newMemStateCache()
	events := &memPublisher{}
	machine := NewAuctionStateMachine(auctions, bids, gateway, cache, events,
		dec("4.99"), 24*time.Hour, nopLogger{})
	ledger := NewBidLedger(auctions, bids, gateway, cache, events,
		2*time.Second, nopLogger{})
	return &fixture{
		auctions: auctions,
		bids:     bids,
		gateway:  gateway,
		cache:    cache,
		events:   events,
		machine:  machine,
		ledger:   ledger,
	}
}

// seedAuction installs an auction directly, bypassing creation validation, so
// tests can build due or closed auctions.
func (f *fixture) seedAuction(t *testing.T, auction *domain.Auction) {
	t.Helper()
	if auction.Epoch == 0 {
		auction.Epoch = 1
	}
	assert.Nil(t, f.auctions.Create(context.Background(), auction))
}

func (f *fixture) seedBid(t *testing.T, bid *domain.Bid) {
	t.Helper()
	ok, err := f.bids.InsertIfOpen(context.Background(), bid)
	assert.Nil(t, err)
	assert.True(t, ok)
}

func dueOpenAuction(id string, kind domain.AuctionKind) *domain.Auction {
	now := time.Now()
	return &domain.Auction{
		ID:        id,
		SellerID:  "seller-1",
		Title:     "vintage lot",
		Kind:      kind,
		Status:    domain.AuctionOpen,
		Epoch:     1,
		CreatedAt: now.Add(-2 * time.Hour),
		EndsAt:    now.Add(-time.Minute),
		UpdatedAt: now.Add(-2 * time.Hour),
	}
}

func TestCreateComputesUpfrontFee(t *testing.T) {
	f := newFixture()

	auction, err := f.machine.Create(context.Background(), "seller-1",
		domain.TierSilver, dec("100.00"), "vintage lot", time.Time{})
	assert.Nil(t, err)

	check.True(t, auction.UpfrontFee.Equal(dec("10.00")))
	check.True(t, auction.AfterSaleFee.IsZero())
	check.Equal(t, domain.AuctionOpen, auction.Status)
	check.Equal(t, int64(1), auction.Epoch)
	check.False(t, auction.HasWinner())
}

func TestCreateRejectsIneligibleTier(t *testing.T) {
	f := newFixture()

	_, err := f.machine.Create(context.Background(), "seller-1",
		domain.SellerTier("BRONZE"), dec("100.00"), "vintage lot", time.Time{})
	check.Equal(t, domain.KindPermissionDenied, domain.KindOf(err))
}

func TestCreateBlindAuthorizesListingFee(t *testing.T) {
	f := newFixture()

	auction, clientSecret, err := f.machine.CreateBlind(context.Background(),
		"seller-1", "rare card", "mint condition", "")
	assert.Nil(t, err)

	check.Equal(t, domain.KindBlindBid, auction.Kind)
	check.False(t, auction.FlatFeePaid)
	check.Equal(t, "auth_1", auction.ListingFeeAuthorizationID)
	check.Equal(t, "auth_1_secret", clientSecret)
	check.True(t, auction.UpfrontFee.Equal(dec("4.99")))
	// 24h default window
	check.True(t, auction.EndsAt.After(time.Now().Add(23*time.Hour)))
}

func TestCloseSelectsHighestBid(t *testing.T) {
	f := newFixture()
	f.seedAuction(t, dueOpenAuction("a1", domain.KindOpenBid))

	base := time.Now().Add(-time.Hour)
	for i, amount := range []string{"50.00", "75.00", "60.00"} {
		f.seedBid(t, &domain.Bid{
			ID:        string(rune('b'+i)) + "1",
			AuctionID: "a1",
			BidderID:  "bidder-" + amount,
			Amount:    dec(amount),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	closed, err := f.machine.Close(context.Background(), "a1")
	assert.Nil(t, err)

	check.Equal(t, domain.AuctionClosed, closed.Status)
	check.Equal(t, "bidder-75.00", closed.WinnerID)
	check.True(t, closed.WinningBidAmount.Equal(dec("75.00")))
	check.NotNil(t, closed.ClosedAt)
}

func TestCloseTieBreaksToEarliestBid(t *testing.T) {
	f := newFixture()
	f.seedAuction(t, dueOpenAuction("a1", domain.KindOpenBid))

	base := time.Now().Add(-time.Hour)
	f.seedBid(t, &domain.Bid{ID: "b1", AuctionID: "a1", BidderID: "first", Amount: dec("80.00"), CreatedAt: base})
	f.seedBid(t, &domain.Bid{ID: "b2", AuctionID: "a1", BidderID: "second", Amount: dec("80.00"), CreatedAt: base.Add(time.Second)})

	closed, err := f.machine.Close(context.Background(), "a1")
	assert.Nil(t, err)
	check.Equal(t, "first", closed.WinnerID)
	check.Equal(t, "b1", closed.WinningBidID)
}

func TestCloseIgnoresBidsAfterEndTime(t *testing.T) {
	f := newFixture()
	auction := dueOpenAuction("a1", domain.KindOpenBid)
	f.seedAuction(t, auction)

	f.seedBid(t, &domain.Bid{ID: "b1", AuctionID: "a1", BidderID: "timely", Amount: dec("10.00"),
		CreatedAt: auction.EndsAt.Add(-time.Minute)})
	f.seedBid(t, &domain.Bid{ID: "b2", AuctionID: "a1", BidderID: "late", Amount: dec("99.00"),
		CreatedAt: auction.EndsAt.Add(time.Second)})

	closed, err := f.machine.Close(context.Background(), "a1")
	assert.Nil(t, err)
	check.Equal(t, "timely", closed.WinnerID)
}

func TestCloseWithoutBids(t *testing.T) {
	f := newFixture()
	f.seedAuction(t, dueOpenAuction("a1", domain.KindOpenBid))

	closed, err := f.machine.Close(context.Background(), "a1")
	assert.Nil(t, err)

	check.Equal(t, domain.AuctionClosed, closed.Status)
	check.False(t, closed.HasWinner())
}

func TestCloseBeforeEndTimeFails(t *testing.T) {
	f := newFixture()
	auction := dueOpenAuction("a1", domain.KindOpenBid)
	auction.EndsAt = time.Now().Add(time.Hour)
	f.seedAuction(t, auction)

	_, err := f.machine.Close(context.Background(), "a1")
	check.Equal(t, domain.KindFailedPrecondition, domain.KindOf(err))
}

func TestCloseBlindCapturesWinnerCancelsLoser(t *testing.T) {
	f := newFixture()
	f.seedAuction(t, dueOpenAuction("a1", domain.KindBlindBid))

	base := time.Now().Add(-time.Hour)
	f.seedBid(t, &domain.Bid{ID: "b1", AuctionID: "a1", BidderID: "low", Amount: dec("40.00"),
		AuthorizationID: "auth_low", Status: domain.BidAuthorized, CreatedAt: base})
	f.seedBid(t, &domain.Bid{ID: "b2", AuctionID: "a1", BidderID: "high", Amount: dec("55.00"),
		AuthorizationID: "auth_high", Status: domain.BidAuthorized, CreatedAt: base.Add(time.Minute)})

	closed, err := f.machine.Close(context.Background(), "a1")
	assert.Nil(t, err)

	check.Equal(t, "high", closed.WinnerID)
	check.Equal(t, []string{"auth_high"}, f.gateway.captured)
	check.Equal(t, []string{"auth_low"}, f.gateway.cancelled)

	winner, err := f.bids.Get(context.Background(), "b2")
	assert.Nil(t, err)
	check.Equal(t, domain.BidCaptured, winner.Status)
	loser, err := f.bids.Get(context.Background(), "b1")
	assert.Nil(t, err)
	check.Equal(t, domain.BidCancelled, loser.Status)
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newFixture()
	f.seedAuction(t, dueOpenAuction("a1", domain.KindBlindBid))

	base := time.Now().Add(-time.Hour)
	f.seedBid(t, &domain.Bid{ID: "b1", AuctionID: "a1", BidderID: "low", Amount: dec("40.00"),
		AuthorizationID: "auth_low", Status: domain.BidAuthorized, CreatedAt: base})
	f.seedBid(t, &domain.Bid{ID: "b2", AuctionID: "a1", BidderID: "high", Amount: dec("55.00"),
		AuthorizationID: "auth_high", Status: domain.BidAuthorized, CreatedAt: base.Add(time.Minute)})

	first, err := f.machine.Close(context.Background(), "a1")
	assert.Nil(t, err)
	second, err := f.machine.Close(context.Background(), "a1")
	assert.Nil(t, err)

	check.Equal(t, first.WinnerID, second.WinnerID)
	check.Equal(t, first.WinningBidID, second.WinningBidID)
	check.True(t, first.WinningBidAmount.Equal(second.WinningBidAmount))

	// Side effects ran at most once each.
	check.Equal(t, 1, f.gateway.captureCount())
	check.Equal(t, 1, f.gateway.cancelCount())
}

func TestConcurrentCloseRunsSideEffectsOnce(t *testing.T) {
	f := newFixture()
	f.seedAuction(t, dueOpenAuction("a1", domain.KindBlindBid))
	f.seedBid(t, &domain.Bid{ID: "b1", AuctionID: "a1", BidderID: "only", Amount: dec("25.00"),
		AuthorizationID: "auth_only", Status: domain.BidAuthorized, CreatedAt: time.Now().Add(-time.Hour)})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.machine.Close(context.Background(), "a1")
			check.Nil(t, err)
		}()
	}
	wg.Wait()

	check.Equal(t, 1, f.gateway.captureCount())
}

func TestCaptureFailureLeavesHoldForRetry(t *testing.T) {
	f := newFixture()
	f.seedAuction(t, dueOpenAuction("a1", domain.KindBlindBid))
	f.seedBid(t, &domain.Bid{ID: "b1", AuctionID: "a1", BidderID: "only", Amount: dec("25.00"),
		AuthorizationID: "auth_only", Status: domain.BidAuthorized, CreatedAt: time.Now().Add(-time.Hour)})

	f.gateway.captureErr = domain.E(domain.KindPaymentGateway, "gateway down")

	closed, err := f.machine.Close(context.Background(), "a1")
	assert.Nil(t, err)

	// The close itself committed despite the gateway failure.
	check.Equal(t, domain.AuctionClosed, closed.Status)
	bid, err := f.bids.Get(context.Background(), "b1")
	assert.Nil(t, err)
	check.Equal(t, domain.BidAuthorized, bid.Status)
}

func TestRerunClearsBidsAndPreservesFlatFee(t *testing.T) {
	f := newFixture()
	auction := dueOpenAuction("a1", domain.KindBlindBid)
	auction.FlatFeePaid = true
	f.seedAuction(t, auction)

	base := time.Now().Add(-time.Hour)
	f.seedBid(t, &domain.Bid{ID: "b1", AuctionID: "a1", BidderID: "low", Amount: dec("40.00"),
		AuthorizationID: "auth_low", Status: domain.BidAuthorized, CreatedAt: base})
	f.seedBid(t, &domain.Bid{ID: "b2", AuctionID: "a1", BidderID: "high", Amount: dec("55.00"),
		AuthorizationID: "auth_high", Status: domain.BidAuthorized, CreatedAt: base.Add(time.Minute)})

	_, err := f.machine.Close(context.Background(), "a1")
	assert.Nil(t, err)

	reopened, err := f.machine.Rerun(context.Background(), domain.RerunCommand{
		AuctionID:       "a1",
		NewEndsAt:       time.Now().Add(time.Hour),
		ClearBids:       true,
		PreserveFeePaid: true,
		Reason:          domain.ReasonDispute,
		Note:            "winner payment disputed",
	})
	assert.Nil(t, err)

	check.Equal(t, domain.AuctionOpen, reopened.Status)
	check.Equal(t, int64(2), reopened.Epoch)
	check.True(t, reopened.FlatFeePaid)
	check.False(t, reopened.HasWinner())
	check.Nil(t, reopened.ClosedAt)

	// Prior bids are gone, so a post-rerun close finds no winner.
	f.auctions.mu.Lock()
	f.auctions.auctions["a1"].EndsAt = time.Now().Add(-time.Second)
	f.auctions.mu.Unlock()

	reclosed, err := f.machine.Close(context.Background(), "a1")
	assert.Nil(t, err)
	check.False(t, reclosed.HasWinner())
}

func TestRerunAbortsWhenHoldReleaseFails(t *testing.T) {
	f := newFixture()
	f.seedAuction(t, dueOpenAuction("a1", domain.KindBlindBid))
	f.seedBid(t, &domain.Bid{ID: "b1", AuctionID: "a1", BidderID: "low", Amount: dec("40.00"),
		AuthorizationID: "auth_low", Status: domain.BidAuthorized, CreatedAt: time.Now().Add(-time.Hour)})

	f.gateway.cancelErr = domain.E(domain.KindPaymentGateway, "gateway down")

	_, err := f.machine.Rerun(context.Background(), domain.RerunCommand{
		AuctionID:       "a1",
		NewEndsAt:       time.Now().Add(time.Hour),
		ClearBids:       true,
		PreserveFeePaid: true,
		Reason:          domain.ReasonOther,
	})
	check.Equal(t, domain.KindPaymentGateway, domain.KindOf(err))

	// Nothing was deleted; the hold is not orphaned.
	bid, getErr := f.bids.Get(context.Background(), "b1")
	assert.Nil(t, getErr)
	check.Equal(t, domain.BidAuthorized, bid.Status)
}

func TestOverrideWinnerOnClosedAuction(t *testing.T) {
	f := newFixture()
	f.seedAuction(t, dueOpenAuction("a1", domain.KindBlindBid))

	base := time.Now().Add(-time.Hour)
	f.seedBid(t, &domain.Bid{ID: "b1", AuctionID: "a1", BidderID: "low", Amount: dec("40.00"),
		AuthorizationID: "auth_low", Status: domain.BidAuthorized, CreatedAt: base})
	f.seedBid(t, &domain.Bid{ID: "b2", AuctionID: "a1", BidderID: "high", Amount: dec("55.00"),
		AuthorizationID: "auth_high", Status: domain.BidAuthorized, CreatedAt: base.Add(time.Minute)})

	// Algorithmic close: b2 wins, b1's hold is released.
	_, err := f.machine.Close(context.Background(), "a1")
	assert.Nil(t, err)

	// Dispute: force b1 to win. Its hold was cancelled, so no new capture can
	// happen, but the winner fields must move.
	overridden, err := f.machine.CloseWithWinner(context.Background(), "a1", "b1")
	assert.Nil(t, err)

	check.Equal(t, "low", overridden.WinnerID)
	check.Equal(t, "b1", overridden.WinningBidID)
	check.True(t, overridden.WinningBidAmount.Equal(dec("40.00")))
	// auth_high was already captured; capture is at-most-once so it stays.
	check.Equal(t, []string{"auth_high"}, f.gateway.captured)
}

func TestOverrideWinnerClosesOpenAuction(t *testing.T) {
	f := newFixture()
	f.seedAuction(t, dueOpenAuction("a1", domain.KindBlindBid))

	base := time.Now().Add(-time.Hour)
	f.seedBid(t, &domain.Bid{ID: "b1", AuctionID: "a1", BidderID: "low", Amount: dec("40.00"),
		AuthorizationID: "auth_low", Status: domain.BidAuthorized, CreatedAt: base})
	f.seedBid(t, &domain.Bid{ID: "b2", AuctionID: "a1", BidderID: "high", Amount: dec("55.00"),
		AuthorizationID: "auth_high", Status: domain.BidAuthorized, CreatedAt: base.Add(time.Minute)})

	closed, err := f.machine.CloseWithWinner(context.Background(), "a1", "b1")
	assert.Nil(t, err)

	check.Equal(t, domain.AuctionClosed, closed.Status)
	check.Equal(t, "low", closed.WinnerID)
	check.Equal(t, []string{"auth_low"}, f.gateway.captured)
	check.Equal(t, []string{"auth_high"}, f.gateway.cancelled)
}

func TestOverrideWinnerRejectsForeignBid(t *testing.T) {
	f := newFixture()
	f.seedAuction(t, dueOpenAuction("a1", domain.KindOpenBid))
	f.seedAuction(t, dueOpenAuction("a2", domain.KindOpenBid))
	f.seedBid(t, &domain.Bid{ID: "b1", AuctionID: "a2", BidderID: "other", Amount: dec("10.00"),
		CreatedAt: time.Now().Add(-time.Hour)})

	_, err := f.machine.CloseWithWinner(context.Background(), "a1", "b1")
	check.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
}
