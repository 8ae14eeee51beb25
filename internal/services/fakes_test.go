package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SICKMADE/hobbydork-site-sub001/internal/domain"
)

// In-memory doubles honoring the same conditional-write semantics as the
// MySQL repositories.

type memAuctionRepo struct {
	mu       sync.Mutex
	auctions map[string]*domain.Auction
	failGet  map[string]error
}

func newMemAuctionRepo() *memAuctionRepo {
	return &memAuctionRepo{
		auctions: make(map[string]*domain.Auction),
		failGet:  make(map[string]error),
	}
}

func (r *memAuctionRepo) Create(ctx context.Context, auction *domain.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.auctions[auction.ID]; exists {
		return fmt.Errorf("duplicate auction id %s", auction.ID)
	}
	copied := *auction
	r.auctions[auction.ID] = &copied
	return nil
}

func (r *memAuctionRepo) Get(ctx context.Context, auctionID string) (*domain.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failGet[auctionID]; err != nil {
		return nil, err
	}
	auction, ok := r.auctions[auctionID]
	if !ok {
		return nil, domain.Errorf(domain.KindNotFound, "auction %s not found", auctionID)
	}
	copied := *auction
	return &copied, nil
}

func (r *memAuctionRepo) FindDue(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*domain.Auction
	for _, auction := range r.auctions {
		if auction.Status == domain.AuctionOpen && !auction.EndsAt.After(now) {
			copied := *auction
			due = append(due, &copied)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].EndsAt.Before(due[j].EndsAt) })
	return due, nil
}

func (r *memAuctionRepo) CloseIfOpen(ctx context.Context, commit domain.CloseCommit) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	auction, ok := r.auctions[commit.AuctionID]
	if !ok || auction.Status != domain.AuctionOpen || auction.Epoch != commit.Epoch {
		return false, nil
	}
	auction.Status = domain.AuctionClosed
	auction.WinnerID = commit.WinnerID
	auction.WinningBidID = commit.WinningBidID
	auction.WinningBidAmount = commit.WinningBidAmount
	closedAt := commit.ClosedAt
	auction.ClosedAt = &closedAt
	auction.UpdatedAt = commit.ClosedAt
	return true, nil
}

func (r *memAuctionRepo) SetWinner(ctx context.Context, auctionID, winnerID, winningBidID string, amount decimal.Decimal) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	auction, ok := r.auctions[auctionID]
	if !ok || auction.Status != domain.AuctionClosed {
		return false, nil
	}
	auction.WinnerID = winnerID
	auction.WinningBidID = winningBidID
	auction.WinningBidAmount = amount
	return true, nil
}

func (r *memAuctionRepo) Reopen(ctx context.Context, auctionID string, newEndsAt time.Time, preserveFeePaid bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	auction, ok := r.auctions[auctionID]
	if !ok {
		return domain.Errorf(domain.KindNotFound, "auction %s not found", auctionID)
	}
	auction.Status = domain.AuctionOpen
	auction.WinnerID = ""
	auction.WinningBidID = ""
	auction.WinningBidAmount = decimal.Zero
	auction.ClosedAt = nil
	auction.EndsAt = newEndsAt
	auction.Epoch++
	if !preserveFeePaid {
		auction.FlatFeePaid = false
	}
	return nil
}

func (r *memAuctionRepo) MarkListingFeePaid(ctx context.Context, authorizationID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, auction := range r.auctions {
		if auction.ListingFeeAuthorizationID == authorizationID {
			auction.FlatFeePaid = true
			return true, nil
		}
	}
	return false, nil
}

type memBidRepo struct {
	mu        sync.Mutex
	bids      []*domain.Bid
	auctions  *memAuctionRepo
	insertErr error
}

func newMemBidRepo(auctions *memAuctionRepo) *memBidRepo {
	return &memBidRepo{auctions: auctions}
}

func (r *memBidRepo) InsertIfOpen(ctx context.Context, bid *domain.Bid) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return false, r.insertErr
	}
	r.auctions.mu.Lock()
	auction, ok := r.auctions.auctions[bid.AuctionID]
	open := ok && auction.Status == domain.AuctionOpen
	r.auctions.mu.Unlock()
	if !open {
		return false, nil
	}
	copied := *bid
	r.bids = append(r.bids, &copied)
	return true, nil
}

func (r *memBidRepo) Get(ctx context.Context, bidID string) (*domain.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, bid := range r.bids {
		if bid.ID == bidID {
			copied := *bid
			return &copied, nil
		}
	}
	return nil, domain.Errorf(domain.KindNotFound, "bid %s not found", bidID)
}

func (r *memBidRepo) GetByAuthorization(ctx context.Context, authorizationID string) (*domain.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, bid := range r.bids {
		if bid.AuthorizationID == authorizationID {
			copied := *bid
			return &copied, nil
		}
	}
	return nil, domain.Errorf(domain.KindNotFound, "no bid holds authorization %s", authorizationID)
}

func (r *memBidRepo) Highest(ctx context.Context, auctionID string, cutoff time.Time) (*domain.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *domain.Bid
	for _, bid := range r.bids {
		if bid.AuctionID != auctionID || bid.CreatedAt.After(cutoff) {
			continue
		}
		if best == nil {
			best = bid
			continue
		}
		switch bid.Amount.Cmp(best.Amount) {
		case 1:
			best = bid
		case 0:
			if bid.CreatedAt.Before(best.CreatedAt) {
				best = bid
			}
		}
	}
	if best == nil {
		return nil, nil
	}
	copied := *best
	return &copied, nil
}

func (r *memBidRepo) ListByStatus(ctx context.Context, auctionID string, status domain.BidStatus) ([]*domain.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Bid
	for _, bid := range r.bids {
		if bid.AuctionID == auctionID && bid.Status == status {
			copied := *bid
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memBidRepo) UpdateStatus(ctx context.Context, bidID string, from, to domain.BidStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, bid := range r.bids {
		if bid.ID == bidID && bid.Status == from {
			bid.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (r *memBidRepo) DeleteForAuction(ctx context.Context, auctionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.bids[:0]
	for _, bid := range r.bids {
		if bid.AuctionID != auctionID {
			kept = append(kept, bid)
		}
	}
	r.bids = kept
	return nil
}

func (r *memBidRepo) FindPendingSettlements(ctx context.Context, limit int) ([]domain.PendingSettlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PendingSettlement
	for _, bid := range r.bids {
		if bid.Status != domain.BidAuthorized {
			continue
		}
		r.auctions.mu.Lock()
		auction, ok := r.auctions.auctions[bid.AuctionID]
		closed := ok && auction.Status == domain.AuctionClosed
		winner := ok && auction.WinningBidID == bid.ID
		r.auctions.mu.Unlock()
		if !closed {
			continue
		}
		copied := *bid
		out = append(out, domain.PendingSettlement{Bid: &copied, Winner: winner})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeGateway struct {
	mu           sync.Mutex
	nextID       int
	authorized   []string
	captured     []string
	cancelled    []string
	authorizeErr error
	captureErr   error
	cancelErr    error
}

func (g *fakeGateway) Authorize(ctx context.Context, amount decimal.Decimal, metadata map[string]string) (*domain.Authorization, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.authorizeErr != nil {
		return nil, g.authorizeErr
	}
	g.nextID++
	id := fmt.Sprintf("auth_%d", g.nextID)
	g.authorized = append(g.authorized, id)
	return &domain.Authorization{ID: id, ClientSecret: id + "_secret"}, nil
}

func (g *fakeGateway) Capture(ctx context.Context, authorizationID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.captureErr != nil {
		return g.captureErr
	}
	g.captured = append(g.captured, authorizationID)
	return nil
}

func (g *fakeGateway) Cancel(ctx context.Context, authorizationID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return g.cancelErr
	}
	g.cancelled = append(g.cancelled, authorizationID)
	return nil
}

func (g *fakeGateway) captureCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.captured)
}

func (g *fakeGateway) cancelCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.cancelled)
}

type memStateCache struct {
	mu       sync.Mutex
	statuses map[string]domain.AuctionStatus
}

func newMemStateCache() *memStateCache {
	return &memStateCache{statuses: make(map[string]domain.AuctionStatus)}
}

func (c *memStateCache) SetStatus(ctx context.Context, auctionID string, status domain.AuctionStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[auctionID] = status
	return nil
}

func (c *memStateCache) GetStatus(ctx context.Context, auctionID string) (domain.AuctionStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.statuses[auctionID]
	return status, ok, nil
}

type memPublisher struct {
	mu     sync.Mutex
	events []*domain.AuctionEvent
}

func (p *memPublisher) PublishAuctionEvent(ctx context.Context, event *domain.AuctionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}
func (nopLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (nopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Fatal(msg string, keysAndValues ...interface{}) {}
