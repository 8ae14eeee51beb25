package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CloseCommit is the conditional write that ends an epoch. It only takes
// effect when the auction is still OPEN at the epoch read by the closer.
type CloseCommit struct {
	AuctionID        string
	Epoch            int64
	ClosedAt         time.Time
	WinnerID         string
	WinningBidID     string
	WinningBidAmount decimal.Decimal
}

// PendingSettlement is a hold left AUTHORIZED on a closed auction, either a
// winner whose capture failed or a loser whose cancel failed. The scheduler
// retries these on later passes.
type PendingSettlement struct {
	Bid    *Bid
	Winner bool
}

// Repository interfaces
type AuctionRepository interface {
	Create(ctx context.Context, auction *Auction) error
	Get(ctx context.Context, auctionID string) (*Auction, error)
	// FindDue returns OPEN auctions whose end time has passed.
	FindDue(ctx context.Context, now time.Time) ([]*Auction, error)
	// CloseIfOpen commits the close iff status is still OPEN at the commit's
	// epoch. Returns false when the compare-and-swap was lost.
	CloseIfOpen(ctx context.Context, commit CloseCommit) (bool, error)
	// SetWinner rewrites winner fields on an already-CLOSED auction. Admin
	// override only.
	SetWinner(ctx context.Context, auctionID, winnerID, winningBidID string, amount decimal.Decimal) (bool, error)
	// Reopen starts a new epoch: status OPEN, winner fields and closedAt
	// cleared, new end time. FlatFeePaid survives when preserveFeePaid.
	Reopen(ctx context.Context, auctionID string, newEndsAt time.Time, preserveFeePaid bool) error
	// MarkListingFeePaid flips FlatFeePaid for the auction holding the given
	// listing-fee authorization. Returns false when no auction matches.
	MarkListingFeePaid(ctx context.Context, authorizationID string) (bool, error)
}

type BidRepository interface {
	// InsertIfOpen appends the bid iff its auction is still OPEN, as a single
	// conditional write. Returns false when the auction is not OPEN.
	InsertIfOpen(ctx context.Context, bid *Bid) (bool, error)
	Get(ctx context.Context, bidID string) (*Bid, error)
	GetByAuthorization(ctx context.Context, authorizationID string) (*Bid, error)
	// Highest returns the maximum-amount bid with CreatedAt <= cutoff, ties
	// broken by earliest CreatedAt. Nil when the auction has no such bid.
	Highest(ctx context.Context, auctionID string, cutoff time.Time) (*Bid, error)
	ListByStatus(ctx context.Context, auctionID string, status BidStatus) ([]*Bid, error)
	// UpdateStatus transitions bid status conditionally on the current value.
	// Returns false when the bid was not in the expected status.
	UpdateStatus(ctx context.Context, bidID string, from, to BidStatus) (bool, error)
	DeleteForAuction(ctx context.Context, auctionID string) error
	FindPendingSettlements(ctx context.Context, limit int) ([]PendingSettlement, error)
}

// Authorization is a funds hold placed in manual-capture mode. The client
// secret is returned to the caller so the payer can confirm the hold.
type Authorization struct {
	ID           string
	ClientSecret string
}

// PaymentGateway is the boundary to the external payment processor.
type PaymentGateway interface {
	Authorize(ctx context.Context, amount decimal.Decimal, metadata map[string]string) (*Authorization, error)
	// Capture transfers held funds. At most once per authorization.
	Capture(ctx context.Context, authorizationID string) error
	// Cancel releases a hold. Idempotent: already-captured or already-cancelled
	// ids are a no-op, since cleanup paths race with async confirmations.
	Cancel(ctx context.Context, authorizationID string) error
}

// Cache interfaces
type AuctionStateCache interface {
	SetStatus(ctx context.Context, auctionID string, status AuctionStatus) error
	// GetStatus returns ok=false on a cache miss.
	GetStatus(ctx context.Context, auctionID string) (AuctionStatus, bool, error)
}

// Event interfaces
type EventPublisher interface {
	PublishAuctionEvent(ctx context.Context, event *AuctionEvent) error
}

// ProcessedEventStore deduplicates gateway webhook deliveries.
type ProcessedEventStore interface {
	// MarkProcessed records the event id, returning false when it was already
	// seen.
	MarkProcessed(ctx context.Context, eventID string) (bool, error)
}
