package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AuctionKind string

const (
	KindOpenBid  AuctionKind = "OPEN_BID"
	KindBlindBid AuctionKind = "BLIND_BID"
)

type AuctionStatus int

const (
	AuctionOpen AuctionStatus = iota
	AuctionClosed
)

func (s AuctionStatus) String() string {
	switch s {
	case AuctionOpen:
		return "open"
	case AuctionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type SellerTier string

const (
	TierSilver SellerTier = "SILVER"
	TierGold   SellerTier = "GOLD"
)

type Auction struct {
	ID          string
	SellerID    string
	Title       string
	Description string
	ImageURL    string
	Kind        AuctionKind
	Status      AuctionStatus

	StartingPrice decimal.Decimal
	UpfrontFee    decimal.Decimal
	AfterSaleFee  decimal.Decimal

	// Blind auctions only. FlatFeePaid flips once the gateway confirms the
	// listing-fee authorization out of band.
	FlatFeePaid               bool
	ListingFeeAuthorizationID string

	// Winner fields are zero until the auction is closed with at least one bid.
	WinnerID         string
	WinningBidID     string
	WinningBidAmount decimal.Decimal

	// Epoch counts OPEN->CLOSED lifecycles of this auction id. An admin rerun
	// starts a new epoch; the close compare-and-swap is conditioned on it.
	Epoch int64

	CreatedAt time.Time
	EndsAt    time.Time
	ClosedAt  *time.Time
	UpdatedAt time.Time
}

func (a *Auction) HasWinner() bool {
	return a.WinnerID != ""
}

type BidStatus string

const (
	// BidNone is the status of open-bid auction bids, which carry no hold.
	BidNone       BidStatus = ""
	BidAuthorized BidStatus = "AUTHORIZED"
	BidCaptured   BidStatus = "CAPTURED"
	BidCancelled  BidStatus = "CANCELLED"
	BidFailed     BidStatus = "FAILED"
)

// Bid is immutable once written except for Status, which moves only through
// gateway confirmations and closing.
type Bid struct {
	ID              string
	AuctionID       string
	BidderID        string
	Amount          decimal.Decimal
	AuthorizationID string
	Status          BidStatus
	CreatedAt       time.Time
}

type OverrideReason string

const (
	ReasonPaymentFailure OverrideReason = "PAYMENT_FAILURE"
	ReasonFraud          OverrideReason = "FRAUD"
	ReasonDispute        OverrideReason = "DISPUTE"
	ReasonOther          OverrideReason = "OTHER"
)

// RerunCommand reopens an auction for a new epoch.
type RerunCommand struct {
	AuctionID       string
	NewEndsAt       time.Time
	ClearBids       bool
	PreserveFeePaid bool
	Reason          OverrideReason
	Note            string
}

// OverrideWinnerCommand forces a specific bid to win, bypassing highest-bid
// selection. Used for dispute resolution.
type OverrideWinnerCommand struct {
	AuctionID string
	BidID     string
	Reason    OverrideReason
	Note      string
}

type AuctionEventType string

const (
	EventBidAccepted   AuctionEventType = "bid_accepted"
	EventAuctionClosed AuctionEventType = "auction_closed"
)

// AuctionEvent is published on the notification channel. Blind bid amounts are
// never published before close.
type AuctionEvent struct {
	Type      AuctionEventType `json:"type"`
	AuctionID string           `json:"auction_id"`
	BidderID  string           `json:"bidder_id,omitempty"`
	Amount    decimal.Decimal  `json:"amount"`
	Timestamp time.Time        `json:"timestamp"`
}
