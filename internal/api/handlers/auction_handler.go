package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/SICKMADE/hobbydork-site-sub001/internal/domain"
	"github.com/SICKMADE/hobbydork-site-sub001/internal/services"
	"github.com/SICKMADE/hobbydork-site-sub001/pkg/logger"
)

// userIDHeader carries the caller identity resolved by the session layer in
// front of this service. Session management itself is not this service's
// concern.
const userIDHeader = "X-User-ID"

type AuctionHandler struct {
	machine *services.AuctionStateMachine
	ledger  *services.BidLedger
	log     logger.Logger
}

func NewAuctionHandler(machine *services.AuctionStateMachine, ledger *services.BidLedger, log logger.Logger) *AuctionHandler {
	return &AuctionHandler{
		machine: machine,
		ledger:  ledger,
		log:     log,
	}
}

type CreateAuctionRequest struct {
	SellerTier    string     `json:"seller_tier"`
	StartingPrice string     `json:"starting_price"`
	Title         string     `json:"title"`
	EndsAt        *time.Time `json:"ends_at,omitempty"`
}

type CreateAuctionResponse struct {
	AuctionID  string `json:"auction_id"`
	UpfrontFee string `json:"upfront_fee"`
	EndsAt     string `json:"ends_at"`
}

func (h *AuctionHandler) CreateAuction(c echo.Context) error {
	sellerID, err := callerID(c)
	if err != nil {
		return respondError(c, err)
	}

	var req CreateAuctionRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, domain.E(domain.KindInvalidArgument, "invalid request body"))
	}

	price, err := parseAmount(req.StartingPrice, "starting_price")
	if err != nil {
		return respondError(c, err)
	}

	var endsAt time.Time
	if req.EndsAt != nil {
		endsAt = *req.EndsAt
	}

	auction, err := h.machine.Create(c.Request().Context(), sellerID,
		domain.SellerTier(req.SellerTier), price, req.Title, endsAt)
	if err != nil {
		h.log.Error("failed to create auction", "seller_id", sellerID, "error", err)
		return respondError(c, err)
	}

	return c.JSON(http.StatusCreated, CreateAuctionResponse{
		AuctionID:  auction.ID,
		UpfrontFee: auction.UpfrontFee.StringFixed(2),
		EndsAt:     auction.EndsAt.Format(time.RFC3339),
	})
}

type PlaceBidRequest struct {
	Amount string `json:"amount"`
}

type PlaceBidResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

func (h *AuctionHandler) PlaceBid(c echo.Context) error {
	bidderID, err := callerID(c)
	if err != nil {
		return respondError(c, err)
	}

	var req PlaceBidRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, domain.E(domain.KindInvalidArgument, "invalid request body"))
	}

	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		return respondError(c, err)
	}

	_, err = h.ledger.PlaceBid(c.Request().Context(), c.Param("id"), bidderID, amount)
	if err != nil {
		// A bid losing the race against close is a rejection, not a failure.
		if domain.KindOf(err) == domain.KindFailedPrecondition {
			return c.JSON(http.StatusOK, PlaceBidResponse{Accepted: false, Reason: "auction_closed"})
		}
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, PlaceBidResponse{Accepted: true})
}

type CreateBlindAuctionRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url,omitempty"`
}

type CreateBlindAuctionResponse struct {
	AuctionID                 string `json:"auction_id"`
	AuthorizationClientSecret string `json:"authorization_client_secret"`
	EndsAt                    string `json:"ends_at"`
}

func (h *AuctionHandler) CreateBlindAuction(c echo.Context) error {
	sellerID, err := callerID(c)
	if err != nil {
		return respondError(c, err)
	}

	var req CreateBlindAuctionRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, domain.E(domain.KindInvalidArgument, "invalid request body"))
	}

	auction, clientSecret, err := h.machine.CreateBlind(c.Request().Context(),
		sellerID, req.Title, req.Description, req.ImageURL)
	if err != nil {
		h.log.Error("failed to create blind auction", "seller_id", sellerID, "error", err)
		return respondError(c, err)
	}

	return c.JSON(http.StatusCreated, CreateBlindAuctionResponse{
		AuctionID:                 auction.ID,
		AuthorizationClientSecret: clientSecret,
		EndsAt:                    auction.EndsAt.Format(time.RFC3339),
	})
}

type SubmitBlindBidRequest struct {
	Amount string `json:"amount"`
}

type SubmitBlindBidResponse struct {
	BidID                     string `json:"bid_id"`
	AuthorizationClientSecret string `json:"authorization_client_secret"`
}

func (h *AuctionHandler) SubmitBlindBid(c echo.Context) error {
	bidderID, err := callerID(c)
	if err != nil {
		return respondError(c, err)
	}

	var req SubmitBlindBidRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, domain.E(domain.KindInvalidArgument, "invalid request body"))
	}

	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		return respondError(c, err)
	}

	bid, clientSecret, err := h.ledger.SubmitBlindBid(c.Request().Context(), c.Param("id"), bidderID, amount)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusCreated, SubmitBlindBidResponse{
		BidID:                     bid.ID,
		AuthorizationClientSecret: clientSecret,
	})
}

func callerID(c echo.Context) (string, error) {
	id := c.Request().Header.Get(userIDHeader)
	if id == "" {
		return "", domain.E(domain.KindUnauthenticated, "missing caller identity")
	}
	return id, nil
}

func parseAmount(raw, field string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, domain.Errorf(domain.KindInvalidArgument, "%s is required", field)
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, domain.Errorf(domain.KindInvalidArgument, "%s must be a decimal number", field)
	}
	return amount, nil
}
