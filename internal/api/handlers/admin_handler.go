package handlers

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/SICKMADE/hobbydork-site-sub001/internal/domain"
	"github.com/SICKMADE/hobbydork-site-sub001/internal/services"
	"github.com/SICKMADE/hobbydork-site-sub001/pkg/logger"
)

const adminTokenHeader = "X-Admin-Token"

// AdminAuth guards the admin routes with a shared token. Full operator
// authentication lives in front of this service.
func AdminAuth(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			presented := c.Request().Header.Get(adminTokenHeader)
			if presented == "" {
				return respondError(c, domain.E(domain.KindUnauthenticated, "missing admin token"))
			}
			if token == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				return respondError(c, domain.E(domain.KindPermissionDenied, "caller is not an administrator"))
			}
			return next(c)
		}
	}
}

type AdminHandler struct {
	admin *services.AdminService
	log   logger.Logger
}

func NewAdminHandler(admin *services.AdminService, log logger.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, log: log}
}

type RerunRequest struct {
	NewEndsAt time.Time `json:"new_ends_at"`
	ClearBids bool      `json:"clear_bids"`
	// PreserveFeePaid defaults to true: a rerun is not a new listing.
	PreserveFeePaid *bool  `json:"preserve_fee_paid,omitempty"`
	Reason          string `json:"reason"`
	Note            string `json:"note,omitempty"`
}

func (h *AdminHandler) RerunAuction(c echo.Context) error {
	var req RerunRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, domain.E(domain.KindInvalidArgument, "invalid request body"))
	}

	preserve := true
	if req.PreserveFeePaid != nil {
		preserve = *req.PreserveFeePaid
	}

	_, err := h.admin.Rerun(c.Request().Context(), domain.RerunCommand{
		AuctionID:       c.Param("id"),
		NewEndsAt:       req.NewEndsAt,
		ClearBids:       req.ClearBids,
		PreserveFeePaid: preserve,
		Reason:          domain.OverrideReason(req.Reason),
		Note:            req.Note,
	})
	if err != nil {
		h.log.Error("rerun failed", "auction_id", c.Param("id"), "error", err)
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

type OverrideWinnerRequest struct {
	BidID  string `json:"bid_id"`
	Reason string `json:"reason"`
	Note   string `json:"note,omitempty"`
}

func (h *AdminHandler) OverrideWinner(c echo.Context) error {
	var req OverrideWinnerRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, domain.E(domain.KindInvalidArgument, "invalid request body"))
	}
	if req.BidID == "" {
		return respondError(c, domain.E(domain.KindInvalidArgument, "bid_id is required"))
	}

	_, err := h.admin.OverrideWinner(c.Request().Context(), domain.OverrideWinnerCommand{
		AuctionID: c.Param("id"),
		BidID:     req.BidID,
		Reason:    domain.OverrideReason(req.Reason),
		Note:      req.Note,
	})
	if err != nil {
		h.log.Error("winner override failed", "auction_id", c.Param("id"), "bid_id", req.BidID, "error", err)
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
