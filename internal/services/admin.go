package services

import (
	"context"

	"github.com/SICKMADE/hobbydork-site-sub001/internal/domain"
	"github.com/SICKMADE/hobbydork-site-sub001/pkg/logger"
)

// AdminService exposes the out-of-band operations used for dispute
// resolution. Callers are administrator-authenticated at the API layer; every
// command carries a structured reason plus free-text note for the audit log.
type AdminService struct {
	machine *AuctionStateMachine
	log     logger.Logger
}

func NewAdminService(machine *AuctionStateMachine, log logger.Logger) *AdminService {
	return &AdminService{machine: machine, log: log}
}

func validReason(reason domain.OverrideReason) bool {
	switch reason {
	case domain.ReasonPaymentFailure, domain.ReasonFraud, domain.ReasonDispute, domain.ReasonOther:
		return true
	}
	return false
}

// OverrideWinner forces a specific bid to win, e.g. after a payment failure
// on the algorithmic winner.
func (s *AdminService) OverrideWinner(ctx context.Context, cmd domain.OverrideWinnerCommand) (*domain.Auction, error) {
	if !validReason(cmd.Reason) {
		return nil, domain.Errorf(domain.KindInvalidArgument, "unknown override reason %q", cmd.Reason)
	}

	s.log.Info("admin winner override", "auction_id", cmd.AuctionID, "bid_id", cmd.BidID,
		"reason", cmd.Reason, "note", cmd.Note)
	return s.machine.CloseWithWinner(ctx, cmd.AuctionID, cmd.BidID)
}

// Rerun reopens an auction for a new epoch.
func (s *AdminService) Rerun(ctx context.Context, cmd domain.RerunCommand) (*domain.Auction, error) {
	if !validReason(cmd.Reason) {
		return nil, domain.Errorf(domain.KindInvalidArgument, "unknown override reason %q", cmd.Reason)
	}

	return s.machine.Rerun(ctx, cmd)
}
