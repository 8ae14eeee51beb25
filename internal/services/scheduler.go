package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/SICKMADE/hobbydork-site-sub001/internal/domain"
	"github.com/SICKMADE/hobbydork-site-sub001/pkg/logger"
)

const settlementBatchSize = 100

// CronAuctionScheduler drives the state machine on a fixed interval: close
// every OPEN auction past its end time, then retry any payment holds left
// unsettled by earlier failures. Overlapping runs are safe; the close
// compare-and-swap makes the loser a no-op.
type CronAuctionScheduler struct {
	cron     *cron.Cron
	auctions domain.AuctionRepository
	bids     domain.BidRepository
	machine  *AuctionStateMachine
	interval time.Duration
	log      logger.Logger
}

func NewCronAuctionScheduler(
	auctions domain.AuctionRepository,
	bids domain.BidRepository,
	machine *AuctionStateMachine,
	interval time.Duration,
	log logger.Logger,
) *CronAuctionScheduler {
	return &CronAuctionScheduler{
		cron:     cron.New(),
		auctions: auctions,
		bids:     bids,
		machine:  machine,
		interval: interval,
		log:      log,
	}
}

func (s *CronAuctionScheduler) Start(ctx context.Context) error {
	s.log.Info("starting auction scheduler", "interval", s.interval)

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.RunOnce(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

func (s *CronAuctionScheduler) Stop() error {
	s.log.Info("stopping auction scheduler")
	s.cron.Stop()
	return nil
}

// RunOnce is a single scheduler pass.
func (s *CronAuctionScheduler) RunOnce(ctx context.Context) {
	s.CloseDueAuctions(ctx)
	s.RetrySettlements(ctx)
}

// CloseDueAuctions closes every OPEN auction whose end time has passed. One
// auction's failure never aborts the batch; the next run retries it.
func (s *CronAuctionScheduler) CloseDueAuctions(ctx context.Context) {
	due, err := s.auctions.FindDue(ctx, time.Now())
	if err != nil {
		s.log.Error("failed to query due auctions", "error", err)
		return
	}

	for _, auction := range due {
		if _, err := s.machine.Close(ctx, auction.ID); err != nil {
			switch domain.KindOf(err) {
			case domain.KindConflict, domain.KindFailedPrecondition:
				// Another closer or a rerun got there first.
			default:
				closeFailuresTotal.Inc()
				s.log.Error("failed to close auction", "auction_id", auction.ID, "error", err)
			}
		}
	}
}

// RetrySettlements re-drives holds left AUTHORIZED on closed auctions:
// capture for winners, cancel for losers.
func (s *CronAuctionScheduler) RetrySettlements(ctx context.Context) {
	pending, err := s.bids.FindPendingSettlements(ctx, settlementBatchSize)
	if err != nil {
		s.log.Error("failed to query pending settlements", "error", err)
		return
	}

	for _, settlement := range pending {
		if settlement.Winner {
			s.machine.CaptureHold(ctx, settlement.Bid)
		} else {
			s.machine.ReleaseHold(ctx, settlement.Bid)
		}
	}
}
