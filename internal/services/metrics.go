package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	auctionsClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_engine_auctions_closed_total",
		Help: "Auctions moved to CLOSED by this instance.",
	})
	closeFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_engine_close_failures_total",
		Help: "Scheduler close attempts that failed and will be retried.",
	})
	bidsAcceptedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_engine_bids_accepted_total",
		Help: "Bids appended to the ledger.",
	}, []string{"kind"})
	holdsCapturedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_engine_holds_captured_total",
		Help: "Winning authorizations captured.",
	})
	holdsReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_engine_holds_released_total",
		Help: "Losing authorizations cancelled.",
	})
	gatewayFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_engine_gateway_failures_total",
		Help: "Payment gateway calls that failed.",
	}, []string{"op"})
)
