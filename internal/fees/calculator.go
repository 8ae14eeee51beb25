// Package fees computes seller fees from tier and price. Pure, no side
// effects; money is shopspring decimal throughout.
package fees

import (
	"github.com/shopspring/decimal"

	"github.com/SICKMADE/hobbydork-site-sub001/internal/domain"
)

var (
	silverRate  = decimal.RequireFromString("0.05")
	silverFloor = decimal.RequireFromString("10.00")
	goldRate    = decimal.RequireFromString("0.02")
	goldFloor   = decimal.RequireFromString("5.00")
)

// Eligible reports whether the tier may create auctions at all.
func Eligible(tier domain.SellerTier) bool {
	return tier == domain.TierSilver || tier == domain.TierGold
}

// UpfrontFee returns the fee charged to the seller at auction creation:
// SILVER pays max(5% of price, 10.00), GOLD pays max(2% of price, 5.00).
// The percentage product is rounded half-up to the minor currency unit
// before the floor applies. Any other tier is ineligible.
func UpfrontFee(tier domain.SellerTier, startingPrice decimal.Decimal) (decimal.Decimal, error) {
	var rate, floor decimal.Decimal
	switch tier {
	case domain.TierSilver:
		rate, floor = silverRate, silverFloor
	case domain.TierGold:
		rate, floor = goldRate, goldFloor
	default:
		return decimal.Zero, domain.Errorf(domain.KindPermissionDenied, "tier %q is not eligible to create auctions", tier)
	}

	// Round is half-away-from-zero, which is half-up for non-negative prices.
	fee := rate.Mul(startingPrice).Round(2)
	if fee.LessThan(floor) {
		return floor, nil
	}
	return fee, nil
}

// AfterSaleFee is always zero: there is no final-value fee.
func AfterSaleFee() decimal.Decimal {
	return decimal.Zero
}
