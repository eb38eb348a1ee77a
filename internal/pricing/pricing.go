package pricing

import "math"

// Item is one order line as submitted by the client, with the tax percentages
// already resolved from the shop's tax rate configuration.
type Item struct {
	ProductID       string
	UnitPrice       float64
	Quantity        int
	DiscountPercent float64
	TaxRatePercents []float64
}

type Input struct {
	Items                []Item
	OrderDiscountPercent float64
	ExchangeRate         float64
	// TaxTotalOverride, when non-zero, replaces the computed per-item tax sum.
	TaxTotalOverride float64

	// Redemption requests. Both are ignored while Pending is true: pending
	// orders skip loyalty and e-wallet deductions entirely.
	Pending         bool
	RequestedPoints int
	LoyaltyPoints   int
	RequestedWallet float64
	EwalletBalance  float64
}

type Result struct {
	Subtotal   float64
	TaxTotal   float64
	Total      float64
	PointsUsed int
	WalletUsed float64
}

// Calculate computes order totals from line items. It is a pure function: all
// balance mutations implied by PointsUsed/WalletUsed are applied by the caller
// inside its unit of work.
//
// Tax is intentionally computed on the pre-discount, pre-exchange-rate item
// price while the subtotal applies both; this reproduces the billing behavior
// the rest of the system depends on.
func Calculate(in Input) Result {
	rate := in.ExchangeRate
	if rate <= 0 {
		rate = 1.0
	}

	subtotal := 0.0
	taxTotal := 0.0
	for _, item := range in.Items {
		line := item.UnitPrice * float64(item.Quantity)
		subtotal += line * (1 - item.DiscountPercent/100)
		for _, percent := range item.TaxRatePercents {
			taxTotal += line * percent / 100
		}
	}
	subtotal *= rate

	if in.TaxTotalOverride != 0 {
		taxTotal = in.TaxTotalOverride
	}

	total := (subtotal + taxTotal) * (1 - in.OrderDiscountPercent/100)

	pointsUsed := 0
	if !in.Pending && in.RequestedPoints > 0 {
		pointsUsed = in.RequestedPoints
		if pointsUsed > in.LoyaltyPoints {
			pointsUsed = in.LoyaltyPoints
		}
		if limit := int(math.Round(total * 100)); pointsUsed > limit {
			pointsUsed = limit
		}
		if pointsUsed < 0 {
			pointsUsed = 0
		}
		total -= float64(pointsUsed) * 0.01
	}

	walletUsed := 0.0
	if !in.Pending && in.RequestedWallet > 0 {
		walletUsed = in.RequestedWallet
		if walletUsed > in.EwalletBalance {
			walletUsed = in.EwalletBalance
		}
		if walletUsed > total {
			walletUsed = total
		}
		if walletUsed < 0 {
			walletUsed = 0
		}
		total -= walletUsed
	}

	return Result{
		Subtotal:   Round2(subtotal),
		TaxTotal:   Round2(taxTotal),
		Total:      Round2(total),
		PointsUsed: pointsUsed,
		WalletUsed: Round2(walletUsed),
	}
}

// PointsEarned is the loyalty reward for a completed non-pending order.
func PointsEarned(total float64) int {
	if total <= 0 {
		return 0
	}
	return int(math.Floor(total))
}

// Round2 rounds to 2 decimal places, the precision all monetary amounts are
// stored and compared at.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
