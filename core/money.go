package core

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var bpsScale = decimal.NewFromInt(bpsDenominator)

// bpsOf returns amount * bps / 10000 as an exact decimal.
func bpsOf(amount, bps int64) decimal.Decimal {
	return decimal.NewFromInt(amount).Mul(decimal.NewFromInt(bps)).Div(bpsScale)
}

// RequiredMinimumBid returns the smallest amount a new bid must carry.
// With no bid yet it is the entry bid; otherwise it is highestBid + ceil(highestBid * incrementBps / 10000).
func RequiredMinimumBid(entryBid, highestBid, incrementBps int64) (int64, error) {
	if highestBid <= 0 {
		return entryBid, nil
	}

	increment := bpsOf(highestBid, incrementBps).Ceil()
	minimum := decimal.NewFromInt(highestBid).Add(increment)
	if minimum.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("%w: required minimum exceeds int64 range", ErrInvalidAmount)
	}
	return minimum.IntPart(), nil
}

// SplitCommission divides gross into the payee's share, floor(gross * (10000 - commissionBps) / 10000),
// and the retained commission. The two parts always sum to gross.
func SplitCommission(gross, commissionBps int64) (payout, commission int64) {
	if gross <= 0 {
		return 0, 0
	}
	payout = bpsOf(gross, bpsDenominator-commissionBps).Floor().IntPart()
	return payout, gross - payout
}

func addChecked(a, b int64) (int64, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, fmt.Errorf("%w: %d + %d overflows", ErrInvalidAmount, a, b)
	}
	return a + b, nil
}
