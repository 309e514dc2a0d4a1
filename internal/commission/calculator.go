package commission

import (
	"errors"
	"math"
)

var (
	ErrNegativeSubtotal = errors.New("commission: subtotal must not be negative")
	ErrSubtotalTooLarge = errors.New("commission: subtotal exceeds supported range")
	ErrInvalidRate      = errors.New("commission: rate must be between 0 and 10000 basis points")
)

const (
	// Payment platform bounds on application fees: 0.5% .. 50% of the
	// transaction amount.
	MinFeeBps = 50
	MaxFeeBps = 5000

	bpsDenominator = 10_000
)

// Split is the division of a booking subtotal into platform commission
// and vendor payout, in minor units. Commission + Payout always equals
// the subtotal exactly.
type Split struct {
	Subtotal   int64
	RateBps    int64
	Commission int64
	Payout     int64
}

// Compute returns the fee split for a subtotal in minor units and a
// commission rate in basis points. The raw commission rounds up, in the
// platform's favor, and is then clamped into the platform's fee bounds.
// Deterministic and side-effect free; safe to call speculatively.
func Compute(subtotal int64, rateBps int64) (Split, error) {
	if subtotal < 0 {
		return Split{}, ErrNegativeSubtotal
	}
	if subtotal > math.MaxInt64/bpsDenominator {
		return Split{}, ErrSubtotalTooLarge
	}
	if rateBps < 0 || rateBps > bpsDenominator {
		return Split{}, ErrInvalidRate
	}

	fee := ceilDiv(subtotal*rateBps, bpsDenominator)

	minFee := ceilDiv(subtotal*MinFeeBps, bpsDenominator)
	maxFee := subtotal * MaxFeeBps / bpsDenominator
	if fee < minFee {
		fee = minFee
	}
	if fee > maxFee {
		fee = maxFee
	}

	return Split{
		Subtotal:   subtotal,
		RateBps:    rateBps,
		Commission: fee,
		Payout:     subtotal - fee,
	}, nil
}

func ceilDiv(numerator, denominator int64) int64 {
	q := numerator / denominator
	if numerator%denominator != 0 {
		q++
	}
	return q
}
