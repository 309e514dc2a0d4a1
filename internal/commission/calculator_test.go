package commission_test

import (
	"testing"

	"github.com/smallbiznis/reserva/internal/commission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHappyPath(t *testing.T) {
	split, err := commission.Compute(100_000, 1000)
	require.NoError(t, err)

	assert.Equal(t, int64(10_000), split.Commission)
	assert.Equal(t, int64(90_000), split.Payout)
	assert.Equal(t, split.Subtotal, split.Commission+split.Payout)
}

func TestComputeRoundsUp(t *testing.T) {
	// 10.01 * 3.33% = 33.33.. minor units; fee must round up to 34.
	split, err := commission.Compute(1001, 333)
	require.NoError(t, err)
	assert.Equal(t, int64(34), split.Commission)
	assert.Equal(t, int64(1001), split.Commission+split.Payout)
}

func TestComputeClampsToMaxFee(t *testing.T) {
	// 90% requested exceeds the 50% platform cap.
	split, err := commission.Compute(100_000, 9000)
	require.NoError(t, err)
	assert.Equal(t, int64(50_000), split.Commission)
	assert.Equal(t, int64(50_000), split.Payout)
}

func TestComputeClampsToMinFee(t *testing.T) {
	// 0% requested is raised to the 0.5% platform floor.
	split, err := commission.Compute(100_000, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(500), split.Commission)
	assert.Equal(t, int64(99_500), split.Payout)
}

func TestComputeZeroSubtotal(t *testing.T) {
	split, err := commission.Compute(0, 1000)
	require.NoError(t, err)
	assert.Zero(t, split.Commission)
	assert.Zero(t, split.Payout)
}

func TestComputeRejectsBadInput(t *testing.T) {
	_, err := commission.Compute(-1, 1000)
	assert.ErrorIs(t, err, commission.ErrNegativeSubtotal)

	_, err = commission.Compute(100, -1)
	assert.ErrorIs(t, err, commission.ErrInvalidRate)

	_, err = commission.Compute(100, 10_001)
	assert.ErrorIs(t, err, commission.ErrInvalidRate)
}

func TestComputeProperties(t *testing.T) {
	subtotals := []int64{0, 1, 2, 99, 100, 101, 999, 1000, 12_345, 100_000, 999_999_999}
	rates := []int64{0, 1, 49, 50, 51, 333, 1000, 2500, 4999, 5000, 5001, 9999, 10_000}

	for _, s := range subtotals {
		for _, r := range rates {
			split, err := commission.Compute(s, r)
			require.NoError(t, err)

			assert.Equal(t, s, split.Commission+split.Payout, "subtotal=%d rate=%d", s, r)
			assert.GreaterOrEqual(t, split.Payout, int64(0), "subtotal=%d rate=%d", s, r)

			minFee := (s*commission.MinFeeBps + 9999) / 10_000
			maxFee := s * commission.MaxFeeBps / 10_000
			if minFee > maxFee {
				// Tiny subtotals where the rounded floor exceeds the
				// cap; the cap wins.
				minFee = maxFee
			}
			assert.GreaterOrEqual(t, split.Commission, minFee, "subtotal=%d rate=%d", s, r)
			assert.LessOrEqual(t, split.Commission, maxFee, "subtotal=%d rate=%d", s, r)

			// Within the bounds the fee never rounds below the exact value.
			raw := s * r
			if split.Commission > minFee && split.Commission < maxFee {
				assert.GreaterOrEqual(t, split.Commission*10_000, raw, "subtotal=%d rate=%d", s, r)
			}
		}
	}
}
