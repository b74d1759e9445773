package signals

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/pulse/internal/models"
)

func generateTicks(prices []float64, deltas []float64) []*models.Tick {
	ticks := make([]*models.Tick, len(prices))
	for i := range prices {
		delta := 0.0
		if i < len(deltas) {
			delta = deltas[i]
		}
		ticks[i] = &models.Tick{
			MarketID:    1,
			TS:          int64(1700000000000 + i*60000),
			YesPrice:    prices[i],
			Volume:      float64(1000 + i),
			DeltaVolume: delta,
		}
	}
	return ticks
}

func TestUpdate(t *testing.T) {
	// One step from (0.5, 0) with x=0.6 and alpha=2/21.
	mean, variance := Update(0.5, 0, 0.6, Alpha)
	assert.InDelta(t, 0.50952380952, mean, 1e-9)
	assert.InDelta(t, 0.00086167800, variance, 1e-9)

	// Constant observations collapse the variance toward zero.
	mean, variance = 0.5, 0.02
	for i := 0; i < 200; i++ {
		mean, variance = Update(mean, variance, 0.5, Alpha)
	}
	assert.InDelta(t, 0.5, mean, 1e-9)
	assert.Less(t, variance, 1e-6)
	assert.GreaterOrEqual(t, variance, 0.0)
}

func TestUpdate_Deterministic(t *testing.T) {
	xs := []float64{0.5, 0.52, 0.48, 0.55, 0.51, 0.49}

	run := func() (float64, float64) {
		mean, variance := xs[0], 0.0
		for _, x := range xs[1:] {
			mean, variance = Update(mean, variance, x, Alpha)
		}
		return mean, variance
	}

	m1, v1 := run()
	m2, v2 := run()
	assert.Equal(t, m1, m2)
	assert.Equal(t, v1, v2)
}

func TestZScore(t *testing.T) {
	tests := []struct {
		name     string
		x        float64
		mean     float64
		variance float64
		minStd   float64
		expected float64
	}{
		{"two sigma", 0.7, 0.5, 0.01, 0.005, 2.0},
		{"noise floor applies", 0.51, 0.5, 0, 0.005, 2.0},
		{"below mean", 0.3, 0.5, 0.01, 0.005, -2.0},
		{"at mean", 0.5, 0.5, 0.04, 0.005, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ZScore(tt.x, tt.mean, tt.variance, tt.minStd)
			assert.InDelta(t, tt.expected, result, 1e-9)
		})
	}
}

func TestVolumeBoost(t *testing.T) {
	assert.InDelta(t, 1.0, VolumeBoost(0, 0.25), 1e-9)
	assert.InDelta(t, 1.0, VolumeBoost(1, 0.25), 1e-9)
	assert.InDelta(t, 1.25, VolumeBoost(2, 0.25), 1e-9)
	assert.InDelta(t, 1.0, VolumeBoost(-3, 0.25), 1e-9)
}

func TestAdjustedScore(t *testing.T) {
	// Negative price Z contributes its magnitude.
	assert.InDelta(t, 3.75, AdjustedScore(-3, 2, 0.25), 1e-9)
	// No volume excess leaves the price Z unchanged.
	assert.InDelta(t, 2.5, AdjustedScore(2.5, 0.5, 0.25), 1e-9)
}

func TestMinChangeForPrice(t *testing.T) {
	tests := []struct {
		name     string
		price    float64
		expected float64
	}{
		{"deep low", 0.005, 0.07},
		{"deep high", 0.995, 0.07},
		{"near low", 0.02, 0.10},
		{"near high", 0.98, 0.10},
		{"middle low edge", 0.03, 0.15},
		{"middle high edge", 0.97, 0.15},
		{"middle", 0.5, 0.15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MinChangeForPrice(tt.price, 0.07, 0.10, 0.15)
			assert.InDelta(t, tt.expected, result, 1e-9)
		})
	}
}

func TestApply_FirstObservation(t *testing.T) {
	state := &models.EWMAState{MarketID: 1}
	Apply(state, &models.Tick{YesPrice: 0.42, DeltaVolume: 12})

	assert.Equal(t, 0.42, state.PriceMean)
	assert.Equal(t, 0.0, state.PriceVar)
	assert.Equal(t, 12.0, state.VolumeMean)
	assert.Equal(t, 0.0, state.VolumeVar)
	assert.Equal(t, 0.42, state.LastPrice)
	assert.Equal(t, 1, state.TickCount)
}

func TestApply_LastPriceTracksObservation(t *testing.T) {
	state := &models.EWMAState{MarketID: 1}
	Apply(state, &models.Tick{YesPrice: 0.50, DeltaVolume: 5})
	Apply(state, &models.Tick{YesPrice: 0.60, DeltaVolume: 5})

	assert.Equal(t, 0.60, state.LastPrice, "LastPrice is the raw observation, not the mean")
	assert.Less(t, state.PriceMean, 0.60)
	assert.Greater(t, state.PriceMean, 0.50)
}

func TestSeed(t *testing.T) {
	prices := []float64{0.50, 0.501, 0.499, 0.50, 0.502}
	deltas := []float64{5, 6, 4, 5, 5}
	state := Seed(7, generateTicks(prices, deltas))

	require.NotNil(t, state)
	assert.Equal(t, int64(7), state.MarketID)
	assert.Equal(t, len(prices), state.TickCount)
	assert.Equal(t, 0.502, state.LastPrice)
	assert.InDelta(t, 0.50, state.PriceMean, 0.01)
	assert.GreaterOrEqual(t, state.PriceVar, 0.0)
}

func TestSeed_Empty(t *testing.T) {
	state := Seed(7, nil)
	require.NotNil(t, state)
	assert.Equal(t, 0, state.TickCount, "empty seed stays at the zero sentinel")
}

func TestSeed_MatchesIncrementalApply(t *testing.T) {
	prices := []float64{0.30, 0.31, 0.29, 0.32, 0.30, 0.33}
	deltas := []float64{10, 20, 0, 40, 10, 30}
	ticks := generateTicks(prices, deltas)

	seeded := Seed(1, ticks)

	incremental := &models.EWMAState{MarketID: 1}
	for _, tick := range ticks {
		Apply(incremental, tick)
	}

	assert.Equal(t, incremental.TickCount, seeded.TickCount)
	assert.InDelta(t, incremental.PriceMean, seeded.PriceMean, 1e-12)
	assert.InDelta(t, incremental.PriceVar, seeded.PriceVar, 1e-12)
	assert.InDelta(t, incremental.VolumeMean, seeded.VolumeMean, 1e-12)
	assert.InDelta(t, incremental.VolumeVar, seeded.VolumeVar, 1e-12)
}

func TestVarianceStaysNonNegative(t *testing.T) {
	mean, variance := 0.5, 0.0
	xs := []float64{0.9, 0.1, 0.95, 0.05, 0.5, 0.5, 0.5}
	for _, x := range xs {
		mean, variance = Update(mean, variance, x, Alpha)
		assert.GreaterOrEqual(t, variance, 0.0)
		assert.False(t, math.IsNaN(mean))
	}
}
