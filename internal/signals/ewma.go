// Package signals provides online statistics for anomaly detection
package signals

import (
	"math"

	"github.com/bobmcallan/pulse/internal/models"
)

// Estimator parameters. Span follows the ewm convention where
// alpha = 2/(span+1).
const (
	Span  = 20
	Alpha = 2.0 / (Span + 1)

	// MinTicksForDetection is the estimator warm-up length; no decision
	// is made before this many ticks have been consumed.
	MinTicksForDetection = 20

	// Noise floors for the Z-score denominators.
	MinStdPrice  = 0.005
	MinStdVolume = 20.0
)

// Update applies one observation to an EWMA mean/variance pair.
func Update(mean, variance, x, alpha float64) (float64, float64) {
	d := x - mean
	newMean := mean + alpha*d
	newVariance := (1 - alpha) * (variance + alpha*d*d)
	return newMean, newVariance
}

// ZScore measures how far x sits from the mean in standard deviations,
// with a noise floor on the deviation.
func ZScore(x, mean, variance, minStd float64) float64 {
	std := math.Sqrt(variance)
	if std < minStd {
		std = minStd
	}
	return (x - mean) / std
}

// VolumeBoost amplifies a price anomaly when volume is also unusual.
// Volume Z-scores at or below 1 contribute nothing.
func VolumeBoost(volumeZ, beta float64) float64 {
	excess := volumeZ - 1
	if excess < 0 {
		excess = 0
	}
	return 1 + excess*beta
}

// AdjustedScore combines the price Z-score magnitude with the volume
// boost.
func AdjustedScore(priceZ, volumeZ, beta float64) float64 {
	return math.Abs(priceZ) * VolumeBoost(volumeZ, beta)
}

// MinChangeForPrice returns the minimum absolute price change required
// at the given price level. Markets pinned near 0 or 1 move in small
// absolute steps, so the required move shrinks toward the extremes.
func MinChangeForPrice(price, deepExtreme, nearExtreme, middle float64) float64 {
	switch {
	case price < 0.01 || price > 0.99:
		return deepExtreme
	case price < 0.03 || price > 0.97:
		return nearExtreme
	default:
		return middle
	}
}

// Apply folds one tick into the estimator. The first observation
// initializes the means with zero variance; every call overwrites
// LastPrice with the observed price and increments TickCount.
func Apply(state *models.EWMAState, tick *models.Tick) {
	if state.TickCount == 0 {
		state.PriceMean = tick.YesPrice
		state.PriceVar = 0
		state.VolumeMean = tick.DeltaVolume
		state.VolumeVar = 0
	} else {
		state.PriceMean, state.PriceVar = Update(state.PriceMean, state.PriceVar, tick.YesPrice, Alpha)
		state.VolumeMean, state.VolumeVar = Update(state.VolumeMean, state.VolumeVar, tick.DeltaVolume, Alpha)
	}
	state.LastPrice = tick.YesPrice
	state.TickCount++
}

// Seed builds estimator state from tick history ordered oldest first.
func Seed(marketID int64, ticks []*models.Tick) *models.EWMAState {
	state := &models.EWMAState{MarketID: marketID}
	for _, tick := range ticks {
		Apply(state, tick)
	}
	return state
}
