// Package models defines data structures for Pulse
package models

import (
	"fmt"
)

// Market type values as reported by the venue catalog.
const (
	// MarketTypeMultiParent marks a multi-outcome topic that groups child markets.
	MarketTypeMultiParent = 1
)

// Stream is a tracked market descriptor produced by the catalog walker.
// It is keyed by MarketID; multi-outcome parents carry a synthetic
// placeholder token so a single table holds both kinds.
type Stream struct {
	MarketID       int64  `json:"market_id"`
	YesTokenID     string `json:"yes_token_id"`
	Title          string `json:"title"`
	ParentMarketID int64  `json:"parent_market_id,omitempty"` // 0 when not a child
	TopicID        string `json:"topic_id,omitempty"`
	MarketType     int    `json:"market_type,omitempty"`
	ChainID        int64  `json:"chain_id,omitempty"`
	CutoffAt       int64  `json:"cutoff_at,omitempty"` // ms epoch, 0 when unknown
	UpdatedAt      int64  `json:"updated_at"`          // ms epoch of last catalog reconcile
}

// MultiParentTokenID returns the synthetic token placeholder for a
// multi-outcome parent that has no tradable YES token of its own.
func MultiParentTokenID(marketID int64) string {
	return fmt.Sprintf("multi-parent-%d", marketID)
}

// IsMultiParent reports whether the stream is a multi-outcome parent.
func (s *Stream) IsMultiParent() bool {
	return s.MarketType == MarketTypeMultiParent
}

// IsChild reports whether the stream belongs to a multi-outcome parent.
func (s *Stream) IsChild() bool {
	return s.ParentMarketID != 0
}

// Per-market retention bounds for the tick tiers and the alert history.
const (
	RawTickRetention      = 400
	FilteredTickRetention = 120
	AlertEventRetention   = 500
)

// Tick is one sampled observation for a market. Volume is the cumulative
// traded volume as reported upstream; DeltaVolume is the non-negative
// increment since the previous raw tick for the same market.
type Tick struct {
	MarketID    int64   `json:"market_id" badgerhold:"index"`
	TS          int64   `json:"ts"` // ms epoch
	YesPrice    float64 `json:"yes_price"`
	Volume      float64 `json:"volume"`
	DeltaVolume float64 `json:"delta_volume"`
}

// EWMAState holds the online estimator moments for one market.
// A zero TickCount marks the uninitialized sentinel.
type EWMAState struct {
	MarketID   int64   `json:"market_id"`
	PriceMean  float64 `json:"price_mean"`
	PriceVar   float64 `json:"price_var"`
	VolumeMean float64 `json:"volume_mean"`
	VolumeVar  float64 `json:"volume_var"`
	LastPrice  float64 `json:"last_price"` // price of the last consumed tick, not the mean
	TickCount  int     `json:"tick_count"`
	UpdatedAt  int64   `json:"updated_at"` // ms epoch
}

// AlertState tracks per-market cooldown and duplicate suppression.
type AlertState struct {
	MarketID      int64  `json:"market_id"`
	LastAlertAt   int64  `json:"last_alert_at,omitempty"` // ms epoch, 0 when never alerted
	LastAlertHash string `json:"last_alert_hash,omitempty"`
}

// Detection carries the detector's verdict for a triggering tick.
type Detection struct {
	PriceZ            float64 `json:"price_z"`
	VolumeZ           float64 `json:"volume_z"`
	AdjustedScore     float64 `json:"adjusted_score"`
	PriceChange       float64 `json:"price_change"`
	PrevPrice         float64 `json:"prev_price"`
	AdaptiveThreshold float64 `json:"adaptive_threshold"`
}

// Hash derives the duplicate-suppression key for an alert. Identical
// (market, score, magnitude) tuples within the duplicate window are
// considered the same alert.
func (d *Detection) Hash(marketID int64) string {
	change := d.PriceChange
	if change < 0 {
		change = -change
	}
	return fmt.Sprintf("%d:%.2f:%.3f", marketID, d.AdjustedScore, change)
}

// AlertEvent is one successfully delivered notification, kept as bounded
// history for the status surface.
type AlertEvent struct {
	ID          string  `json:"id" badgerhold:"key"`
	MarketID    int64   `json:"market_id" badgerhold:"index"`
	Title       string  `json:"title"`
	Score       float64 `json:"score"`
	PriceZ      float64 `json:"price_z"`
	VolumeZ     float64 `json:"volume_z"`
	PriceChange float64 `json:"price_change"`
	Price       float64 `json:"price"`
	DeltaVolume float64 `json:"delta_volume"`
	SentAt      int64   `json:"sent_at" badgerhold:"index"` // ms epoch
}
