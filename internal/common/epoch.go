// Package common provides shared utilities for Pulse
package common

import (
	"math"
	"time"
)

// Epoch values below this are seconds; at or above, milliseconds.
// Millisecond epochs passed 1e12 in 2001, second epochs reach it in
// the year 33658, so the boundary is unambiguous for live data.
const epochMillisBoundary = 1e12

// EpochToMillis normalizes an epoch reported in either seconds or
// milliseconds to milliseconds. Non-positive inputs return 0.
func EpochToMillis(v float64) int64 {
	if v <= 0 {
		return 0
	}
	if v < epochMillisBoundary {
		v *= 1000
	}
	return int64(math.Round(v))
}

// NowMillis returns the current wall clock as a millisecond epoch.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// MillisToTime converts a millisecond epoch to a time.Time in UTC.
func MillisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
