package common

import (
	"testing"
	"time"
)

func TestEpochToMillis(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want int64
	}{
		{"seconds", 1700000000, 1700000000000},
		{"milliseconds", 1700000000000, 1700000000000},
		{"fractional seconds", 1700000000.5, 1700000000500},
		{"zero", 0, 0},
		{"negative", -5, 0},
		{"boundary below", 999999999999, 999999999999000},
		{"boundary at", 1e12, 1000000000000},
	}
	for _, tt := range tests {
		if got := EpochToMillis(tt.in); got != tt.want {
			t.Errorf("%s: EpochToMillis(%v) = %d, want %d", tt.name, tt.in, got, tt.want)
		}
	}
}

func TestMillisToTime(t *testing.T) {
	ms := int64(1700000000000)
	got := MillisToTime(ms)
	want := time.Unix(1700000000, 0).UTC()
	if !got.Equal(want) {
		t.Errorf("MillisToTime(%d) = %v, want %v", ms, got, want)
	}
}

func TestNowMillis(t *testing.T) {
	before := time.Now().UnixMilli()
	got := NowMillis()
	after := time.Now().UnixMilli()
	if got < before || got > after {
		t.Errorf("NowMillis() = %d outside [%d, %d]", got, before, after)
	}
}
