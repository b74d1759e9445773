package notify

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/bobmcallan/pulse/internal/models"
)

// ErrNotEnoughData marks a market with too little history to chart.
var ErrNotEnoughData = errors.New("not enough tick history to chart")

// RenderPriceChart renders a PNG line chart of the YES price over the
// market's recent raw history. Ticks must be in chronological order.
// Returns raw PNG bytes.
func RenderPriceChart(title string, ticks []*models.Tick) ([]byte, error) {
	if len(ticks) < 2 {
		return nil, ErrNotEnoughData
	}

	xValues := make([]time.Time, len(ticks))
	yValues := make([]float64, len(ticks))
	for i, t := range ticks {
		xValues[i] = time.UnixMilli(t.TS)
		yValues[i] = t.YesPrice
	}

	priceSeries := chart.TimeSeries{
		Name: "YES price",
		Style: chart.Style{
			StrokeColor: drawing.ColorFromHex("2563eb"), // blue-600
			StrokeWidth: 2.0,
		},
		XValues: xValues,
		YValues: yValues,
	}

	graph := chart.Chart{
		Title:  title,
		Width:  900,
		Height: 400,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		XAxis: chart.XAxis{
			TickPosition: chart.TickPositionBetweenTicks,
			ValueFormatter: func(v interface{}) string {
				if t, ok := v.(float64); ok {
					return chart.TimeFromFloat64(t).Format("15:04")
				}
				return ""
			},
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.2f", f)
				}
				return ""
			},
		},
		Series: []chart.Series{
			priceSeries,
		},
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("chart render failed: %w", err)
	}

	return buf.Bytes(), nil
}
