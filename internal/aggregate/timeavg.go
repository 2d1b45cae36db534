package aggregate

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sample is one observation of a step series: the value holds from Offset
// until the next sample.
type Sample struct {
	Offset time.Duration
	Value  decimal.Decimal
}

// TimeWeightedAverages averages a step series onto a fixed grid of
// width-sized intervals covering [0, span). Samples must be ordered by
// Offset ascending; the first value is held from offset zero. Intervals
// after the last sample are filled with its value. Samples beyond span are
// ignored. Returns one average per interval, nil for an empty series.
func TimeWeightedAverages(samples []Sample, width, span time.Duration) []decimal.Decimal {
	if len(samples) == 0 || width <= 0 || span <= 0 {
		return nil
	}
	n := int((span + width - 1) / width)
	avg := make([]decimal.Decimal, n)
	widthDec := decimal.NewFromInt(int64(width))

	contribute := func(i int, dt time.Duration, v decimal.Decimal) {
		if dt <= 0 {
			return
		}
		avg[i] = avg[i].Add(v.Mul(decimal.NewFromInt(int64(dt))).Div(widthDec))
	}

	idx := 0
	higher := width
	prevTime := time.Duration(0)
	prevVal := samples[0].Value

	for _, s := range samples {
		if s.Offset > span {
			break
		}
		// close out full intervals the series skipped over
		for s.Offset > higher {
			contribute(idx, higher-prevTime, prevVal)
			idx++
			prevTime = higher
			higher += width
		}
		contribute(idx, s.Offset-prevTime, prevVal)
		prevTime = s.Offset
		prevVal = s.Value
	}

	// finish the interval holding the last sample
	if idx < n {
		contribute(idx, higher-prevTime, prevVal)
		idx++
	}
	// hold the last value through any trailing intervals
	for ; idx < n; idx++ {
		avg[idx] = prevVal
	}
	return avg
}
