package aggregate

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Combined is the cross-day view: the mean time-averaged relative spread
// per session offset, per symbol, averaged over every session present.
// Offsets are midpoints in seconds after the session open. A nil entry
// means no session had data for that interval.
type Combined struct {
	BucketWidthSec int64                         `json:"bucket_width_sec"`
	OffsetsSec     []int64                       `json:"offsets_sec"`
	Symbols        map[string][]*decimal.Decimal `json:"symbols"`
	Dates          []string                      `json:"dates"`
}

// Combine reduces sessions of equal bucket width into a Combined view.
// Sessions with a different width than the first are skipped.
func Combine(sessions []Session) Combined {
	out := Combined{Symbols: map[string][]*decimal.Decimal{}}
	if len(sessions) == 0 {
		return out
	}
	out.BucketWidthSec = sessions[0].BucketWidthSec
	width := time.Duration(out.BucketWidthSec) * time.Second

	type acc struct {
		sum   decimal.Decimal
		count int64
	}
	bySymbol := map[string][]acc{}
	dates := map[string]struct{}{}
	maxLen := 0

	for _, s := range sessions {
		if s.BucketWidthSec != out.BucketWidthSec {
			continue
		}
		dates[s.Date] = struct{}{}
		grid := bySymbol[s.Symbol]
		if len(s.TimeAveraged) > len(grid) {
			grown := make([]acc, len(s.TimeAveraged))
			copy(grown, grid)
			grid = grown
		}
		for i, p := range s.TimeAveraged {
			grid[i].sum = grid[i].sum.Add(p.RelativeSpread)
			grid[i].count++
		}
		bySymbol[s.Symbol] = grid
		if len(grid) > maxLen {
			maxLen = len(grid)
		}
	}

	out.OffsetsSec = make([]int64, maxLen)
	for i := range out.OffsetsSec {
		mid := time.Duration(i)*width + width/2
		out.OffsetsSec[i] = int64(mid / time.Second)
	}

	for sym, grid := range bySymbol {
		row := make([]*decimal.Decimal, maxLen)
		for i := range grid {
			if grid[i].count == 0 {
				continue
			}
			mean := grid[i].sum.Div(decimal.NewFromInt(grid[i].count))
			row[i] = &mean
		}
		out.Symbols[sym] = row
	}

	out.Dates = make([]string, 0, len(dates))
	for d := range dates {
		out.Dates = append(out.Dates, d)
	}
	sort.Strings(out.Dates)
	return out
}
