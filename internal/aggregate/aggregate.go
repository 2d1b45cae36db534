package aggregate

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"etfspread/internal/provider"
)

// BucketStats holds the spread statistics for one bucket, or for the whole
// session. A bucket with no quotes carries a nil *BucketStats, never a
// zero-valued one.
type BucketStats struct {
	Count              int             `json:"count"`
	MeanSpread         decimal.Decimal `json:"mean_spread"`
	MedianSpread       decimal.Decimal `json:"median_spread"`
	SizeWeightedSpread decimal.Decimal `json:"size_weighted_spread"`
	MeanRelativeSpread decimal.Decimal `json:"mean_relative_spread"`
}

// Bucket is a fixed-width interval [Start, End) within the session.
type Bucket struct {
	Start time.Time    `json:"start"`
	End   time.Time    `json:"end"`
	Stats *BucketStats `json:"stats"`
}

// TimeAveragedPoint is one interval of the sample-and-hold time-weighted
// series, indexed at the interval midpoint.
type TimeAveragedPoint struct {
	Start          time.Time       `json:"start"`
	Mid            time.Time       `json:"mid"`
	Bid            decimal.Decimal `json:"bid"`
	Ask            decimal.Decimal `json:"ask"`
	RelativeSpread decimal.Decimal `json:"relative_spread"`
}

// Anomalies counts quotes excluded from aggregation.
type Anomalies struct {
	Crossed      int `json:"crossed"`
	NegativeSize int `json:"negative_size"`
}

func (a Anomalies) Total() int { return a.Crossed + a.NegativeSize }

// Session is the full set of buckets for one ETF on one trading day.
// Read-only once built.
type Session struct {
	Symbol         string              `json:"symbol"`
	Date           string              `json:"date"`
	Open           time.Time           `json:"open"`
	Close          time.Time           `json:"close"`
	BucketWidthSec int64               `json:"bucket_width_sec"`
	Buckets        []Bucket            `json:"buckets"`
	TimeAveraged   []TimeAveragedPoint `json:"time_averaged,omitempty"`
	// Totals is the whole-session reduction over all valid quotes,
	// computed independently of bucketing. Nil when no quote survived
	// validation.
	Totals    *BucketStats `json:"totals"`
	Anomalies Anomalies    `json:"anomalies"`
	Source    string       `json:"source,omitempty"`
	RunID     string       `json:"run_id,omitempty"`
}

// Validate drops data-quality anomalies: quotes with ask < bid and quotes
// with a negative size. Anomalies are counted, not fatal.
func Validate(quotes []provider.Quote, lg *zap.Logger) ([]provider.Quote, Anomalies) {
	if lg == nil {
		lg = zap.NewNop()
	}
	var an Anomalies
	valid := make([]provider.Quote, 0, len(quotes))
	for _, q := range quotes {
		if q.BidSize < 0 || q.AskSize < 0 {
			an.NegativeSize++
			lg.Debug("dropping quote with negative size",
				zap.Time("timestamp", q.Timestamp),
				zap.Int64("bid_size", q.BidSize),
				zap.Int64("ask_size", q.AskSize))
			continue
		}
		if q.AskPrice.LessThan(q.BidPrice) {
			an.Crossed++
			lg.Debug("dropping crossed quote",
				zap.Time("timestamp", q.Timestamp),
				zap.String("bid", q.BidPrice.String()),
				zap.String("ask", q.AskPrice.String()))
			continue
		}
		valid = append(valid, q)
	}
	return valid, an
}

// Build partitions quotes into fixed-width buckets spanning w and computes
// per-bucket and whole-session statistics. Bucket assignment is
// left-inclusive/right-exclusive; quotes outside [Open, Close) are ignored.
// Deterministic for a given input and width. An empty input yields a
// session whose buckets are all empty.
func Build(symbol string, w provider.Window, width time.Duration, quotes []provider.Quote, lg *zap.Logger) Session {
	if lg == nil {
		lg = zap.NewNop()
	}

	s := Session{
		Symbol:         symbol,
		Date:           w.Date,
		Open:           w.Open,
		Close:          w.Close,
		BucketWidthSec: int64(width / time.Second),
	}
	span := w.Close.Sub(w.Open)
	if width <= 0 || span <= 0 {
		return s
	}

	valid, an := Validate(quotes, lg)
	s.Anomalies = an
	if an.Total() > 0 {
		lg.Warn("excluded data-quality anomalies",
			zap.String("symbol", symbol),
			zap.String("date", w.Date),
			zap.Int("crossed", an.Crossed),
			zap.Int("negative_size", an.NegativeSize))
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Timestamp.Before(valid[j].Timestamp)
	})

	n := int((span + width - 1) / width)
	byBucket := make([][]provider.Quote, n)
	inSession := make([]provider.Quote, 0, len(valid))
	for _, q := range valid {
		if q.Timestamp.Before(w.Open) || !q.Timestamp.Before(w.Close) {
			continue
		}
		idx := int(q.Timestamp.Sub(w.Open) / width)
		byBucket[idx] = append(byBucket[idx], q)
		inSession = append(inSession, q)
	}

	s.Buckets = make([]Bucket, n)
	for i := range s.Buckets {
		start := w.Open.Add(time.Duration(i) * width)
		s.Buckets[i] = Bucket{
			Start: start,
			End:   start.Add(width),
			Stats: Stats(byBucket[i]),
		}
	}

	s.Totals = Stats(inSession)
	s.TimeAveraged = timeAveragedSeries(w.Open, width, span, inSession)
	return s
}

// Stats reduces a set of quotes to spread statistics. Returns nil for an
// empty set.
func Stats(quotes []provider.Quote) *BucketStats {
	if len(quotes) == 0 {
		return nil
	}
	count := decimal.NewFromInt(int64(len(quotes)))

	spreads := make([]decimal.Decimal, 0, len(quotes))
	sum := decimal.Zero
	relSum := decimal.Zero
	weighted := decimal.Zero
	weight := decimal.Zero
	for _, q := range quotes {
		sp := q.Spread()
		spreads = append(spreads, sp)
		sum = sum.Add(sp)
		relSum = relSum.Add(q.RelativeSpread())
		size := decimal.NewFromInt(q.BidSize + q.AskSize)
		weighted = weighted.Add(sp.Mul(size))
		weight = weight.Add(size)
	}

	st := &BucketStats{
		Count:              len(quotes),
		MeanSpread:         sum.Div(count),
		MedianSpread:       median(spreads),
		MeanRelativeSpread: relSum.Div(count),
	}
	if weight.IsZero() {
		// All sizes zero: fall back to the unweighted mean.
		st.SizeWeightedSpread = st.MeanSpread
	} else {
		st.SizeWeightedSpread = weighted.Div(weight)
	}
	return st
}

func median(xs []decimal.Decimal) decimal.Decimal {
	sorted := make([]decimal.Decimal, len(xs))
	copy(sorted, xs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}

func timeAveragedSeries(open time.Time, width, span time.Duration, quotes []provider.Quote) []TimeAveragedPoint {
	if len(quotes) == 0 {
		return nil
	}
	samples := make([]Sample, 0, len(quotes))
	for _, q := range quotes {
		samples = append(samples, Sample{Offset: q.Timestamp.Sub(open)})
	}
	bids := samples
	asks := make([]Sample, len(samples))
	rels := make([]Sample, len(samples))
	copy(asks, samples)
	copy(rels, samples)
	for i, q := range quotes {
		bids[i].Value = q.BidPrice
		asks[i].Value = q.AskPrice
		rels[i].Value = q.RelativeSpread()
	}

	avgBid := TimeWeightedAverages(bids, width, span)
	avgAsk := TimeWeightedAverages(asks, width, span)
	avgRel := TimeWeightedAverages(rels, width, span)

	out := make([]TimeAveragedPoint, len(avgBid))
	for i := range out {
		start := open.Add(time.Duration(i) * width)
		out[i] = TimeAveragedPoint{
			Start:          start,
			Mid:            start.Add(width / 2),
			Bid:            avgBid[i],
			Ask:            avgAsk[i],
			RelativeSpread: avgRel[i],
		}
	}
	return out
}
