package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the normalized bid/ask snapshot returned by all providers.
type Quote struct {
	Timestamp time.Time       `json:"timestamp"`
	BidPrice  decimal.Decimal `json:"bid_price"`
	BidSize   int64           `json:"bid_size"`
	AskPrice  decimal.Decimal `json:"ask_price"`
	AskSize   int64           `json:"ask_size"`
	Source    string          `json:"source,omitempty"`
}

// Spread is ask minus bid for this quote.
func (q Quote) Spread() decimal.Decimal {
	return q.AskPrice.Sub(q.BidPrice)
}

// RelativeSpread is 2*(ask-bid)/(ask+bid), zero when the midpoint
// denominator is zero.
func (q Quote) RelativeSpread() decimal.Decimal {
	sum := q.AskPrice.Add(q.BidPrice)
	if sum.IsZero() {
		return decimal.Zero
	}
	return q.AskPrice.Sub(q.BidPrice).Mul(decimal.NewFromInt(2)).Div(sum)
}

// Window is the trading-session interval to fetch, [Open, Close) in UTC.
type Window struct {
	Date  string // YYYY-MM-DD
	Open  time.Time
	Close time.Time
}

type Provider interface {
	Name() string
	Fetch(ctx context.Context, symbol string, w Window) ([]Quote, error)
}

// ValidationError rejects a unit of work before any provider call:
// unknown symbol, malformed or non-trading date range.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// RetrievalError wraps a failed or malformed provider response for one
// (symbol, date) unit of work.
type RetrievalError struct {
	Provider string
	Symbol   string
	Date     string
	Err      error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("%s: fetch %s %s: %v", e.Provider, e.Symbol, e.Date, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }
