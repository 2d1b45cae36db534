package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"
)

type bar struct {
	Timestamp string      `json:"t"`
	Volume    json.Number `json:"v"`
}

type barsResponse struct {
	Symbol        string  `json:"symbol"`
	Bars          []bar   `json:"bars"`
	NextPageToken *string `json:"next_page_token"`
}

// AverageDailyVolume returns the mean daily share volume for symbol over
// [start, end] (dates, inclusive). Zero with no error when the range holds
// no bars.
func (c *Client) AverageDailyVolume(ctx context.Context, symbol, start, end string) (decimal.Decimal, error) {
	query := url.Values{}
	query.Set("timeframe", "1Day")
	query.Set("start", start)
	query.Set("end", end)
	query.Set("limit", "1000")
	u := fmt.Sprintf("%s/v2/stocks/%s/bars?%s", c.dataURL, symbol, query.Encode())

	var body barsResponse
	if err := c.getJSON(ctx, u, &body); err != nil {
		return decimal.Zero, fmt.Errorf("bars %s: %w", symbol, err)
	}
	if len(body.Bars) == 0 {
		return decimal.Zero, nil
	}

	total := decimal.Zero
	for _, b := range body.Bars {
		v, err := decimal.NewFromString(b.Volume.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("bars %s: decoding volume %q: %w", symbol, b.Volume, err)
		}
		total = total.Add(v)
	}
	return total.Div(decimal.NewFromInt(int64(len(body.Bars)))), nil
}
