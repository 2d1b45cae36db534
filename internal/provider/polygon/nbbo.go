package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"etfspread/internal/provider"
)

// tick is one NBBO record from the v2 historic quotes endpoint.
// Lower-case fields are the bid side, upper-case the ask side.
type tick struct {
	SIPTimestamp int64       `json:"t"` // ns since epoch
	BidPrice     json.Number `json:"p"`
	BidSize      int64       `json:"s"`
	AskPrice     json.Number `json:"P"`
	AskSize      int64       `json:"S"`
}

type ticksResponse struct {
	Ticker       string `json:"ticker"`
	Success      bool   `json:"success"`
	ResultsCount int    `json:"results_count"`
	Results      []tick `json:"results"`
}

// Fetch retrieves all NBBO ticks for symbol within w, paginating with the
// timestamp cursor until the session close or the page cap is reached.
// Returned quotes are ordered by timestamp ascending.
func (c *Client) Fetch(ctx context.Context, symbol string, w provider.Window) ([]provider.Quote, error) {
	fail := func(err error) ([]provider.Quote, error) {
		return nil, &provider.RetrievalError{Provider: c.Name(), Symbol: symbol, Date: w.Date, Err: err}
	}

	stop := w.Close.UnixNano()
	cursor := w.Open.UnixNano()
	out := make([]provider.Quote, 0, c.pageLimit)

	pages := 0
	for cursor < stop {
		if pages >= c.maxPages {
			return fail(fmt.Errorf("page cap reached after %d pages (%d ticks)", pages, len(out)))
		}
		pages++

		if c.pace != nil {
			if err := c.pace.Wait(ctx); err != nil {
				return fail(err)
			}
		}

		resp, err := c.page(ctx, symbol, w.Date, cursor)
		if err != nil {
			return fail(err)
		}
		if !resp.Success {
			return fail(fmt.Errorf("response marked as failure at cursor %d", cursor))
		}
		if len(resp.Results) == 0 {
			break
		}

		for _, t := range resp.Results {
			if t.SIPTimestamp >= stop {
				continue
			}
			q, err := t.quote(c.Name())
			if err != nil {
				return fail(err)
			}
			out = append(out, q)
		}

		last := resp.Results[len(resp.Results)-1].SIPTimestamp
		if last <= cursor {
			break
		}
		cursor = last
		if len(resp.Results) < c.pageLimit {
			break
		}
	}
	return out, nil
}

func (c *Client) page(ctx context.Context, symbol, date string, cursor int64) (*ticksResponse, error) {
	query := maps.Clone(c.query)
	query.Set("timestamp", strconv.FormatInt(cursor, 10))
	query.Set("limit", strconv.Itoa(c.pageLimit))

	url := fmt.Sprintf("%s/v2/ticks/stocks/nbbo/%s/%s?%s", c.baseURL, symbol, date, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.header.Clone()
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		return nil, fmt.Errorf("unauthorized")
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("rate limited")
	default:
		b, _ := io.ReadAll(io.LimitReader(res.Body, 2<<10))
		return nil, fmt.Errorf("unexpected status code %d: %s", res.StatusCode, string(b))
	}

	var body ticksResponse
	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding ticks response: %w", err)
	}
	return &body, nil
}

func (t tick) quote(source string) (provider.Quote, error) {
	bid, err := decimal.NewFromString(t.BidPrice.String())
	if err != nil {
		return provider.Quote{}, fmt.Errorf("decoding bid price %q: %w", t.BidPrice, err)
	}
	ask, err := decimal.NewFromString(t.AskPrice.String())
	if err != nil {
		return provider.Quote{}, fmt.Errorf("decoding ask price %q: %w", t.AskPrice, err)
	}
	return provider.Quote{
		Timestamp: time.Unix(0, t.SIPTimestamp).UTC(),
		BidPrice:  bid,
		BidSize:   t.BidSize,
		AskPrice:  ask,
		AskSize:   t.AskSize,
		Source:    source,
	}, nil
}
