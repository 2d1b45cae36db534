package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"etfspread/internal/provider"
)

// quote is one record from the v2 stock quotes endpoint.
type quote struct {
	Timestamp string      `json:"t"`
	AskPrice  json.Number `json:"ap"`
	AskSize   int64       `json:"as"`
	BidPrice  json.Number `json:"bp"`
	BidSize   int64       `json:"bs"`
}

type quotesResponse struct {
	Symbol        string  `json:"symbol"`
	Quotes        []quote `json:"quotes"`
	NextPageToken *string `json:"next_page_token"`
}

// Fetch retrieves all quotes for symbol within w, following page tokens
// until the response is exhausted or the page cap is reached.
// Returned quotes are ordered by timestamp ascending.
func (c *Client) Fetch(ctx context.Context, symbol string, w provider.Window) ([]provider.Quote, error) {
	fail := func(err error) ([]provider.Quote, error) {
		return nil, &provider.RetrievalError{Provider: c.Name(), Symbol: symbol, Date: w.Date, Err: err}
	}

	out := make([]provider.Quote, 0, c.pageLimit)
	token := ""
	pages := 0
	for {
		if pages >= c.maxPages {
			return fail(fmt.Errorf("page cap reached after %d pages (%d quotes)", pages, len(out)))
		}
		pages++

		resp, err := c.quotesPage(ctx, symbol, w, token)
		if err != nil {
			return fail(err)
		}
		for _, r := range resp.Quotes {
			q, err := r.normalize(c.Name())
			if err != nil {
				return fail(err)
			}
			if !q.Timestamp.Before(w.Close) {
				continue
			}
			out = append(out, q)
		}
		if resp.NextPageToken == nil || *resp.NextPageToken == "" {
			break
		}
		token = *resp.NextPageToken
	}
	return out, nil
}

func (c *Client) quotesPage(ctx context.Context, symbol string, w provider.Window, token string) (*quotesResponse, error) {
	query := url.Values{}
	query.Set("start", w.Open.Format(time.RFC3339Nano))
	query.Set("end", w.Close.Format(time.RFC3339Nano))
	query.Set("limit", strconv.Itoa(c.pageLimit))
	if token != "" {
		query.Set("page_token", token)
	}

	u := fmt.Sprintf("%s/v2/stocks/%s/quotes?%s", c.dataURL, symbol, query.Encode())
	var body quotesResponse
	if err := c.getJSON(ctx, u, &body); err != nil {
		return nil, err
	}
	return &body, nil
}

func (q quote) normalize(source string) (provider.Quote, error) {
	ts, err := time.Parse(time.RFC3339Nano, q.Timestamp)
	if err != nil {
		return provider.Quote{}, fmt.Errorf("decoding timestamp %q: %w", q.Timestamp, err)
	}
	bid, err := decimal.NewFromString(q.BidPrice.String())
	if err != nil {
		return provider.Quote{}, fmt.Errorf("decoding bid price %q: %w", q.BidPrice, err)
	}
	ask, err := decimal.NewFromString(q.AskPrice.String())
	if err != nil {
		return provider.Quote{}, fmt.Errorf("decoding ask price %q: %w", q.AskPrice, err)
	}
	return provider.Quote{
		Timestamp: ts.UTC(),
		BidPrice:  bid,
		BidSize:   q.BidSize,
		AskPrice:  ask,
		AskSize:   q.AskSize,
		Source:    source,
	}, nil
}

// getJSON performs an authenticated GET and decodes the JSON body.
func (c *Client) getJSON(ctx context.Context, u string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.header.Clone()
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusUnauthorized:
		return fmt.Errorf("unauthorized")
	case http.StatusTooManyRequests:
		return fmt.Errorf("rate limited")
	default:
		b, _ := io.ReadAll(io.LimitReader(res.Body, 2<<10))
		return fmt.Errorf("unexpected status code %d: %s", res.StatusCode, string(b))
	}

	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
